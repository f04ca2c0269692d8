package methods

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
)

var ErrNoTokenHandler = errors.New("continuous reading is not available")

func sessionStatus(env requests.RequestEnv) models.SessionResponse {
	s := env.Client.Session()
	return models.SessionResponse{
		Active:   s.Active(),
		Interval: int(s.Interval().Milliseconds()),
	}
}

func notify(env requests.RequestEnv, n models.Notification) {
	if env.Notify != nil {
		env.Notify(n)
	}
}

func HandleSessionStart(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received session start request")

	var params models.SessionStartParams
	if err := parseOptionalParams(env, &params); err != nil {
		return nil, err
	}

	if env.OnToken == nil {
		return nil, ErrNoTokenHandler
	}

	s := env.Client.Session()
	if params.Interval != nil {
		if *params.Interval <= 0 {
			return nil, ErrInvalidParams
		}
		if !s.Active() {
			s.SetInterval(time.Duration(*params.Interval) * time.Millisecond)
		}
	}

	_, err := env.Client.StartContinuousRead(env.OnToken)
	if err != nil {
		return nil, err
	}

	status := sessionStatus(env)
	notify(env, models.Notification{
		Method: models.NotificationSessionStarted,
		Params: status,
	})

	return status, nil
}

func HandleSessionStop(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received session stop request")

	wasActive := env.Client.Session().Active()
	env.Client.StopContinuousRead()

	status := sessionStatus(env)
	if wasActive {
		notify(env, models.Notification{
			Method: models.NotificationSessionStopped,
			Params: status,
		})
	}

	return status, nil
}
