package methods

import (
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
)

func HandleStatus(env requests.RequestEnv) (any, error) {
	resp := models.StatusResponse{
		Session: sessionStatus(env),
	}

	if env.State == nil {
		return resp, nil
	}

	resp.ActiveCard = env.State.GetActiveCard()
	if last := env.State.GetLastScanned(); !last.Empty() {
		resp.LastScanned = &last
	}

	return resp, nil
}
