package methods

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
)

var ErrNoDatabase = errors.New("history is not available")

func HandleHistory(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received history request")

	if env.Database == nil {
		return nil, ErrNoDatabase
	}

	var params models.HistoryParams
	if err := parseOptionalParams(env, &params); err != nil {
		return nil, err
	}

	limit := database.DefaultHistoryLimit
	if params.Limit != nil {
		limit = *params.Limit
	}

	entries, err := env.Database.GetHistory(limit)
	if err != nil {
		log.Error().Err(err).Msgf("error getting history")
		return nil, errors.New("error getting history")
	}

	return models.HistoryResponse{Entries: entries}, nil
}
