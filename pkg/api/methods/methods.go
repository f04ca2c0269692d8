package methods

import (
	"encoding/json"
	"errors"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
)

var (
	ErrMissingParams = errors.New("missing params")
	ErrInvalidParams = errors.New("invalid params")
	ErrNoReaders     = nfc.ErrNoReaders
)

func parseParams(env requests.RequestEnv, v any) error {
	if len(env.Params) == 0 {
		return ErrMissingParams
	}
	if err := json.Unmarshal(env.Params, v); err != nil {
		return ErrInvalidParams
	}
	return nil
}

// parseOptionalParams is parseParams for methods where every param may be
// omitted.
func parseOptionalParams(env requests.RequestEnv, v any) error {
	if len(env.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Params, v); err != nil {
		return ErrInvalidParams
	}
	return nil
}
