package methods

import (
	"fmt"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
)

func HandleVersion(env requests.RequestEnv) (any, error) {
	return models.VersionResponse{
		Version: config.Version,
		Backend: fmt.Sprintf("%T", env.Client.Backend()),
	}, nil
}
