package config

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	Version          = "0.2.0"
	AppName          = "tapto-pcsc"
	DbFilename       = "tapto-pcsc.db"
	LogFilename      = "tapto-pcsc.log"
	PidFilename      = "tapto-pcsc.pid"
	ConfigFilename   = "tapto-pcsc.ini"
	DefaultApiPort   = "7498"
	DefaultPollMs    = 1000
	DefaultPreferred = "*ACR122*"
)

func TempDir() string {
	path := filepath.Join(os.TempDir(), AppName)
	err := os.MkdirAll(path, 0755)
	if err != nil {
		log.Error().Err(err).Msg("error creating temp folder")
	}
	return path
}
