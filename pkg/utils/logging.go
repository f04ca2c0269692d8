package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
)

// InitLogging sends the global logger to a rotating file in dir and,
// optionally, to stderr as well.
func InitLogging(dir string, console bool) error {
	logFile := filepath.Join(dir, config.LogFilename)

	err := os.MkdirAll(filepath.Dir(logFile), 0755)
	if err != nil {
		return err
	}

	writers := []io.Writer{&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    1,
		MaxBackups: 2,
	}}

	if console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	log.Logger = log.Output(io.MultiWriter(writers...))

	return nil
}
