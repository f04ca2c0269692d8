/*
TapTo
Copyright (C) 2024 Callan Barrett

This file is part of TapTo.

TapTo is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TapTo is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TapTo.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/cli"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers/mock"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers/pcsc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/service"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/session"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/utils"
)

func newBackend(cfg *config.UserConfig) (readers.Backend, error) {
	if cfg.GetMock() {
		log.Info().Msg("using mock reader backend")
		return mock.NewDemo(), nil
	}

	b, err := pcsc.New(cfg.GetPreferredReader())
	if err != nil {
		return nil, err
	}
	return b, nil
}

func fail(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

// runDaemon runs the service in the foreground until SIGINT or SIGTERM.
func runDaemon(cfg *config.UserConfig, dataDir string) error {
	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}

	stop, err := service.Start(cfg, backend, dataDir)
	if err != nil {
		_ = backend.Close()
		return err
	}

	fmt.Printf("%s v%s\n", config.AppName, config.Version)
	if cfg.GetApiEnabled() {
		fmt.Printf("API address: %s\n", utils.ApiAddress(cfg.GetApiPort()))
	}
	fmt.Println("Press Ctrl+C to exit")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	return stop()
}

func main() {
	fs := flag.CommandLine
	flags := cli.SetupFlags(fs)

	exit, err := flags.Pre(fs, os.Args[1:], os.Stdout)
	if err != nil {
		os.Exit(2)
	} else if exit {
		os.Exit(0)
	}

	cfg, err := config.NewUserConfig(config.Defaults())
	if err != nil {
		fail("Error loading config: %v", err)
	}
	flags.Apply(cfg)
	config.ApplyLogLevel(cfg.GetDebug())

	err = utils.InitLogging(config.TempDir(), cfg.GetConsoleLogging())
	if err != nil {
		fail("Error initializing logging: %v", err)
	}

	dataDir := filepath.Dir(cfg.IniPath)

	if *flags.Service != "" {
		svc := utils.NewService(utils.ServiceArgs{
			Entry: func() (func() error, error) {
				backend, err := newBackend(cfg)
				if err != nil {
					return nil, err
				}
				return service.Start(cfg, backend, dataDir)
			},
			ConfigPath: cfg.IniPath,
		})
		os.Exit(svc.ServiceHandler(*flags.Service))
	}

	handled, err := flags.Post(cfg, dataDir, os.Stdout)
	if err != nil {
		fail("%v", err)
	} else if handled {
		os.Exit(0)
	}

	if *flags.Daemon {
		err := runDaemon(cfg, dataDir)
		if err != nil {
			log.Error().Err(err).Msg("error running service")
			fail("Error running service: %v", err)
		}
		os.Exit(0)
	}

	if !flags.ClientAction() {
		fs.Usage()
		os.Exit(2)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		fail("Error opening reader backend: %v", err)
	}

	client := nfc.NewClient(backend, session.Options{
		Interval: cfg.GetPollInterval(),
	})
	defer func(c *nfc.Client) {
		_ = c.Close()
	}(client)

	err = flags.RunClient(context.Background(), client, cfg, os.Stdout)
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		_ = client.Close()
		fail("Error: %v", err)
	}
}
