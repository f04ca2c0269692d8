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

package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/session"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const queueSize = 32

type Args struct {
	Config  *config.UserConfig
	Backend readers.Backend
	// DataDir holds the history database.
	DataDir string
}

// Service runs a continuous read session against one backend, records
// every new scan in the history database and serves the API.
type Service struct {
	cfg    *config.UserConfig
	client *nfc.Client
	db     *database.Database
	srv    *api.Server
	st     *State
	tq     *tokens.TokenQueue
	cancel context.CancelFunc
	g      *errgroup.Group
}

func New(args Args) (*Service, error) {
	cfg := args.Config

	log.Info().Msgf("%s v%s", config.AppName, config.Version)
	log.Info().Msgf("config path = %s", cfg.IniPath)
	log.Info().Msgf("poll_interval = %s", cfg.GetPollInterval())
	log.Info().Msgf("preferred_reader = %s", cfg.GetPreferredReader())
	log.Info().Msgf("api port = %s, enabled = %t", cfg.GetApiPort(), cfg.GetApiEnabled())
	log.Info().Msgf("debug = %t", cfg.GetDebug())

	log.Debug().Msg("opening database")
	db, err := database.Open(args.DataDir)
	if err != nil {
		log.Error().Err(err).Msgf("error opening database")
		return nil, err
	}

	s := &Service{
		cfg: cfg,
		db:  db,
		st:  NewState(),
		tq:  tokens.NewTokenQueue(queueSize),
	}

	s.client = nfc.NewClient(args.Backend, session.Options{
		Interval: cfg.GetPollInterval(),
	})

	s.srv = api.NewServer(api.ServerArgs{
		Config:   cfg,
		Client:   s.client,
		Database: db,
		State:    s.st,
		OnToken:  s.enqueue,
	})

	return s, nil
}

func (s *Service) Client() *nfc.Client {
	return s.client
}

func (s *Service) State() *State {
	return s.st
}

// enqueue is the session callback. It must not block the poll loop, so a
// full queue drops the token.
func (s *Service) enqueue(t tokens.Token) {
	if !s.tq.TryEnqueue(t) {
		log.Warn().Msgf("token queue full, dropping scan of %s", t.UID)
	}
}

const minDedupeWindow = 100 * time.Millisecond

// dedupeWindow is how long a tag may go unseen before reading it again
// counts as a new scan.
func (s *Service) dedupeWindow() time.Duration {
	w := 3 * s.client.Session().Interval()
	if w < minDedupeWindow {
		return minDedupeWindow
	}
	return w
}

func (s *Service) processToken(t tokens.Token) {
	if !s.st.Seen(t, time.Now(), s.dedupeWindow()) {
		log.Debug().Msg("ignoring duplicate scan")
		return
	}

	log.Info().Msgf("new token scanned on %s: %s", t.Reader, t.UID)

	_, err := s.db.AddHistory(database.EntryFromToken(database.SourceSession, t))
	if err != nil {
		log.Error().Err(err).Msgf("error adding history")
	}

	s.srv.Notify(models.NewTagDetected(t))
}

func (s *Service) processQueue(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-s.tq.Tokens:
			s.processToken(t)
		}
	}
}

func (s *Service) onReload(cfg *config.UserConfig) {
	s.client.Session().SetInterval(cfg.GetPollInterval())
	log.Info().Msgf("poll interval for new sessions set to %s", cfg.GetPollInterval())
}

// Start launches the background workers and, if configured, continuous
// reading. It returns without waiting for them.
func (s *Service) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.g = g

	g.Go(func() error {
		return s.processQueue(ctx)
	})

	if s.cfg.IniPath != "" {
		g.Go(func() error {
			err := s.cfg.Watch(ctx, s.onReload)
			if err != nil {
				// losing reloads is not worth taking the service down
				log.Error().Err(err).Msg("error watching config")
			}
			return nil
		})
	}

	if s.cfg.GetApiEnabled() {
		addr := ":" + s.cfg.GetApiPort()
		g.Go(func() error {
			err := s.srv.Serve(ctx, addr)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("error running api server")
				return err
			}
			return nil
		})

		if s.cfg.GetAdvertise() {
			port, err := strconv.Atoi(s.cfg.GetApiPort())
			if err != nil {
				log.Error().Err(err).Msg("invalid api port, not advertising")
			} else if unadvertise, err := api.Advertise(port); err != nil {
				log.Error().Err(err).Msg("error advertising api")
			} else {
				g.Go(func() error {
					<-ctx.Done()
					unadvertise()
					return nil
				})
			}
		}
	}

	if s.cfg.GetContinuousRead() {
		_, err := s.client.StartContinuousRead(s.enqueue)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}

	return nil
}

// Stop ends continuous reading, waits for the workers and releases the
// backend and database.
func (s *Service) Stop() error {
	log.Info().Msg("stopping service")

	// no more tokens are enqueued once the poll loop has exited
	s.client.Session().StopAndWait()

	var errs []error
	if s.cancel != nil {
		s.cancel()
		errs = append(errs, s.g.Wait())
	}

	errs = append(errs, s.client.Close(), s.db.Close())

	return errors.Join(errs...)
}

// Start creates and starts a service, returning a function which stops it.
func Start(cfg *config.UserConfig, backend readers.Backend, dataDir string) (func() error, error) {
	s, err := New(Args{
		Config:  cfg,
		Backend: backend,
		DataDir: dataDir,
	})
	if err != nil {
		return nil, err
	}

	err = s.Start()
	if err != nil {
		_ = s.client.Close()
		_ = s.db.Close()
		return nil, err
	}

	return s.Stop, nil
}
