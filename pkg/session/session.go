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

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const DefaultInterval = 1 * time.Second

var (
	ErrAlreadyActive = errors.New("continuous reading is already active")
	ErrNilCallback   = errors.New("callback is required")
)

// Poller is the part of the reader API a session drives on each tick.
type Poller interface {
	ListReaders(ctx context.Context) ([]string, error)
	ReadTag(ctx context.Context, reader string) (*tokens.Token, error)
}

type Callback func(tokens.Token)

type Options struct {
	// Interval between polls. The first poll happens one interval after
	// Start.
	Interval time.Duration
	// OnError receives every per-tick failure in addition to the log.
	OnError func(error)
}

// Handle identifies one started session.
type Handle struct {
	s      *Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop stops the session this handle was returned for. It does nothing if
// that session has already been stopped, even if a newer one is running.
func (h *Handle) Stop() {
	h.s.stop(h)
}

// Done is closed once the poll loop has exited. Do not wait on it from
// inside the callback.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Session polls for tags and hands each detection to a callback. At most
// one poll loop is active per Session.
type Session struct {
	mu       sync.Mutex
	src      Poller
	opts     Options
	active   bool
	callback Callback
	handle   *Handle
	// last is the most recently started handle, kept after Stop so
	// StopAndWait can wait for its loop.
	last *Handle
}

func New(src Poller, opts Options) *Session {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Session{
		src:  src,
		opts: opts,
	}
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetInterval changes the poll interval of sessions started afterwards.
func (s *Session) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Interval = d
}

func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Interval
}

// Start begins polling. It returns ErrAlreadyActive, and leaves the running
// session untouched, if a session is already active.
func (s *Session) Start(cb Callback) (*Handle, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, ErrAlreadyActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		s:      s,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.active = true
	s.callback = cb
	s.handle = h
	s.last = h
	interval := s.opts.Interval
	s.mu.Unlock()

	log.Info().Msgf("starting continuous read, interval %s", interval)
	go s.run(ctx, h, interval)

	return h, nil
}

// Stop ends the active session, if any. It does not wait: a tick that
// passed its active check before Stop took the lock may still be running
// the callback. Wait on the handle's Done, or use StopAndWait, to be sure
// no callback is running. Safe to call from the callback and from OnError.
func (s *Session) Stop() {
	s.stop(nil)
}

// StopAndWait stops the active session and blocks until the poll loop of
// the most recent session has exited. It must not be called from the
// callback or from OnError.
func (s *Session) StopAndWait() {
	s.stop(nil)

	s.mu.Lock()
	h := s.last
	s.mu.Unlock()

	if h != nil {
		<-h.done
	}
}

func (s *Session) stop(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || (h != nil && s.handle != h) {
		return
	}

	s.handle.cancel()
	s.active = false
	s.callback = nil
	s.handle = nil

	log.Info().Msg("stopped continuous read")
}

func (s *Session) current(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.handle == h
}

func (s *Session) run(ctx context.Context, h *Handle, interval time.Duration) {
	defer close(h.done)

	// ticks that fire while a tick is still running are dropped by the
	// ticker, so ticks never overlap
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(ctx, h) {
				return
			}
		}
	}
}

// tick runs one poll. Returns false if the session was stopped.
func (s *Session) tick(ctx context.Context, h *Handle) bool {
	if !s.current(h) {
		log.Debug().Msg("session no longer active, cancelling poll")
		return false
	}

	rs, err := s.src.ListReaders(ctx)
	if err != nil {
		s.report(ctx, err)
		return true
	}

	if len(rs) == 0 {
		return true
	}

	reader := rs[0]
	t, err := s.src.ReadTag(ctx, reader)
	if err != nil {
		s.report(ctx, err)
		return true
	}

	if t.Empty() {
		return true
	}

	s.deliver(h, t.WithReader(reader))

	return true
}

func (s *Session) deliver(h *Handle, t tokens.Token) {
	s.mu.Lock()
	if !s.active || s.handle != h || s.callback == nil {
		s.mu.Unlock()
		log.Debug().Msgf("dropping token %s read after stop", t.UID)
		return
	}
	cb := s.callback
	s.mu.Unlock()

	log.Debug().Msgf("tag detected on %s: %s", t.Reader, t.UID)
	cb(t)
}

func (s *Session) report(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// stopped mid tick, not a reader problem
		return
	}

	if errors.Is(err, readers.ErrNoTag) {
		log.Debug().Err(err).Msg("error in continuous read")
	} else {
		log.Error().Err(err).Msg("error in continuous read")
	}

	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
