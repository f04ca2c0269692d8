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

package nfc

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/bridge"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/session"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const (
	OpListReaders = "list readers"
	OpReaderInfo  = "get reader info"
	OpReadTag     = "read tag"
	OpWriteTag    = "write tag"
	OpSendCommand = "send raw command"
)

var ErrNoReaders = errors.New("no readers connected")

// Client is the public reader API. Every call goes through the bridge, so
// failures always surface as *bridge.Error.
type Client struct {
	backend readers.Backend
	opts    session.Options
	once    sync.Once
	sess    *session.Session
	// inflight counts backend calls still running, including ones whose
	// caller stopped waiting.
	inflight sync.WaitGroup
}

func NewClient(backend readers.Backend, opts session.Options) *Client {
	return &Client{
		backend: backend,
		opts:    opts,
	}
}

// run starts fn on the bridge and tracks it until the backend call returns.
func run[T any](c *Client, ctx context.Context, op string, reader string, fn func(context.Context) (T, error)) *bridge.Future[T] {
	c.inflight.Add(1)
	return bridge.Go(ctx, op, reader, func(ctx context.Context) (T, error) {
		defer c.inflight.Done()
		return fn(ctx)
	})
}

func (c *Client) Backend() readers.Backend {
	return c.backend
}

func (c *Client) ListReadersAsync(ctx context.Context) *bridge.Future[[]string] {
	return run(c, ctx, OpListReaders, "", c.backend.ListReaders)
}

func (c *Client) ListReaders(ctx context.Context) ([]string, error) {
	return c.ListReadersAsync(ctx).Await(ctx)
}

func (c *Client) GetReaderInfoAsync(ctx context.Context, reader string) *bridge.Future[readers.Info] {
	return run(c, ctx, OpReaderInfo, reader, func(ctx context.Context) (readers.Info, error) {
		return c.backend.ReaderInfo(ctx, reader)
	})
}

func (c *Client) GetReaderInfo(ctx context.Context, reader string) (readers.Info, error) {
	return c.GetReaderInfoAsync(ctx, reader).Await(ctx)
}

func (c *Client) ReadTagAsync(ctx context.Context, reader string) *bridge.Future[*tokens.Token] {
	return run(c, ctx, OpReadTag, reader, func(ctx context.Context) (*tokens.Token, error) {
		return c.backend.ReadTag(ctx, reader)
	})
}

// ReadTag returns the tag on reader, failing with readers.ErrNoTag (wrapped)
// if there is none.
func (c *Client) ReadTag(ctx context.Context, reader string) (*tokens.Token, error) {
	return c.ReadTagAsync(ctx, reader).Await(ctx)
}

func (c *Client) WriteTagAsync(ctx context.Context, reader string, data string) *bridge.Future[bool] {
	return run(c, ctx, OpWriteTag, reader, func(ctx context.Context) (bool, error) {
		err := c.backend.WriteTag(ctx, reader, data)
		return err == nil, err
	})
}

// WriteTag writes data to the tag on reader and reports whether it
// succeeded.
func (c *Client) WriteTag(ctx context.Context, reader string, data string) (bool, error) {
	return c.WriteTagAsync(ctx, reader, data).Await(ctx)
}

func (c *Client) SendRawCommandAsync(ctx context.Context, reader string, command string) *bridge.Future[string] {
	return run(c, ctx, OpSendCommand, reader, func(ctx context.Context) (string, error) {
		return c.backend.Transmit(ctx, reader, command)
	})
}

// SendRawCommand passes a hex APDU to the backend verbatim and returns its
// response unmodified.
func (c *Client) SendRawCommand(ctx context.Context, reader string, command string) (string, error) {
	return c.SendRawCommandAsync(ctx, reader, command).Await(ctx)
}

// ResolveReader picks the reader to use: name if given, then preferred if
// it is connected, then the first enumerated reader.
func (c *Client) ResolveReader(ctx context.Context, name string, preferred string) (string, error) {
	if name != "" {
		return name, nil
	}

	rs, err := c.ListReaders(ctx)
	if err != nil {
		return "", err
	}
	if len(rs) == 0 {
		return "", ErrNoReaders
	}

	if preferred != "" && slices.Contains(rs, preferred) {
		return preferred, nil
	}

	return rs[0], nil
}

// Session returns the continuous read session owned by this client.
func (c *Client) Session() *session.Session {
	c.once.Do(func() {
		c.sess = session.New(c, c.opts)
	})
	return c.sess
}

func (c *Client) StartContinuousRead(cb session.Callback) (*session.Handle, error) {
	return c.Session().Start(cb)
}

func (c *Client) StopContinuousRead() {
	c.Session().Stop()
}

// Close stops continuous reading, waits for the poll loop and any backend
// call still running, then closes the backend. Do not call it from a
// session callback.
func (c *Client) Close() error {
	c.Session().StopAndWait()
	c.inflight.Wait()
	return c.backend.Close()
}
