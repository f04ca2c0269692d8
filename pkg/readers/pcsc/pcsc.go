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

package pcsc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ebfe/scard"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/apdu"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const (
	DefaultPreferred = "*ACR122*"
	// FirstDataBlock is where tag payloads start, after the manufacturer
	// and reserved blocks.
	FirstDataBlock = 4
	// MaxDataBlocks caps payload size to MaxDataBlocks * apdu.BlockSize.
	MaxDataBlocks = 8
)

var ErrPayloadTooLarge = errors.New("payload too large for tag")

// transmitter is the part of a connected card used for tag I/O.
type transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

type Backend struct {
	mu     sync.Mutex
	ctx    *scard.Context
	prefer glob.Glob
}

// New returns a PC/SC backend. Readers whose name matches the preferred
// glob pattern are listed first.
func New(preferred string) (*Backend, error) {
	if preferred == "" {
		preferred = DefaultPreferred
	}

	g, err := glob.Compile(preferred)
	if err != nil {
		return nil, fmt.Errorf("invalid preferred reader pattern: %w", err)
	}

	return &Backend{prefer: g}, nil
}

// ensureContext must be called with mu held.
func (b *Backend) ensureContext() error {
	if b.ctx != nil {
		valid, err := b.ctx.IsValid()
		if err == nil && valid {
			return nil
		}
		_ = b.ctx.Release()
		b.ctx = nil
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("failed to establish pcsc context: %w", err)
	}
	b.ctx = ctx

	return nil
}

func (b *Backend) ListReaders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureContext(); err != nil {
		return nil, err
	}

	rs, err := b.ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return []string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}

	log.Debug().Msgf("detected pcsc readers: %v", rs)

	return orderReaders(rs, b.prefer), nil
}

// orderReaders moves preferred readers to the front, keeping relative order.
func orderReaders(rs []string, prefer glob.Glob) []string {
	ordered := slices.Clone(rs)
	slices.SortStableFunc(ordered, func(a, b string) int {
		pa, pb := prefer.Match(a), prefer.Match(b)
		switch {
		case pa && !pb:
			return -1
		case pb && !pa:
			return 1
		default:
			return 0
		}
	})
	return ordered
}

func stateName(flags scard.StateFlag) string {
	switch {
	case flags&scard.StateUnavailable != 0:
		return "unavailable"
	case flags&scard.StateMute != 0:
		return "mute"
	case flags&scard.StateExclusive != 0:
		return "exclusive"
	case flags&scard.StateInuse != 0:
		return "inuse"
	case flags&scard.StatePresent != 0:
		return "present"
	case flags&scard.StateEmpty != 0:
		return "empty"
	default:
		return "unknown"
	}
}

func isNoCard(err error) bool {
	return errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrRemovedCard) ||
		strings.Contains(strings.ToLower(err.Error()), "no smart card")
}

// withCard connects to the tag on reader, runs fn and disconnects.
func (b *Backend) withCard(ctx context.Context, reader string, fn func(transmitter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureContext(); err != nil {
		return err
	}

	card, err := b.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		if isNoCard(err) {
			return readers.ErrNoTag
		}
		return fmt.Errorf("failed to connect to reader %s: %w", reader, err)
	}
	defer func() {
		err := card.Disconnect(scard.LeaveCard)
		if err != nil {
			log.Warn().Err(err).Msgf("error disconnecting from %s", reader)
		}
	}()

	return fn(card)
}

func transmit(card transmitter, cmd []byte) (apdu.Response, []byte, error) {
	raw, err := card.Transmit(cmd)
	if err != nil {
		return apdu.Response{}, nil, err
	}

	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return apdu.Response{}, raw, err
	}

	return resp, raw, resp.Err()
}

func (b *Backend) ReaderInfo(ctx context.Context, reader string) (readers.Info, error) {
	if err := ctx.Err(); err != nil {
		return readers.Info{}, err
	}

	info := readers.Info{
		Name:   reader,
		Fields: make(map[string]string),
	}

	b.mu.Lock()
	if err := b.ensureContext(); err != nil {
		b.mu.Unlock()
		return info, err
	}
	rs := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	err := b.ctx.GetStatusChange(rs, 0)
	b.mu.Unlock()
	if err != nil && !errors.Is(err, scard.ErrTimeout) {
		if errors.Is(err, scard.ErrUnknownReader) {
			return info, readers.ErrNoReader
		}
		return info, fmt.Errorf("failed to get reader status: %w", err)
	}

	info.State = stateName(rs[0].EventState)
	if len(rs[0].Atr) > 0 {
		info.ATR = apdu.Encode(rs[0].Atr)
	}

	if !b.prefer.Match(reader) || rs[0].EventState&scard.StatePresent == 0 {
		return info, nil
	}

	err = b.withCard(ctx, reader, func(card transmitter) error {
		cmd, _ := apdu.Decode(apdu.GetFirmware)
		raw, err := card.Transmit(cmd)
		if err != nil {
			return err
		}
		// firmware reply is a bare ascii string without a status word
		info.Firmware = strings.TrimRight(string(raw), "\x00\x90")
		info.Fields["firmware_raw"] = apdu.Encode(raw)
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Msgf("could not query firmware for %s", reader)
	}

	return info, nil
}

// dataBlocks returns the writable data block numbers, skipping sector
// trailers.
func dataBlocks(n int) []byte {
	var blocks []byte
	for b := FirstDataBlock; len(blocks) < n; b++ {
		if (b+1)%4 == 0 {
			continue
		}
		blocks = append(blocks, byte(b))
	}
	return blocks
}

func authenticate(card transmitter, block byte) {
	keys, _ := apdu.Decode(apdu.LoadAuthenticationKeys)
	if _, _, err := transmit(card, keys); err != nil {
		log.Debug().Err(err).Msg("load authentication keys failed")
		return
	}
	if _, _, err := transmit(card, apdu.AuthenticateBlock(block)); err != nil {
		// ultralight and ntag tags do not use authentication
		log.Debug().Err(err).Msgf("authenticate block %d failed", block)
	}
}

// readCard reads the UID and the payload up to the first zero byte. A
// payload that is not valid UTF-8 is returned hex encoded in Data.
func readCard(card transmitter) (*tokens.Token, error) {
	cmd, _ := apdu.Decode(apdu.GetUID)
	uidResp, _, err := transmit(card, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to read uid: %w", err)
	}

	var payload []byte
	var last []byte
	for _, block := range dataBlocks(MaxDataBlocks) {
		if (block % 4) == 0 {
			authenticate(card, block)
		}

		resp, raw, err := transmit(card, apdu.ReadBinaryBlock(block, apdu.BlockSize))
		if err != nil {
			if len(payload) == 0 {
				log.Debug().Err(err).Msgf("read binary failed on block %d", block)
			}
			break
		}
		last = raw
		payload = append(payload, resp.Data...)

		if slices.Contains(resp.Data, 0x00) {
			break
		}
	}

	if i := bytes.IndexByte(payload, 0x00); i >= 0 {
		payload = payload[:i]
	}

	t := &tokens.Token{
		UID:      apdu.Encode(uidResp.Data),
		Response: apdu.Encode(last),
	}
	if utf8.Valid(payload) {
		t.Data = string(payload)
		t.Text = t.Data
	} else {
		t.Data = apdu.Encode(payload)
	}

	return t, nil
}

func (b *Backend) ReadTag(ctx context.Context, reader string) (*tokens.Token, error) {
	var t *tokens.Token
	err := b.withCard(ctx, reader, func(card transmitter) error {
		var err error
		t, err = readCard(card)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// writeChunks splits data into blocks, adding a zero terminator when the
// payload ends on a block boundary and there is room for it.
func writeChunks(data string) ([][]byte, error) {
	chunks := apdu.Chunk([]byte(data))
	if len(chunks) > MaxDataBlocks {
		return nil, ErrPayloadTooLarge
	}
	if len(data)%apdu.BlockSize == 0 && len(chunks) < MaxDataBlocks {
		chunks = append(chunks, []byte{0x00})
	}
	return chunks, nil
}

func writeCard(card transmitter, chunks [][]byte) error {
	blocks := dataBlocks(len(chunks))
	for i, chunk := range chunks {
		if i == 0 || blocks[i]%4 == 0 {
			authenticate(card, blocks[i])
		}

		cmd, err := apdu.UpdateBinaryBlock(blocks[i], chunk)
		if err != nil {
			return err
		}

		if _, _, err := transmit(card, cmd); err != nil {
			return fmt.Errorf("failed to write block %d: %w", blocks[i], err)
		}
	}
	return nil
}

func (b *Backend) WriteTag(ctx context.Context, reader string, data string) error {
	chunks, err := writeChunks(data)
	if err != nil {
		return err
	}

	return b.withCard(ctx, reader, func(card transmitter) error {
		if err := writeCard(card, chunks); err != nil {
			return err
		}
		log.Debug().Msgf("wrote %d bytes to %s", len(data), reader)
		return nil
	})
}

func (b *Backend) Transmit(ctx context.Context, reader string, command string) (string, error) {
	cmd, err := apdu.Decode(command)
	if err != nil {
		return "", err
	}

	var resp string
	err = b.withCard(ctx, reader, func(card transmitter) error {
		raw, err := card.Transmit(cmd)
		if err != nil {
			return fmt.Errorf("failed to send apdu command: %w", err)
		}
		resp = apdu.Encode(raw)
		return nil
	})

	return resp, err
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}

	err := b.ctx.Release()
	b.ctx = nil
	return err
}
