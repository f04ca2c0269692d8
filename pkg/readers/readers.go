package readers

import (
	"context"
	"errors"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

var (
	// ErrNoTag is returned by ReadTag when the reader has no tag present.
	ErrNoTag = errors.New("no tag present")
	// ErrNoReader is returned when the requested reader does not exist.
	ErrNoReader = errors.New("reader not found")
)

// Info describes a reader as reported by the backend.
type Info struct {
	Name     string            `json:"name"`
	State    string            `json:"state"`
	Firmware string            `json:"firmware,omitempty"`
	ATR      string            `json:"atr,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Backend performs the actual device I/O. Every method is a single-shot
// blocking call; callers wanting asynchronous results go through the
// bridge package.
type Backend interface {
	// ListReaders returns reader identifiers in backend order. An empty
	// list is not an error.
	ListReaders(ctx context.Context) ([]string, error)
	// ReaderInfo returns the name, state and backend specific fields of a
	// reader.
	ReaderInfo(ctx context.Context, reader string) (Info, error)
	// ReadTag reads the tag currently on the reader. Returns ErrNoTag if
	// nothing is present.
	ReadTag(ctx context.Context, reader string) (*tokens.Token, error)
	// WriteTag writes data to the tag currently on the reader.
	WriteTag(ctx context.Context, reader string, data string) error
	// Transmit sends a hex encoded APDU and returns the hex response.
	Transmit(ctx context.Context, reader string, command string) (string, error)
	// Close releases any resources held by the backend.
	Close() error
}
