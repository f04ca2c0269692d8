package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/apdu"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const (
	OpList     = "list"
	OpInfo     = "info"
	OpRead     = "read"
	OpWrite    = "write"
	OpTransmit = "transmit"
)

type Tag struct {
	UID  string
	Data string
}

type ReadFunc func(ctx context.Context, reader string) (*tokens.Token, error)

// Backend is an in-memory reader backend. Tags placed on a reader persist
// until removed, and writes update the stored tag data.
type Backend struct {
	mu        sync.Mutex
	readers   []string
	tags      map[string]Tag
	listErr   error
	readHook  ReadFunc
	responses map[string]string
	sent      []string
	calls     map[string]int
	closed    bool
}

func New(rs ...string) *Backend {
	return &Backend{
		readers:   rs,
		tags:      make(map[string]Tag),
		responses: make(map[string]string),
		calls:     make(map[string]int),
	}
}

const DemoReader = "Mock Reader 00 00"

// NewDemo returns a backend with one reader holding one tag, answering
// GET_UID and the firmware query like an ACR122U would.
func NewDemo() *Backend {
	const uid = "04A1B2C3D4E5F6"
	b := New(DemoReader)
	b.PlaceTag(DemoReader, Tag{UID: uid, Data: "hello"})
	b.SetResponse(apdu.GetUID, uid+"9000")
	b.SetResponse(apdu.GetFirmware, apdu.Encode([]byte("ACR122U215")))
	return b
}

func (b *Backend) SetReaders(rs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readers = rs
}

func (b *Backend) PlaceTag(reader string, tag Tag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags[reader] = tag
}

func (b *Backend) RemoveTag(reader string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tags, reader)
}

// FailList makes ListReaders return err until called again with nil.
func (b *Backend) FailList(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listErr = err
}

// SetReadHook replaces the stored tag lookup in ReadTag.
func (b *Backend) SetReadHook(fn ReadFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readHook = fn
}

// SetResponse sets the reply to a raw command. Unknown commands are
// answered with 9000.
func (b *Backend) SetResponse(command string, response string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[strings.ToUpper(command)] = response
}

func (b *Backend) Transmitted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) hasReader(reader string) bool {
	for _, r := range b.readers {
		if r == reader {
			return true
		}
	}
	return false
}

func (b *Backend) ListReaders(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[OpList]++

	if b.listErr != nil {
		return nil, b.listErr
	}

	return append([]string{}, b.readers...), nil
}

func (b *Backend) ReaderInfo(ctx context.Context, reader string) (readers.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[OpInfo]++

	if !b.hasReader(reader) {
		return readers.Info{}, readers.ErrNoReader
	}

	state := "empty"
	if _, ok := b.tags[reader]; ok {
		state = "present"
	}

	return readers.Info{
		Name:     reader,
		State:    state,
		Firmware: "MOCK1.0",
		Fields:   map[string]string{"backend": "mock"},
	}, nil
}

func (b *Backend) ReadTag(ctx context.Context, reader string) (*tokens.Token, error) {
	b.mu.Lock()
	b.calls[OpRead]++
	hook := b.readHook
	b.mu.Unlock()

	if hook != nil {
		return hook(ctx, reader)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasReader(reader) {
		return nil, readers.ErrNoReader
	}

	tag, ok := b.tags[reader]
	if !ok {
		return nil, readers.ErrNoTag
	}

	return &tokens.Token{
		UID:      tag.UID,
		Data:     tag.Data,
		Text:     tag.Data,
		Response: apdu.Encode([]byte(tag.Data)) + "9000",
		ScanTime: time.Now(),
	}, nil
}

func (b *Backend) WriteTag(ctx context.Context, reader string, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[OpWrite]++

	if !b.hasReader(reader) {
		return readers.ErrNoReader
	}

	tag, ok := b.tags[reader]
	if !ok {
		return readers.ErrNoTag
	}

	tag.Data = data
	b.tags[reader] = tag

	return nil
}

func (b *Backend) Transmit(ctx context.Context, reader string, command string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[OpTransmit]++

	if !b.hasReader(reader) {
		return "", readers.ErrNoReader
	}

	b.sent = append(b.sent, command)

	if resp, ok := b.responses[strings.ToUpper(command)]; ok {
		return resp, nil
	}

	return "9000", nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
