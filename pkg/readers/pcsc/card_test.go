package pcsc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/apdu"
)

var swOK = []byte{apdu.SW1Success, apdu.SW2Success}

// fakeCard answers the ACR122U pseudo-APDUs against an in-memory block map.
type fakeCard struct {
	uid    []byte
	blocks map[byte][]byte
	authed []byte
	reads  []byte
	writes []byte
}

func newFakeCard() *fakeCard {
	return &fakeCard{
		uid:    []byte{0x04, 0xA1, 0xB2},
		blocks: make(map[byte][]byte),
	}
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	switch {
	case bytes.Equal(cmd, []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}):
		return append(append([]byte{}, c.uid...), swOK...), nil
	case cmd[1] == 0x82:
		return swOK, nil
	case cmd[1] == 0x86:
		c.authed = append(c.authed, cmd[7])
		return swOK, nil
	case cmd[1] == apdu.INSReadBinary:
		c.reads = append(c.reads, cmd[3])
		data, found := c.blocks[cmd[3]]
		if !found {
			data = make([]byte, apdu.BlockSize)
		}
		return append(append([]byte{}, data...), swOK...), nil
	case cmd[1] == apdu.INSUpdateBin:
		c.writes = append(c.writes, cmd[3])
		c.blocks[cmd[3]] = append([]byte{}, cmd[5:]...)
		return swOK, nil
	}
	return []byte{0x6A, 0x81}, nil
}

func (c *fakeCard) setBlock(block byte, data []byte) {
	padded := make([]byte, apdu.BlockSize)
	copy(padded, data)
	c.blocks[block] = padded
}

func TestWriteThenReadCard(t *testing.T) {
	card := newFakeCard()

	chunks, err := writeChunks("hello")
	require.NoError(t, err)
	require.NoError(t, writeCard(card, chunks))
	assert.Equal(t, []byte{4}, card.writes)
	assert.Equal(t, []byte{4}, card.authed)

	card.authed = nil
	tok, err := readCard(card)
	require.NoError(t, err)
	assert.Equal(t, "04A1B2", tok.UID)
	assert.Equal(t, "hello", tok.Data)
	assert.Equal(t, "hello", tok.Text)
	// zero byte in the first block ends the read
	assert.Equal(t, []byte{4}, card.reads)
	assert.Equal(t, []byte{4}, card.authed)
}

func TestWriteFullBlockAddsTerminator(t *testing.T) {
	card := newFakeCard()
	card.setBlock(5, []byte("stale data here"))
	data := strings.Repeat("a", apdu.BlockSize)

	chunks, err := writeChunks(data)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.NoError(t, writeCard(card, chunks))
	assert.Equal(t, []byte{4, 5}, card.writes)
	assert.Equal(t, make([]byte, apdu.BlockSize), card.blocks[5])

	tok, err := readCard(card)
	require.NoError(t, err)
	assert.Equal(t, data, tok.Data)
	assert.Equal(t, []byte{4, 5}, card.reads)
}

func TestWriteMaxPayload(t *testing.T) {
	card := newFakeCard()
	data := strings.Repeat("x", MaxDataBlocks*apdu.BlockSize)

	chunks, err := writeChunks(data)
	require.NoError(t, err)
	// no room left for a terminator
	require.Len(t, chunks, MaxDataBlocks)
	require.NoError(t, writeCard(card, chunks))
	assert.Equal(t, []byte{4, 5, 6, 8, 9, 10, 12, 13}, card.writes)
	assert.Equal(t, []byte{4, 8, 12}, card.authed)

	card.authed = nil
	tok, err := readCard(card)
	require.NoError(t, err)
	assert.Equal(t, data, tok.Data)
	assert.Equal(t, []byte{4, 5, 6, 8, 9, 10, 12, 13}, card.reads)
	assert.Equal(t, []byte{4, 8, 12}, card.authed)
}

func TestWritePayloadTooLarge(t *testing.T) {
	_, err := writeChunks(strings.Repeat("x", MaxDataBlocks*apdu.BlockSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestReadBinaryPayloadIsHex(t *testing.T) {
	card := newFakeCard()
	card.setBlock(4, []byte{0xFF, 0xFE, 0x01})

	tok, err := readCard(card)
	require.NoError(t, err)
	assert.Equal(t, "FFFE01", tok.Data)
	assert.Empty(t, tok.Text)
}

func TestReadEmptyTag(t *testing.T) {
	card := newFakeCard()

	tok, err := readCard(card)
	require.NoError(t, err)
	assert.Equal(t, "04A1B2", tok.UID)
	assert.Empty(t, tok.Data)
	assert.Equal(t, []byte{4}, card.reads)
}
