package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
)

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	b := New("R1")
	b.PlaceTag("R1", Tag{UID: "04A1B2"})

	require.NoError(t, b.WriteTag(ctx, "R1", "hello"))

	tok, err := b.ReadTag(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "04A1B2", tok.UID)
	assert.Equal(t, "hello", tok.Data)
	assert.Equal(t, "68656C6C6F9000", tok.Response)
}

func TestReadWithoutTag(t *testing.T) {
	b := New("R1")

	_, err := b.ReadTag(context.Background(), "R1")
	assert.ErrorIs(t, err, readers.ErrNoTag)

	_, err = b.ReadTag(context.Background(), "missing")
	assert.ErrorIs(t, err, readers.ErrNoReader)

	assert.ErrorIs(t, b.WriteTag(context.Background(), "R1", "x"), readers.ErrNoTag)
}

func TestListReaders(t *testing.T) {
	b := New()
	rs, err := b.ListReaders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rs)

	b.SetReaders("R1", "R2")
	rs, err = b.ListReaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, rs)

	b.FailList(errors.New("service stopped"))
	_, err = b.ListReaders(context.Background())
	assert.EqualError(t, err, "service stopped")
	assert.Equal(t, 3, b.Calls(OpList))
}

func TestTransmit(t *testing.T) {
	b := New("R1")
	b.SetResponse("ffca000000", "04A1B29000")

	resp, err := b.Transmit(context.Background(), "R1", "FFCA000000")
	require.NoError(t, err)
	assert.Equal(t, "04A1B29000", resp)

	resp, err = b.Transmit(context.Background(), "R1", "FF00480000")
	require.NoError(t, err)
	assert.Equal(t, "9000", resp)

	assert.Equal(t, []string{"FFCA000000", "FF00480000"}, b.Transmitted())
}

func TestReaderInfo(t *testing.T) {
	b := New("R1")
	info, err := b.ReaderInfo(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "empty", info.State)

	b.PlaceTag("R1", Tag{UID: "01"})
	info, err = b.ReaderInfo(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "present", info.State)

	b.RemoveTag("R1")
	info, err = b.ReaderInfo(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "empty", info.State)
}
