package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers/mock"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/session"
)

func newTestHost(t *testing.T) (string, *mock.Backend) {
	t.Helper()
	b := mock.New("R1")
	srv := api.NewServer(api.ServerArgs{
		Client: nfc.NewClient(b, session.Options{}),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://"), b
}

func TestCall(t *testing.T) {
	host, b := newTestHost(t)
	b.SetResponse("FF00480000", "ACR122U2159000")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := Call(ctx, host, models.MethodReaders, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"readers":["R1"]}`, resp)

	resp, err = Call(ctx, host, models.MethodReadersTransmit, `{"command":"FF00480000"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reader":"R1","response":"ACR122U2159000"}`, resp)
}

func TestCallErrors(t *testing.T) {
	host, _ := newTestHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Call(ctx, host, models.MethodReaders, "{not json")
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = Call(ctx, host, "nope", "")
	var rpcErr *RpcError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, models.ErrCodeMethodNotFound, rpcErr.Code)

	// no database configured
	_, err = Call(ctx, host, models.MethodHistory, "")
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, models.ErrCodeApplication, rpcErr.Code)
}
