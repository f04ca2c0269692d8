package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrInvalidParams  = errors.New("invalid params")
)

// RpcError is an error object returned by the server.
type RpcError struct {
	Code    int
	Message string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// LocalClient calls method on the API of the service running on this
// machine, using the configured port.
func LocalClient(cfg *config.UserConfig, method string, params string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), api.RequestTimeout)
	defer cancel()
	return Call(ctx, "localhost:"+cfg.GetApiPort(), method, params)
}

// newRequest builds a request object. params must be empty or valid JSON.
func newRequest(method string, params string) (models.RequestObject, error) {
	id := uuid.New()
	req := models.RequestObject{
		JsonRpc: "2.0",
		Id:      &id,
		Method:  method,
	}

	if params == "" {
		return req, nil
	}

	var ps any
	if err := json.Unmarshal([]byte(params), &ps); err != nil {
		return req, errors.Join(ErrInvalidParams, err)
	}
	req.Params = ps

	return req, nil
}

// awaitResponse reads messages until the reply for id arrives, skipping
// notifications broadcast on the same connection.
func awaitResponse(c *websocket.Conn, id uuid.UUID) (models.ResponseObject, error) {
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return models.ResponseObject{}, ErrRequestTimeout
			}
			return models.ResponseObject{}, err
		}

		var resp models.ResponseObject
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Debug().Err(err).Msg("skipping unparseable message")
			continue
		}
		if resp.JsonRpc != "2.0" || resp.Id != id {
			continue
		}

		return resp, nil
	}
}

// Call sends one JSON-RPC request to the websocket API at host and returns
// the result re-encoded as JSON. The context deadline bounds the whole call.
func Call(ctx context.Context, host string, method string, params string) (string, error) {
	req, err := newRequest(method, params)
	if err != nil {
		return "", err
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/"}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("error connecting to %s: %w", host, err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing websocket")
		}
	}()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(api.RequestTimeout)
	}
	if err := c.SetReadDeadline(deadline); err != nil {
		return "", err
	}

	if err := c.WriteJSON(req); err != nil {
		return "", err
	}

	resp, err := awaitResponse(c, *req.Id)
	if err != nil {
		return "", err
	}

	if resp.Error != nil {
		return "", &RpcError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	out, err := json.Marshal(resp.Result)
	if err != nil {
		return "", err
	}

	return string(out), nil
}
