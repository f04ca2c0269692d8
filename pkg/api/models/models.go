package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const (
	NotificationTagDetected    = "readers.tagDetected"
	NotificationSessionStarted = "session.started"
	NotificationSessionStopped = "session.stopped"
	MethodReaders              = "readers.list"
	MethodReadersInfo          = "readers.info"
	MethodReadersRead          = "readers.read"
	MethodReadersWrite         = "readers.write"
	MethodReadersTransmit      = "readers.transmit"
	MethodSessionStart         = "session.start"
	MethodSessionStop          = "session.stop"
	MethodHistory              = "history"
	MethodStatus               = "status"
	MethodVersion              = "version"
)

// JSON-RPC 2.0 error codes. Anything a handler returns is reported as
// ErrCodeApplication.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeApplication    = 1
)

type RequestObject struct {
	JsonRpc string `json:"jsonrpc"`
	// no id means the request is a notification and requires no response
	Id     *uuid.UUID `json:"id,omitempty"`
	Method string     `json:"method"`
	Params any        `json:"params,omitempty"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ResponseObject struct {
	JsonRpc string       `json:"jsonrpc"`
	Id      uuid.UUID    `json:"id"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type ReaderParams struct {
	Reader string `json:"reader"`
}

type ReaderWriteParams struct {
	Reader string `json:"reader"`
	Text   string `json:"text"`
}

type ReaderTransmitParams struct {
	Reader  string `json:"reader"`
	Command string `json:"command"`
}

type SessionStartParams struct {
	// poll interval in milliseconds, config value if unset
	Interval *int `json:"interval"`
}

type HistoryParams struct {
	Limit *int `json:"limit"`
}

type ReadersResponse struct {
	Readers []string `json:"readers"`
}

type WriteResponse struct {
	Reader  string `json:"reader"`
	Success bool   `json:"success"`
}

type TransmitResponse struct {
	Reader   string `json:"reader"`
	Response string `json:"response"`
}

type SessionResponse struct {
	Active   bool `json:"active"`
	Interval int  `json:"interval"`
}

type HistoryResponse struct {
	Entries []database.HistoryEntry `json:"entries"`
}

type StatusResponse struct {
	Session     SessionResponse `json:"session"`
	ActiveCard  *tokens.Token   `json:"activeCard"`
	LastScanned *tokens.Token   `json:"lastScanned"`
}

type VersionResponse struct {
	Version string `json:"version"`
	Backend string `json:"backend"`
}

type TagDetectedParams struct {
	Reader   string    `json:"reader"`
	UID      string    `json:"uid"`
	Text     string    `json:"text"`
	Data     string    `json:"data"`
	ScanTime time.Time `json:"scanTime"`
}

func NewTagDetected(t tokens.Token) Notification {
	return Notification{
		Method: NotificationTagDetected,
		Params: TagDetectedParams{
			Reader:   t.Reader,
			UID:      t.UID,
			Text:     t.Text,
			Data:     t.Data,
			ScanTime: t.ScanTime,
		},
	}
}
