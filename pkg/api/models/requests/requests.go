package requests

import (
	"context"

	"github.com/google/uuid"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/session"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

// ScanState reports the tags seen by the service's continuous read.
type ScanState interface {
	GetActiveCard() *tokens.Token
	GetLastScanned() tokens.Token
}

// RequestEnv is everything a method handler may touch. Database, State and
// Notify may be nil.
type RequestEnv struct {
	Ctx      context.Context
	Config   *config.UserConfig
	Client   *nfc.Client
	Database *database.Database
	State    ScanState
	// OnToken receives detections from sessions started over the API.
	OnToken session.Callback
	Notify  func(models.Notification)
	Id      uuid.UUID
	Params  []byte
	IsLocal bool
}
