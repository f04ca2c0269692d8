package methods

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

// ResolveReader picks the reader a request targets: the named one, then the
// configured one if it is connected, then the first enumerated.
func ResolveReader(env requests.RequestEnv, name string) (string, error) {
	preferred := ""
	if env.Config != nil {
		preferred = env.Config.GetReader()
	}
	return env.Client.ResolveReader(env.Ctx, name, preferred)
}

func addHistory(env requests.RequestEnv, e database.HistoryEntry) {
	if env.Database == nil {
		return
	}
	_, err := env.Database.AddHistory(e)
	if err != nil {
		log.Error().Err(err).Msg("error adding history entry")
	}
}

func HandleReaders(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received readers list request")

	rs, err := env.Client.ListReaders(env.Ctx)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		rs = []string{}
	}

	return models.ReadersResponse{Readers: rs}, nil
}

func HandleReaderInfo(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received reader info request")

	var params models.ReaderParams
	if err := parseOptionalParams(env, &params); err != nil {
		return nil, err
	}

	reader, err := ResolveReader(env, params.Reader)
	if err != nil {
		return nil, err
	}

	return env.Client.GetReaderInfo(env.Ctx, reader)
}

func HandleReaderRead(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received reader read request")

	var params models.ReaderParams
	if err := parseOptionalParams(env, &params); err != nil {
		return nil, err
	}

	reader, err := ResolveReader(env, params.Reader)
	if err != nil {
		return nil, err
	}

	t, err := env.Client.ReadTag(env.Ctx, reader)
	if err != nil {
		return nil, err
	}
	if t.Empty() {
		return nil, readers.ErrNoTag
	}

	tok := t.WithReader(reader)
	addHistory(env, database.EntryFromToken(database.SourceRead, tok))

	return tok, nil
}

func HandleReaderWrite(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received reader write request")

	var params models.ReaderWriteParams
	if err := parseParams(env, &params); err != nil {
		return nil, err
	}
	if params.Text == "" {
		return nil, ErrInvalidParams
	}

	reader, err := ResolveReader(env, params.Reader)
	if err != nil {
		return nil, err
	}

	ok, err := env.Client.WriteTag(env.Ctx, reader, params.Text)
	addHistory(env, database.EntryFromToken(database.SourceWrite, tokens.Token{
		Reader:   reader,
		Data:     params.Text,
		Text:     params.Text,
		ScanTime: time.Now(),
	}).WithSuccess(ok))
	if err != nil {
		log.Error().Err(err).Msg("error writing to reader")
		return nil, err
	}

	return models.WriteResponse{Reader: reader, Success: ok}, nil
}

func HandleReaderTransmit(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received reader transmit request")

	var params models.ReaderTransmitParams
	if err := parseParams(env, &params); err != nil {
		return nil, err
	}
	if params.Command == "" {
		return nil, ErrInvalidParams
	}

	reader, err := ResolveReader(env, params.Reader)
	if err != nil {
		return nil, err
	}

	resp, err := env.Client.SendRawCommand(env.Ctx, reader, params.Command)
	if err != nil {
		return nil, err
	}

	return models.TransmitResponse{Reader: reader, Response: resp}, nil
}
