package api

import (
	"errors"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/methods"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
)

// LoggerMiddleware writes an access log line per request and turns panics
// into 500s.
func LoggerMiddleware(logger *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			t1 := time.Now()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Interface("recover_info", rec).
						Bytes("debug_stack", debug.Stack()).
						Msg("panic in request handler")
					http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}

				logger.Debug().
					Str("remote_ip", r.RemoteAddr).
					Str("url", r.URL.Path).
					Str("method", r.Method).
					Int("status", ww.Status()).
					Float64("latency_ms", float64(time.Since(t1).Nanoseconds())/1000000.0).
					Msg("incoming_request")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	Message        string `json:"error"`
}

func (e *ErrResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errRender(err error) render.Renderer {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, methods.ErrInvalidParams), errors.Is(err, methods.ErrMissingParams):
		status = http.StatusBadRequest
	case errors.Is(err, readers.ErrNoReader), errors.Is(err, methods.ErrNoReaders):
		status = http.StatusNotFound
	case errors.Is(err, readers.ErrNoTag):
		status = http.StatusConflict
	case errors.Is(err, methods.ErrNoDatabase):
		status = http.StatusServiceUnavailable
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: status,
		Message:        err.Error(),
	}
}

type TransmitRequest struct {
	Command string `json:"command"`
}

func (tr *TransmitRequest) Bind(_ *http.Request) error {
	if tr.Command == "" {
		return methods.ErrMissingParams
	}
	return nil
}

type WriteRequest struct {
	Text string `json:"text"`
}

func (wr *WriteRequest) Bind(_ *http.Request) error {
	if wr.Text == "" {
		return methods.ErrMissingParams
	}
	return nil
}

func (s *Server) routes(r chi.Router) {
	r.Get("/readers", s.handleReaders)
	r.Route("/readers/{reader}", func(r chi.Router) {
		r.Get("/", s.handleReaderInfo)
		r.Get("/read", s.handleReaderRead)
		r.Post("/write", s.handleReaderWrite)
		r.Post("/transmit", s.handleReaderTransmit)
	})
	r.Get("/history", s.handleHistory)
	r.Get("/history.csv", s.handleHistoryCSV)
	r.Get("/status", s.handleStatus)
	r.Get("/version", s.handleVersion)
}

// readerParam resolves the {reader} URL param, which is either a position
// in the reader list or an escaped reader name.
func (s *Server) readerParam(env requests.RequestEnv, r *http.Request) (string, error) {
	raw := chi.URLParam(r, "reader")

	if idx, err := strconv.Atoi(raw); err == nil {
		rs, err := s.client.ListReaders(env.Ctx)
		if err != nil {
			return "", err
		}
		if idx < 0 || idx >= len(rs) {
			return "", readers.ErrNoReader
		}
		return rs[idx], nil
	}

	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", methods.ErrInvalidParams
	}
	return name, nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		log.Error().Err(err).Str("url", r.URL.Path).Msg("api request failed")
		_ = render.Render(w, r, errRender(err))
		return
	}
	render.JSON(w, r, v)
}

// call runs a method handler for a REST request, with params already
// encoded as JSON.
func (s *Server) call(w http.ResponseWriter, r *http.Request, fn func(requests.RequestEnv) (any, error), params []byte) {
	env := s.env(r.Context(), r.RemoteAddr)
	env.Params = params
	v, err := fn(env)
	s.respond(w, r, v, err)
}

func (s *Server) withReader(w http.ResponseWriter, r *http.Request, build func(reader string) []byte, fn func(requests.RequestEnv) (any, error)) {
	env := s.env(r.Context(), r.RemoteAddr)
	reader, err := s.readerParam(env, r)
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	s.call(w, r, fn, build(reader))
}

func (s *Server) handleReaders(w http.ResponseWriter, r *http.Request) {
	s.call(w, r, methods.HandleReaders, nil)
}

func (s *Server) handleReaderInfo(w http.ResponseWriter, r *http.Request) {
	s.withReader(w, r, func(reader string) []byte {
		return mustJSON(models.ReaderParams{Reader: reader})
	}, methods.HandleReaderInfo)
}

func (s *Server) handleReaderRead(w http.ResponseWriter, r *http.Request) {
	s.withReader(w, r, func(reader string) []byte {
		return mustJSON(models.ReaderParams{Reader: reader})
	}, methods.HandleReaderRead)
}

func (s *Server) handleReaderWrite(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	err := render.Bind(r, &req)
	if err != nil {
		s.respond(w, r, nil, errors.Join(methods.ErrInvalidParams, err))
		return
	}

	s.withReader(w, r, func(reader string) []byte {
		return mustJSON(models.ReaderWriteParams{Reader: reader, Text: req.Text})
	}, methods.HandleReaderWrite)
}

func (s *Server) handleReaderTransmit(w http.ResponseWriter, r *http.Request) {
	var req TransmitRequest
	err := render.Bind(r, &req)
	if err != nil {
		s.respond(w, r, nil, errors.Join(methods.ErrInvalidParams, err))
		return
	}

	s.withReader(w, r, func(reader string) []byte {
		return mustJSON(models.ReaderTransmitParams{Reader: reader, Command: req.Command})
	}, methods.HandleReaderTransmit)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var params models.HistoryParams
	if q := r.URL.Query().Get("limit"); q != "" {
		limit, err := strconv.Atoi(q)
		if err != nil {
			s.respond(w, r, nil, methods.ErrInvalidParams)
			return
		}
		params.Limit = &limit
	}
	s.call(w, r, methods.HandleHistory, mustJSON(params))
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.respond(w, r, nil, methods.ErrNoDatabase)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
	err := s.db.ExportHistoryCSV(w)
	if err != nil {
		log.Error().Err(err).Msg("error exporting history")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.call(w, r, methods.HandleStatus, nil)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.call(w, r, methods.HandleVersion, nil)
}
