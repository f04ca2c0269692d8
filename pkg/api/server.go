package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/methods"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/models/requests"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/session"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/utils"
)

const RequestTimeout = 30 * time.Second

var ErrUnknownMethod = errors.New("unknown method")

var methodMap = map[string]func(requests.RequestEnv) (any, error){
	// readers
	models.MethodReaders:         methods.HandleReaders,
	models.MethodReadersInfo:     methods.HandleReaderInfo,
	models.MethodReadersRead:     methods.HandleReaderRead,
	models.MethodReadersWrite:    methods.HandleReaderWrite,
	models.MethodReadersTransmit: methods.HandleReaderTransmit,
	// continuous read
	models.MethodSessionStart: methods.HandleSessionStart,
	models.MethodSessionStop:  methods.HandleSessionStop,
	// history
	models.MethodHistory: methods.HandleHistory,
	// utils
	models.MethodStatus:  methods.HandleStatus,
	models.MethodVersion: methods.HandleVersion,
}

// Methods lists every JSON-RPC method the server answers, sorted.
func Methods() []string {
	return utils.SortedKeys(methodMap)
}

type ServerArgs struct {
	Config   *config.UserConfig
	Client   *nfc.Client
	Database *database.Database
	// State backs the status method. If nil, no scans are reported.
	State requests.ScanState
	// OnToken handles detections from sessions started over the API. If nil,
	// session.start fails.
	OnToken session.Callback
}

type Server struct {
	cfg     *config.UserConfig
	client  *nfc.Client
	db      *database.Database
	state   requests.ScanState
	onToken session.Callback
	m       *melody.Melody
	router  chi.Router
}

func NewServer(args ServerArgs) *Server {
	s := &Server{
		cfg:     args.Config,
		client:  args.Client,
		db:      args.Database,
		state:   args.State,
		onToken: args.OnToken,
		m:       melody.New(),
	}

	s.m.Upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	s.m.HandleMessage(s.handleMessage)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(&log.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*", "capacitor://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{},
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		err := s.m.HandleRequest(w, r)
		if err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		s.routes(r)
	})

	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) env(ctx context.Context, remoteAddr string) requests.RequestEnv {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)

	return requests.RequestEnv{
		Ctx:      ctx,
		Config:   s.cfg,
		Client:   s.client,
		Database: s.db,
		State:    s.state,
		OnToken:  s.onToken,
		Notify:   s.Notify,
		IsLocal:  ip != nil && ip.IsLoopback(),
	}
}

// Notify broadcasts a JSON-RPC notification to every connected websocket
// client.
func (s *Server) Notify(n models.Notification) {
	data, err := json.Marshal(models.RequestObject{
		JsonRpc: "2.0",
		Method:  n.Method,
		Params:  n.Params,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshalling notification request")
		return
	}

	err = s.m.Broadcast(data)
	if err != nil {
		log.Error().Err(err).Msg("broadcasting notification")
	}
}

func handleRequest(env requests.RequestEnv, req models.RequestObject) (any, error) {
	log.Debug().Interface("request", req).Msg("received request")

	fn, ok := methodMap[req.Method]
	if !ok {
		return nil, ErrUnknownMethod
	}

	var params []byte
	if req.Params != nil {
		var err error
		// double unmarshal to use json decode on params later
		params, err = json.Marshal(req.Params)
		if err != nil {
			return nil, err
		}
	}

	env.Id = *req.Id
	env.Params = params

	return fn(env)
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrUnknownMethod):
		return models.ErrCodeMethodNotFound
	case errors.Is(err, methods.ErrInvalidParams), errors.Is(err, methods.ErrMissingParams):
		return models.ErrCodeInvalidParams
	default:
		return models.ErrCodeApplication
	}
}

func write(s *melody.Session, resp models.ResponseObject) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.Write(data)
}

func sendResponse(s *melody.Session, id uuid.UUID, result any) error {
	log.Debug().Interface("result", result).Msg("sending response")
	return write(s, models.ResponseObject{
		JsonRpc: "2.0",
		Id:      id,
		Result:  result,
	})
}

func sendError(s *melody.Session, id uuid.UUID, code int, message string) error {
	log.Debug().Int("code", code).Str("message", message).Msg("sending error")
	return write(s, models.ResponseObject{
		JsonRpc: "2.0",
		Id:      id,
		Error: &models.ErrorObject{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) handleMessage(ms *melody.Session, msg []byte) {
	// ping command for heartbeat operation
	if bytes.Equal(msg, []byte("ping")) {
		err := ms.Write([]byte("pong"))
		if err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}

	if !json.Valid(msg) {
		log.Error().Msg("data not valid json")
		err := sendError(ms, uuid.Nil, models.ErrCodeParse, "parse error")
		if err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	var req models.RequestObject
	err := json.Unmarshal(msg, &req)
	if err != nil || req.JsonRpc != "2.0" || req.Method == "" {
		log.Error().Str("jsonrpc", req.JsonRpc).Msg("invalid request")
		id := uuid.Nil
		if req.Id != nil {
			id = *req.Id
		}
		err := sendError(ms, id, models.ErrCodeInvalidRequest, "invalid request")
		if err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	if req.Id == nil {
		log.Info().Str("method", req.Method).Msg("received notification, ignoring")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	resp, err := handleRequest(s.env(ctx, ms.Request.RemoteAddr), req)
	if err != nil {
		err := sendError(ms, *req.Id, errorCode(err), err.Error())
		if err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	err = sendResponse(ms, *req.Id, resp)
	if err != nil {
		log.Error().Err(err).Msg("error sending response")
	}
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Msgf("api listening on %s", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.m.Close()
	if err != nil {
		log.Warn().Err(err).Msg("closing websocket sessions")
	}

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return err
	}

	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
