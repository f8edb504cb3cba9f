// Package httpapi exposes a database manager over HTTP using
// github.com/julienschmidt/httprouter, translating each path-parameterised
// route into a single Manager call and an HTTP status code.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/dejankos/rocky/internal/dbmanager"
)

// manager is the subset of *dbmanager.Manager this package depends on,
// kept narrow so handlers are trivial to exercise with a fake.
type manager interface {
	Open(name string) error
	Close(name string) error
	Store(name, key string, payload []byte, ttlMillis uint64) error
	Read(name, key string) (payload []byte, found bool, err error)
	Remove(name, key string) error
	Keys(name string) ([]string, error)
	Health() error
}

// Server wires a Manager to an httprouter.Router.
type Server struct {
	mgr    manager
	log    zerolog.Logger
	Router *httprouter.Router
}

// New builds a Server with every route registered.
func New(mgr manager, log zerolog.Logger) *Server {
	s := &Server{mgr: mgr, log: log, Router: httprouter.New()}

	s.Router.POST("/:db", s.withRequestID(s.openDatabase))
	s.Router.DELETE("/:db", s.withRequestID(s.closeDatabase))
	s.Router.GET("/:db", s.withRequestID(s.listKeys))
	s.Router.POST("/:db/:key", s.withRequestID(s.storeRecord))
	s.Router.GET("/:db/:key", s.withRequestID(s.readRecord))
	s.Router.DELETE("/:db/:key", s.withRequestID(s.removeRecord))
	s.Router.GET("/health", s.withRequestID(s.health))

	return s
}

// requestIDHeader is set on every response so callers can correlate a
// request with the log line its handler emits for it.
const requestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// requestLogger returns the logger scoped to the request id withRequestID
// attached to r, or s.log unscoped if none was attached (e.g. in handler
// unit tests that call a handler directly).
func (s *Server) requestLogger(r *http.Request) zerolog.Logger {
	if log, ok := r.Context().Value(requestIDKey{}).(zerolog.Logger); ok {
		return log
	}
	return s.log
}

// withRequestID stamps every request with a fresh uuid, attaches a logger
// scoped to it to the request context, and echoes the id back on the
// response — the same correlation-id pattern the session manager in the
// pack uses for per-session and per-message ids.
func (s *Server) withRequestID(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := uuid.New().String()
		w.Header().Set(requestIDHeader, id)

		log := s.log.With().Str("request_id", id).Logger()
		ctx := context.WithValue(r.Context(), requestIDKey{}, log)
		next(w, r.WithContext(ctx), ps)
	}
}

func (s *Server) openDatabase(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.mgr.Open(ps.ByName("db"))
	s.writeStatus(w, r, err, http.StatusCreated)
}

func (s *Server) closeDatabase(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.mgr.Close(ps.ByName("db"))
	s.writeStatus(w, r, err, http.StatusNoContent)
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	keys, err := s.mgr.Keys(ps.ByName("db"))
	if err != nil {
		s.writeStatus(w, r, err, http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, k := range keys {
		_, _ = io.WriteString(w, k+"\n")
	}
}

func (s *Server) storeRecord(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ttlMillis, err := parseTTLHeader(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.mgr.Store(ps.ByName("db"), ps.ByName("key"), payload, ttlMillis)
	s.writeStatus(w, r, err, http.StatusCreated)
}

func (s *Server) readRecord(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	payload, found, err := s.mgr.Read(ps.ByName("db"), ps.ByName("key"))
	if err != nil {
		s.writeStatus(w, r, err, http.StatusOK)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) removeRecord(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.mgr.Remove(ps.ByName("db"), ps.ByName("key"))
	s.writeStatus(w, r, err, http.StatusNoContent)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.mgr.Health(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parseTTLHeader reads the "ttl" header as an absolute millisecond
// timestamp, the same header the original service's integration tests set
// (header("ttl", "1")). A missing header means the record never expires.
func parseTTLHeader(r *http.Request) (uint64, error) {
	v := r.Header.Get("ttl")
	if v == "" {
		return 0, nil
	}
	ttl, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.New("httpapi: ttl header must be an unsigned integer")
	}
	return ttl, nil
}

// writeStatus maps a Manager error onto an HTTP status: validation errors
// become 400, anything else becomes 500, and a nil error becomes ok.
func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, err error, ok int) {
	if err == nil {
		w.WriteHeader(ok)
		return
	}
	if errors.Is(err, dbmanager.ErrValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.requestLogger(r).Error().Err(err).Msg("manager operation failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
