// Package api exposes the node over HTTP/JSON using chi for routing,
// matching the external interface table: item CRUD/reserve/release,
// on-demand snapshot, and a peers listing with a leader hint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scooterfleet/scooterpaxos/internal/node"
	"github.com/scooterfleet/scooterpaxos/internal/paxos"
	"github.com/scooterfleet/scooterpaxos/internal/statemachine"
)

// Server wires a Node into a chi router.
type Server struct {
	n           *node.Node
	log         zerolog.Logger
	writeTimeout time.Duration
	router      chi.Router
}

func New(n *node.Node, log zerolog.Logger, writeTimeout time.Duration) *Server {
	s := &Server{n: n, log: log, writeTimeout: writeTimeout}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestUUID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", s.handleCreate)
			r.Get("/", s.handleGet)
			r.Post("/reserve", s.handleReserve)
			r.Post("/release", s.handleRelease)
		})
	})
	r.Post("/snapshot", s.handleSnapshot)
	r.Get("/peers", s.handlePeers)
	return r
}

// requestUUID attaches a google/uuid correlation ID to every response,
// independent of chi's own sequential RequestID.
func requestUUID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Correlation-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("api: request")
	})
}

type reservePayload struct {
	ReservationID string `json:"reservation_id"`
}

type releasePayload struct {
	Distance int64 `json:"distance"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), s.writeTimeout)
	defer cancel()

	record, err := s.n.CreateScooter(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := s.n.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.n.List())
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body reservePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.writeTimeout)
	defer cancel()

	record, err := s.n.ReserveScooter(ctx, id, body.ReservationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body releasePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.writeTimeout)
	defer cancel()

	record, err := s.n.ReleaseScooter(ctx, id, body.Distance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, err := s.n.TriggerSnapshot(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type peerInfo struct {
	ID       int    `json:"id"`
	Addr     string `json:"addr"`
	Self     bool   `json:"self"`
	IsLeader bool   `json:"is_leader,omitempty"`
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	dir := s.n.Directory()
	out := make([]peerInfo, 0, dir.Size())
	for _, id := range dir.All() {
		addr, _ := dir.Addr(id)
		info := peerInfo{ID: id, Addr: addr, Self: id == dir.Self()}
		if id == dir.Self() {
			info.IsLeader = s.n.IsLeader()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a domain/node sentinel error to the status table in
// the external interface spec; anything unrecognized is a 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, statemachine.ErrExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, statemachine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, statemachine.ErrRejected):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, node.ErrRecovering):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, paxos.ErrNoQuorum):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}
