// Package server exposes the review queue over HTTP for the reviewer UI.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/pipeline"
	"github.com/billscan/billscan/internal/review"
	"github.com/billscan/billscan/internal/store"
)

// Server serves the review API.
type Server struct {
	cfg      config.ServerConfig
	pipeline *pipeline.Pipeline
	store    store.Store
	httpSrv  *http.Server
}

// New creates a Server.
func New(cfg config.ServerConfig, p *pipeline.Pipeline, st store.Store) *Server {
	return &Server{cfg: cfg, pipeline: p, store: st}
}

// Router builds the chi router with all review endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/queue", s.handleQueue)
	r.Route("/cases/{case_id}", func(api chi.Router) {
		api.Get("/", s.handleGetCase)
		api.Post("/decide", s.handleDecide)
		api.Post("/reocr", s.handleReocr)
	})

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("review server listening", zap.Int("port", s.cfg.Port))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	cases, err := s.store.ListOpenCases(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases, "count": len(cases)})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCase(r.Context(), chi.URLParam(r, "case_id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": c})
}

type decideRequest struct {
	Action  string `json:"action"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason"`
	Version int64  `json:"version"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c, err := s.pipeline.Decide(r.Context(), chi.URLParam(r, "case_id"), review.Request{
		Action:  model.CaseAction(req.Action),
		Actor:   req.Actor,
		Reason:  req.Reason,
		Version: req.Version,
		At:      time.Now().UTC(),
	})
	if err != nil {
		writeError(w, decideStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": c})
}

type reocrRequest struct {
	Zone    string `json:"zone"`
	Profile string `json:"profile"`
}

func (s *Server) handleReocr(w http.ResponseWriter, r *http.Request) {
	var req reocrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Zone == "" || req.Profile == "" {
		writeError(w, http.StatusBadRequest, "zone and profile are required")
		return
	}

	c, err := s.pipeline.Reocr(r.Context(), chi.URLParam(r, "case_id"), model.ZoneKind(req.Zone), req.Profile)
	if err != nil {
		switch {
		case eris.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "case not found")
		case eris.Is(err, store.ErrVersionConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": c})
}

func decideStatus(err error) int {
	switch {
	case eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, review.ErrStaleVersion), eris.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case eris.Is(err, review.ErrIllegalTransition), eris.Is(err, review.ErrAlreadyReopened):
		return http.StatusConflict
	case eris.Is(err, review.ErrReasonRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
