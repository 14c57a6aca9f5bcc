// Package ops exposes the operator HTTP surface: the connection health
// projection and the failure ledger, including the replay path that
// re-enqueues a failed payload on its source queue.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadline/threadline/internal/rabbitmq"
	"github.com/threadline/threadline/internal/reliability"
)

// HealthSource projects the broker connection state.
type HealthSource interface {
	GetHealth() rabbitmq.Health
}

// Republisher re-enqueues a payload on a queue.
type Republisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// Server is the operator API.
type Server struct {
	health    HealthSource
	ledger    reliability.Ledger
	publisher Republisher
	logger    *slog.Logger
}

// NewServer creates the operator API server.
func NewServer(health HealthSource, ledger reliability.Ledger, publisher Republisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		health:    health,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
	}
}

// Router builds the chi router for the operator API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/failures", func(r chi.Router) {
		r.Get("/", s.handleListFailures)
		r.Get("/{id}", s.handleGetFailure)
		r.Post("/{id}/replay", s.handleReplayFailure)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.GetHealth()
	status := http.StatusOK
	if health.Status != rabbitmq.StatusConnected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	filter := reliability.Filter{
		Queue:  r.URL.Query().Get("queue"),
		Status: reliability.FailureStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.MaxResults = limit
	}

	records, err := s.ledger.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list failure records", "error", err)
		writeError(w, http.StatusInternalServerError, "listing failures failed")
		return
	}
	if records == nil {
		records = []reliability.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetFailure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "failure record not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleReplayFailure republishes the original payload on its source queue
// and removes the record from the ledger. This is the operator-driven
// recovery path for transient failures.
func (s *Server) handleReplayFailure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "failure record not found")
		return
	}

	if err := s.publisher.Publish(r.Context(), record.Queue, json.RawMessage(record.Payload)); err != nil {
		s.logger.Error("failed to replay message",
			"error", err,
			"recordId", record.ID,
			"queue", record.Queue)
		writeError(w, http.StatusBadGateway, "replay publish failed")
		return
	}

	if err := s.ledger.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete replayed record",
			"error", err,
			"recordId", record.ID)
	}

	s.logger.Info("failure record replayed",
		"recordId", record.ID,
		"messageId", record.MessageID,
		"queue", record.Queue)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     record.ID,
		"queue":  record.Queue,
		"status": "replayed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
