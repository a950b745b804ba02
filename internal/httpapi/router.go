// Package httpapi is the local control surface: sync status, queue
// inspection, manual sync triggering, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/waslni/shipsync/internal/queue"
	"github.com/waslni/shipsync/internal/syncengine"
)

// SyncRunner is the engine surface the API needs; narrowed for tests.
type SyncRunner interface {
	Sync(ctx context.Context) (*syncengine.Result, error)
	Status() syncengine.Status
}

// ConnectivitySource reports the debounced online flag.
type ConnectivitySource interface {
	IsOnline() bool
}

// Server holds dependencies for the control API handlers.
type Server struct {
	Engine  SyncRunner
	Queue   *queue.Queue
	Monitor ConnectivitySource
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// Routes creates the control API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	r.Get("/v1/sync/status", s.GetStatus)
	r.Get("/v1/sync/queue", s.GetQueue)
	r.Post("/v1/sync/trigger", s.TriggerSync)

	r.Handle("/metrics", promhttp.Handler())

	log.Info().Msg("control API routes registered")
	return r
}

type statusResponse struct {
	syncengine.Status
	Online bool `json:"online"`
}

// GetStatus reports the engine state, queue depth and connectivity flag.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.Engine.Status(),
		Online: s.Monitor.IsOnline(),
	})
}

type queueEntryView struct {
	ID         string          `json:"id"`
	Op         string          `json:"op"`
	Table      string          `json:"table"`
	Payload    json.RawMessage `json:"payload"`
	TempID     string          `json:"tempId,omitempty"`
	UserID     string          `json:"userId"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// GetQueue lists pending mutation entries in replay order.
func (s *Server) GetQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Queue.Pending()
	if err != nil {
		log.Error().Err(err).Msg("failed to read mutation queue")
		http.Error(w, "failed to read queue", http.StatusInternalServerError)
		return
	}

	views := make([]queueEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, queueEntryView{
			ID:         e.ID,
			Op:         string(e.Op),
			Table:      e.Table,
			Payload:    e.Payload,
			TempID:     e.TempID,
			UserID:     e.UserID,
			EnqueuedAt: e.EnqueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

// TriggerSync runs a sync cycle now: the explicit user action path. The
// cycle is bound to the request context, so a dropped request aborts it at
// the next entry boundary.
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.Engine.Sync(r.Context())
	if err != nil {
		if errors.Is(err, syncengine.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "sync already in progress"})
			return
		}
		// The queue is preserved; the client may retry.
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"replayed":   result.Replayed,
		"reconciled": result.Reconciled,
		"duration":   result.Duration.String(),
	})
}
