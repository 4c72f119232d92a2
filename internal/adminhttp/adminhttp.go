// Package adminhttp is the operator HTTP surface: read-only dead-letter
// listing and a replay-enqueue endpoint. It exists because the pipeline
// itself never drains the DLQ (spec.md §4.8, §7 Non-goals) — draining is
// explicitly out-of-band operator tooling, and this is that tooling's
// concrete home.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pulsecore/internal/authctx"
	"pulsecore/internal/dlq"
	"pulsecore/internal/stream"
	"pulsecore/internal/telemetry/health"
	"pulsecore/internal/telemetry/logctx"
)

const (
	scopeReadDLQ   = "admin:dlq:read"
	scopeReplayDLQ = "admin:dlq:replay"
)

// Replayer re-publishes a dead-lettered event back onto the change-stream
// so the orchestrator picks it up again. It does not touch the DLQ: the
// Server removes the entry after Replay returns.
type Replayer interface {
	Replay(ctx context.Context, event stream.Event) error
}

// Server wires the DLQ listing/replay handlers and the health endpoint to
// a chi.Router.
type Server struct {
	queue     dlq.Queue
	replayer  Replayer
	verifier  *authctx.Verifier
	evaluator *health.Evaluator
}

func New(queue dlq.Queue, replayer Replayer, verifier *authctx.Verifier, evaluator *health.Evaluator) *Server {
	return &Server{queue: queue, replayer: replayer, verifier: verifier, evaluator: evaluator}
}

// Mount attaches the admin routes under r.
func (s *Server) Mount(r chi.Router) {
	r.Route("/admin/dlq", func(r chi.Router) {
		r.With(s.verifier.Middleware(scopeReadDLQ)).Get("/", s.listEntries)
		r.With(s.verifier.Middleware(scopeReplayDLQ)).Post("/{sequenceID}/replay", s.replayEntry)
	})
	r.Get("/healthz", s.healthz)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		writeJSON(w, http.StatusOK, health.Snapshot{Overall: health.StatusUnknown})
		return
	}
	snap := s.evaluator.Evaluate(r.Context())
	status := http.StatusOK
	if snap.Overall == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

type dlqEntryView struct {
	SequenceID       int64  `json:"sequence_id"`
	PulseID          string `json:"pulse_id,omitempty"`
	ErrorKind        string `json:"error_kind"`
	Attempts         int    `json:"attempts"`
	LastErrorMessage string `json:"last_error_message"`
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]dlqEntryView, 0, len(entries))
	for _, e := range entries {
		pulseID := ""
		if e.Event.Pulse != nil {
			pulseID = e.Event.Pulse.PulseID
		}
		views = append(views, dlqEntryView{
			SequenceID:       e.Event.SequenceID,
			PulseID:          pulseID,
			ErrorKind:        e.ErrorKind.String(),
			Attempts:         e.Attempts,
			LastErrorMessage: e.LastErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) replayEntry(w http.ResponseWriter, r *http.Request) {
	sequenceID, err := strconv.ParseInt(chi.URLParam(r, "sequenceID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := s.queue.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	var found *dlq.Entry
	for i := range entries {
		if entries[i].Event.SequenceID == sequenceID {
			found = &entries[i]
			break
		}
	}
	if found == nil {
		http.Error(w, "dead-letter entry not found", http.StatusNotFound)
		return
	}

	if err := s.replayer.Replay(r.Context(), found.Event); err != nil {
		logctx.Error(r.Context(), "dlq replay failed", "error", err, "sequence_id", sequenceID)
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.queue.Remove(r.Context(), sequenceID); err != nil {
		logctx.Error(r.Context(), "dlq remove after replay failed", "error", err, "sequence_id", sequenceID)
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
