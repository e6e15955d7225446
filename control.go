package offlinecache

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/0ri0nRo/offline-cache/pkg/lifecycle"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
)

// ControlPath is where the binary mounts the control handler.
const ControlPath = "/.offline-cache"

// clearCacheTimeout bounds the wait for a CLEAR_CACHE reply.
const clearCacheTimeout = 10 * time.Second

// WorkerStatus describes a worker in the status document.
type WorkerStatus struct {
	Generation string          `json:"generation"`
	State      lifecycle.State `json:"state"`
}

// Status is the status document of the service.
type Status struct {
	Active  *WorkerStatus `json:"active"`
	Waiting *WorkerStatus `json:"waiting"`
}

func workerStatus(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{Generation: w.generation, State: w.State()}
}

// Status returns the active and waiting workers.
func (s *Service) Status() Status {
	return Status{
		Active:  workerStatus(s.Active()),
		Waiting: workerStatus(s.Waiting()),
	}
}

// ControlHandler returns the control channel of the service:
//
//	POST /message  {"type":"SKIP_WAITING"|"CLEAR_CACHE"}
//	GET  /status
//	GET  /entries
//	GET  /metrics
func (s *Service) ControlHandler() http.Handler {
	r := chi.NewRouter()
	r.Post("/message", s.handleMessage)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})
	r.Get("/entries", s.handleEntries)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.metrics.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	return r
}

func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	logger := getLogger(r, &s.log)
	var msg lifecycle.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}

	var reply chan lifecycle.Reply
	if msg.Type == lifecycle.ClearCacheMessage {
		reply = make(chan lifecycle.Reply, 1)
		msg.Reply = reply
	}
	if err := s.PostMessage(r.Context(), msg); err != nil {
		logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("Message not handled")
		switch {
		case errors.Is(err, lifecycle.ErrUnknownMessage):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrNoWorker):
			writeJSON(w, http.StatusOK, lifecycle.Reply{Success: false})
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	logger.Info().Str("type", string(msg.Type)).Msg("Message handled")

	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	select {
	case res := <-reply:
		writeJSON(w, http.StatusOK, res)
	case <-time.After(clearCacheTimeout):
		http.Error(w, "no reply", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

// handleEntries lists the URLs stored in the active generation.
func (s *Service) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries := []string{}
	if active := s.Active(); active != nil {
		reqs, err := active.lifecycle.Store().Requests(r.Context())
		if err != nil {
			getLogger(r, &s.log).Warn().Err(err).Msg("Could not list cache entries")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, req := range reqs {
			entries = append(entries, req.URL.String())
		}
		slices.Sort(entries)
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
