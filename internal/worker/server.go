package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	. "github.com/grunted/grunts/internal/logging"
)

// Server is the per-worker HTTP surface: /health, /status, /task, /cancel.
// It binds to localhost only; the orchestrator is the intended client.
type Server struct {
	worker  *Worker
	started time.Time

	mu     sync.Mutex
	task   *Task
	result *Result
}

// NewServer wraps a worker with its HTTP surface.
func NewServer(w *Worker) *Server {
	return &Server{worker: w, started: time.Now()}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/task", s.handleTask)
	mux.HandleFunc("/cancel", s.handleCancel)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.worker.spec.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	L_info("worker: status server listening", "id", s.worker.spec.WorkerID, "addr", srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"worker": s.worker.spec.WorkerID,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// statusView is the /status payload: the live snapshot plus the serving
// URL once a terminal result exists.
type statusView struct {
	StatusSnapshot
	URL string `json:"url,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := statusView{StatusSnapshot: s.worker.Status().Snapshot()}
	s.mu.Lock()
	if s.result != nil {
		view.URL = s.result.URL
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, view)
}

// handleTask accepts the worker's one task. Re-posting the same task is a
// no-op acknowledgment; posting a different one is a conflict.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var task Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "bad task body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil {
		if s.task.Prompt == task.Prompt {
			writeJSON(w, http.StatusOK, map[string]string{"status": "already_accepted"})
		} else {
			http.Error(w, "worker already has a task", http.StatusConflict)
		}
		return
	}
	s.task = &task

	go func() {
		result := s.worker.Run(context.Background(), task)
		s.mu.Lock()
		s.result = result
		s.mu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.worker.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Result returns the terminal result once the run finished, if any.
func (s *Server) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
