// Package dashboard serves the read-only status plane: a JSON status API,
// a websocket push feed, the tool invocation endpoint, and a minimal
// embedded page.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grunted/grunts/internal/conversation"
	"github.com/grunted/grunts/internal/llm"
	. "github.com/grunted/grunts/internal/logging"
	"github.com/grunted/grunts/internal/orchestrator"
	"github.com/grunted/grunts/internal/pipeline"
)

// defaultPushInterval is the websocket push cadence, matching the
// orchestrator's poll tick.
const defaultPushInterval = 5 * time.Second

// StateSource provides the current run state; nil means no active run.
// *orchestrator.Orchestrator satisfies it.
type StateSource interface {
	State() *orchestrator.State
}

// Server is the dashboard HTTP surface.
type Server struct {
	source StateSource
	reg    *llm.Registry
	pipe   *pipeline.Pipeline
	store  *conversation.Store

	// PushInterval overrides the websocket cadence (tests shorten it).
	PushInterval time.Duration

	upgrader websocket.Upgrader
}

// New builds the dashboard server. pipe and store may be nil in run mode,
// which disables the tool and thread endpoints.
func New(source StateSource, reg *llm.Registry, pipe *pipeline.Pipeline, store *conversation.Store) *Server {
	return &Server{
		source:       source,
		reg:          reg,
		pipe:         pipe,
		store:        store,
		PushInterval: defaultPushInterval,
		// Localhost-only service; the page and the socket share an origin.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// statusPayload is the aggregate pushed to clients.
type statusPayload struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Run         *orchestrator.State  `json:"run,omitempty"`
	Providers   []llm.ProviderStatus `json:"providers"`
	Threads     []string             `json:"threads,omitempty"`
}

func (s *Server) payload(ctx context.Context) statusPayload {
	p := statusPayload{
		GeneratedAt: time.Now().UTC(),
		Run:         s.source.State(),
		Providers:   s.reg.Status(),
	}
	if s.store != nil {
		if ids, err := s.store.ListThreadIDs(ctx); err == nil {
			p.Threads = ids
		}
	}
	return p
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	if s.pipe != nil {
		mux.HandleFunc("/api/tool", s.handleTool)
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	L_info("dashboard: listening", "addr", addr)

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

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.payload(r.Context()))
}

// handleWS pushes the status payload every tick until the client goes
// away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reads are discarded; an error means the peer closed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.PushInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.payload(r.Context())); err != nil {
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleTool executes a tool invocation through the pipeline. Errors come
// back as the standard envelope with HTTP 200; transport-level problems
// only arise from malformed JSON.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.pipe.Execute(r.Context(), req)
	if err != nil {
		resp = pipeline.ErrorResponse(err)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>grunts</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
h1 { color: #9c9; }
table { border-collapse: collapse; margin-top: 1em; }
td, th { border: 1px solid #444; padding: 4px 10px; text-align: left; }
#raw { color: #777; margin-top: 2em; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>grunts</h1>
<div id="run">no active run</div>
<table id="workers"><tr><th>worker</th><th>phase</th><th>iter</th><th>best</th><th>lines</th></tr></table>
<div id="raw"></div>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const data = JSON.parse(ev.data);
  const run = data.run;
  document.getElementById("run").textContent = run
    ? run.tier + " run " + run.run_id + (run.outcome ? " — " + run.outcome : " — running")
    : "no active run";
  const table = document.getElementById("workers");
  while (table.rows.length > 1) table.deleteRow(1);
  if (run && run.workers) {
    for (const w of Object.values(run.workers)) {
      const row = table.insertRow();
      for (const v of [w.worker_id, w.phase, w.current_iteration, w.best_score, w.lines_added]) {
        row.insertCell().textContent = v;
      }
    }
  }
  document.getElementById("raw").textContent = JSON.stringify(data.providers, null, 1);
};
</script>
</body>
</html>
`
