package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grunted/grunts/internal/config"
	"github.com/grunted/grunts/internal/llm"
	"github.com/grunted/grunts/internal/orchestrator"
	"github.com/grunted/grunts/internal/worker"
)

type stubSource struct{ state *orchestrator.State }

func (s *stubSource) State() *orchestrator.State { return s.state }

func testDashboard(t *testing.T, state *orchestrator.State) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Providers:       map[string]config.ProviderConfig{"openai": {APIKey: "test-key"}},
		ModelConfigPath: "does-not-exist.yaml",
	}
	reg := llm.NewRegistry()
	if err := reg.Initialize(cfg); err != nil {
		t.Fatal(err)
	}

	s := New(&stubSource{state: state}, reg, nil, nil)
	s.PushInterval = 20 * time.Millisecond
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func runState() *orchestrator.State {
	return &orchestrator.State{
		RunID: "run-1",
		Tier:  "ultralight",
		Workers: map[int]worker.StatusSnapshot{
			1: {WorkerID: 1, Phase: worker.PhaseCoding, CurrentIteration: 2, BestScore: 40},
			2: {WorkerID: 2, Phase: worker.PhaseCompleted, BestScore: 95},
		},
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := testDashboard(t, runState())

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Run == nil || payload.Run.RunID != "run-1" {
		t.Errorf("run = %+v", payload.Run)
	}
	if len(payload.Run.Workers) != 2 {
		t.Errorf("workers = %+v", payload.Run.Workers)
	}
	if len(payload.Providers) == 0 {
		t.Error("no provider status")
	}
}

func TestStatusEndpointIdle(t *testing.T) {
	_, ts := testDashboard(t, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Run != nil {
		t.Errorf("idle run = %+v", payload.Run)
	}
}

func TestWebsocketPush(t *testing.T) {
	_, ts := testDashboard(t, runState())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// At least two pushes arrive on the tick cadence.
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var payload statusPayload
		if err := conn.ReadJSON(&payload); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if payload.Run == nil || payload.Run.Tier != "ultralight" {
			t.Errorf("push %d = %+v", i, payload.Run)
		}
	}
}

func TestIndexServesPage(t *testing.T) {
	_, ts := testDashboard(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("index response = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestToolEndpointAbsentWithoutPipeline(t *testing.T) {
	_, ts := testDashboard(t, nil)

	resp, err := http.Post(ts.URL+"/api/tool", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("tool endpoint without pipeline = %d, want 404", resp.StatusCode)
	}
}
