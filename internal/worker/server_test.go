package worker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	stub := &stubCompleter{responses: []string{goodGameCode}}
	w := New(testSpec(t), stub, 32_768)
	s := NewServer(w)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["worker"].(float64) != 1 {
		t.Errorf("body = %v", body)
	}
}

func TestTaskIdempotent(t *testing.T) {
	_, ts := testServer(t)
	task := Task{Prompt: gameTask}

	if resp := postJSON(t, ts.URL+"/task", task); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first post = %d, want 202", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/task", task); resp.StatusCode != http.StatusOK {
		t.Errorf("identical repost = %d, want 200", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/task", Task{Prompt: "different"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("conflicting post = %d, want 409", resp.StatusCode)
	}
}

func TestStatusReflectsRun(t *testing.T) {
	s, ts := testServer(t)
	postJSON(t, ts.URL+"/task", Task{Prompt: gameTask})

	deadline := time.Now().Add(10 * time.Second)
	for {
		if res := s.Result(); res != nil {
			if res.Phase != PhaseCompleted {
				t.Fatalf("result = %+v", res)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var view statusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Phase != PhaseCompleted || view.WorkerID != 1 {
		t.Errorf("status view = %+v", view)
	}
	if view.URL == "" {
		t.Error("completed status missing serving URL")
	}
}

func TestCancelEndpoint(t *testing.T) {
	s, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel = %d", resp.StatusCode)
	}
	// A task accepted after cancel fails immediately as cancelled.
	postJSON(t, ts.URL+"/task", Task{Prompt: gameTask})
	deadline := time.Now().Add(5 * time.Second)
	for {
		if res := s.Result(); res != nil {
			if res.AbortReason != "cancelled" {
				t.Fatalf("abort reason = %q", res.AbortReason)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("cancelled run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
