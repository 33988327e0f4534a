package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/grunted/grunts/internal/config"
	. "github.com/grunted/grunts/internal/logging"
	"github.com/grunted/grunts/internal/worker"
)

// terminateGrace is how long a worker gets between SIGTERM and SIGKILL.
const terminateGrace = 10 * time.Second

// cancelTimeout bounds the cooperative-cancel HTTP call before
// termination escalates.
const cancelTimeout = 2 * time.Second

// Launcher starts workers. The process launcher is the production path;
// the in-process launcher backs tests.
type Launcher interface {
	Launch(ctx context.Context, spec worker.Spec, task worker.Task) (Handle, error)
}

// Handle is one launched worker as the orchestrator sees it.
type Handle interface {
	Spec() worker.Spec
	Status(ctx context.Context) (worker.StatusSnapshot, error)
	Cancel(ctx context.Context) error
	Terminate()
	Result() *worker.Result
}

// statusPayload mirrors the worker's /status response.
type statusPayload struct {
	worker.StatusSnapshot
	URL string `json:"url,omitempty"`
}

// ProcessLauncher runs each worker as a child process of this binary
// (`grunts worker`), bound to its own port and workspace.
type ProcessLauncher struct {
	// Binary overrides the executable; empty means self.
	Binary string
}

func (l *ProcessLauncher) Launch(ctx context.Context, spec worker.Spec, task worker.Task) (Handle, error) {
	bin := l.Binary
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		bin = self
	}

	if err := os.MkdirAll(spec.WorkspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("worker %d workspace: %w", spec.WorkerID, err)
	}
	// The full spec travels through the workspace; flags carry only the
	// identity the child needs to find it.
	if err := config.AtomicWriteJSON(filepath.Join(spec.WorkspaceDir, "spec.json"), spec, 0o644); err != nil {
		return nil, fmt.Errorf("worker %d spec: %w", spec.WorkerID, err)
	}

	logFile, err := os.Create(filepath.Join(spec.WorkspaceDir, "worker.log"))
	if err != nil {
		return nil, fmt.Errorf("worker %d log: %w", spec.WorkerID, err)
	}

	cmd := exec.Command(bin, "worker",
		"--id", strconv.Itoa(spec.WorkerID),
		"--port", strconv.Itoa(spec.Port),
		"--workspace", spec.WorkspaceDir,
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start worker %d: %w", spec.WorkerID, err)
	}
	L_info("orchestrator: worker launched", "id", spec.WorkerID, "pid", cmd.Process.Pid, "port", spec.Port)

	h := &processHandle{
		spec:    spec,
		cmd:     cmd,
		logFile: logFile,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", spec.Port),
		client:  &http.Client{Timeout: 5 * time.Second},
		waited:  make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		logFile.Close()
		close(h.waited)
	}()

	if err := h.awaitHealthy(ctx); err != nil {
		h.Terminate()
		return nil, err
	}
	if err := h.postTask(ctx, task); err != nil {
		h.Terminate()
		return nil, err
	}
	return h, nil
}

type processHandle struct {
	spec    worker.Spec
	cmd     *exec.Cmd
	logFile *os.File
	baseURL string
	client  *http.Client
	waited  chan struct{}

	mu   sync.Mutex
	last *statusPayload
}

func (h *processHandle) Spec() worker.Spec { return h.spec }

// awaitHealthy polls /health until the child is serving.
func (h *processHandle) awaitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
		resp, err := h.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("worker %d never became healthy", h.spec.WorkerID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (h *processHandle) postTask(ctx context.Context, task worker.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/task", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("hand task to worker %d: %w", h.spec.WorkerID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker %d rejected task: %s", h.spec.WorkerID, resp.Status)
	}
	return nil
}

func (h *processHandle) Status(ctx context.Context) (worker.StatusSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/status", nil)
	if err != nil {
		return worker.StatusSnapshot{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return worker.StatusSnapshot{}, err
	}
	defer resp.Body.Close()

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return worker.StatusSnapshot{}, err
	}
	h.mu.Lock()
	h.last = &payload
	h.mu.Unlock()
	return payload.StatusSnapshot, nil
}

func (h *processHandle) Cancel(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/cancel", nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Terminate stops the child: SIGTERM, then SIGKILL after the grace period.
func (h *processHandle) Terminate() {
	select {
	case <-h.waited:
		return
	default:
	}
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-h.waited:
	case <-time.After(terminateGrace):
		L_warn("orchestrator: worker ignored SIGTERM, killing", "id", h.spec.WorkerID)
		_ = h.cmd.Process.Kill()
		<-h.waited
	}
}

// Result reconstructs the terminal outcome from the last observed status.
func (h *processHandle) Result() *worker.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	snap := h.last.StatusSnapshot
	if snap.Phase != worker.PhaseCompleted && snap.Phase != worker.PhaseFailed {
		return nil
	}
	res := &worker.Result{
		WorkerID:    snap.WorkerID,
		Phase:       snap.Phase,
		AbortReason: snap.AbortReason,
		BestScore:   snap.BestScore,
		Iterations:  snap.CurrentIteration,
		URL:         h.last.URL,
	}
	if h.last.URL != "" {
		res.ArtifactDir = h.spec.WorkspaceDir
	}
	return res
}

// InProcessLauncher runs workers as goroutines in this process. Used by
// tests and by single-process deployments.
type InProcessLauncher struct {
	Completer     worker.Completer
	ContextWindow int
}

func (l *InProcessLauncher) Launch(ctx context.Context, spec worker.Spec, task worker.Task) (Handle, error) {
	w := worker.New(spec, l.Completer, l.ContextWindow)
	h := &inProcessHandle{worker: w, spec: spec, done: make(chan struct{})}
	runCtx, cancel := context.WithCancel(context.Background())
	h.cancelRun = cancel
	go func() {
		defer close(h.done)
		h.setResult(w.Run(runCtx, task))
	}()
	return h, nil
}

type inProcessHandle struct {
	worker    *worker.Worker
	spec      worker.Spec
	done      chan struct{}
	cancelRun context.CancelFunc

	mu     sync.Mutex
	result *worker.Result
}

func (h *inProcessHandle) setResult(r *worker.Result) {
	h.mu.Lock()
	h.result = r
	h.mu.Unlock()
}

func (h *inProcessHandle) Spec() worker.Spec { return h.spec }

func (h *inProcessHandle) Status(ctx context.Context) (worker.StatusSnapshot, error) {
	return h.worker.Status().Snapshot(), nil
}

func (h *inProcessHandle) Cancel(ctx context.Context) error {
	h.worker.Cancel()
	return nil
}

func (h *inProcessHandle) Terminate() {
	h.worker.Cancel()
	h.cancelRun()
	select {
	case <-h.done:
	case <-time.After(terminateGrace):
		L_warn("orchestrator: in-process worker did not stop", "id", h.spec.WorkerID)
	}
}

func (h *inProcessHandle) Result() *worker.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}
