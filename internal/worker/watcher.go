package worker

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	. "github.com/grunted/grunts/internal/logging"
)

// workspaceWatcher feeds lines_added and last_activity into the status
// record from filesystem events in the worker's workspace.
type workspaceWatcher struct {
	fsw    *fsnotify.Watcher
	status *Status

	lineCounts map[string]int
	linesAdded int
	done       chan struct{}
}

// watchWorkspace starts watching dir. Call Close when the run ends.
func watchWorkspace(dir string, status *Status) (*workspaceWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &workspaceWatcher{
		fsw:        fsw,
		status:     status,
		lineCounts: map[string]int{},
		done:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *workspaceWatcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.recount(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			L_debug("worker: watcher error", "error", err)
		}
	}
}

// recount updates the line tally for one file. Only growth counts; a
// rewrite that shrinks a file does not reduce lines_added.
func (w *workspaceWatcher) recount(path string) {
	if filepath.Ext(path) == ".tmp" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	lines := bytes.Count(data, []byte{'\n'})
	if delta := lines - w.lineCounts[path]; delta > 0 {
		w.linesAdded += delta
	}
	w.lineCounts[path] = lines
	w.status.RecordActivity(w.linesAdded)
}

// Close stops the watcher and waits for the event loop to drain.
func (w *workspaceWatcher) Close() {
	w.fsw.Close()
	<-w.done
}
