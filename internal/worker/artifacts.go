package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grunted/grunts/internal/config"
)

// Artifact templates. Parameterized only by worker id, task, and port so
// two runs of the same worker produce the same files.
const readmeTemplate = `# Grunt %d output

Generated for task:

> %s

Run it:

    npm install
    npm start

Serves on http://localhost:%d
`

const packageJSONTemplate = `{
  "name": "grunt-%d-output",
  "version": "0.1.0",
  "private": true,
  "type": "module",
  "scripts": {
    "start": "npx http-server -p %d ."
  }
}
`

const startScriptTemplate = `#!/bin/sh
exec npx http-server -p %d .
`

// WriteArtifacts writes the best candidate plus its supporting files into
// the worker's workspace. Returns the artifact directory and the serving
// URL.
func WriteArtifacts(spec Spec, task Task, code string) (dir, url string, err error) {
	dir = spec.WorkspaceDir
	port := spec.Port

	files := map[string]string{
		"game.js":      code,
		"README.md":    fmt.Sprintf(readmeTemplate, spec.WorkerID, summarize(task.Prompt), port),
		"package.json": fmt.Sprintf(packageJSONTemplate, spec.WorkerID, port),
		"start.sh":     fmt.Sprintf(startScriptTemplate, port),
	}
	for name, content := range files {
		if err := config.AtomicWrite(filepath.Join(dir, name), []byte(content), filePerm(name)); err != nil {
			return "", "", fmt.Errorf("write %s: %w", name, err)
		}
	}

	return dir, fmt.Sprintf("localhost:%d", port), nil
}

func filePerm(name string) os.FileMode {
	if strings.HasSuffix(name, ".sh") {
		return 0o755
	}
	return 0o644
}

func summarize(prompt string) string {
	prompt = strings.TrimSpace(strings.ReplaceAll(prompt, "\n", " "))
	if len(prompt) > 120 {
		return prompt[:117] + "..."
	}
	if prompt == "" {
		return "(best-effort partial result)"
	}
	return prompt
}
