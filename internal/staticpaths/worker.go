package staticpaths

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecWorker evaluates enumeration requests by spawning the configured
// command. The request is written as JSON on stdin and the result is
// read as JSON from stdout, so the worker side can be any executable
// honoring the contract.
type ExecWorker struct {
	Command string
	Args    []string
}

// LoadStaticPaths runs one worker process. A non-zero exit or a killed
// process reports as a crash, which the coordinator may retry;
// unparseable output does not, since rerunning the same module would
// produce the same garbage.
func (w *ExecWorker) LoadStaticPaths(ctx context.Context, req Request) (*RawResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.Command, w.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = exitErr.String()
			}
			return nil, fmt.Errorf("%w: %s", ErrWorkerCrashed, detail)
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkerCrashed, err)
	}

	var raw RawResult
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("decode worker output for %s: %w", req.Pathname, err)
	}
	return &raw, nil
}
