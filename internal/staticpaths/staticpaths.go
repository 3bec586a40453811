// Package staticpaths enumerates the pre-render paths declared by
// dynamic pages. Enumeration runs in worker processes so a slow or
// crashing page module never stalls request handling, and concurrent
// requests for the same page share a single in-flight invocation.
package staticpaths

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
	"github.com/pagekit-dev/pagekit/internal/logging"
)

// ErrWorkerCrashed marks a worker process that terminated abnormally.
// Crashed workers are retried within the configured budget; any other
// worker error propagates immediately.
var ErrWorkerCrashed = errors.New("static paths worker crashed")

// Fallback is the page's fallback rendering mode for paths not in the
// enumerated set.
type Fallback int

const (
	FallbackNone Fallback = iota
	FallbackStatic
	FallbackBlocking
)

func (f Fallback) String() string {
	switch f {
	case FallbackStatic:
		return "static"
	case FallbackBlocking:
		return "blocking"
	default:
		return "none"
	}
}

// Result is the mapped outcome of one enumeration call.
type Result struct {
	Paths    []string
	Fallback Fallback
}

// Request carries everything a worker needs to evaluate a page's path
// enumeration in isolation.
type Request struct {
	BuildDir         string         `json:"buildDir"`
	Pathname         string         `json:"pathname"`
	IsLikeServerless bool           `json:"isLikeServerless"`
	RuntimeConfig    map[string]any `json:"runtimeConfig,omitempty"`
	HTTPAgentOptions map[string]any `json:"httpAgentOptions,omitempty"`
	Locales          []string       `json:"locales,omitempty"`
	DefaultLocale    string         `json:"defaultLocale,omitempty"`
}

// RawResult is the worker's wire-level answer before fallback mapping.
// Fallback is a JSON union: false, true, or the string "blocking".
type RawResult struct {
	Paths    []string        `json:"paths"`
	Fallback json.RawMessage `json:"fallback"`
}

// Worker evaluates one enumeration request.
type Worker interface {
	LoadStaticPaths(ctx context.Context, req Request) (*RawResult, error)
}

// mapFallback collapses the wire union onto the fallback modes. Only
// true and "blocking" are meaningful; everything else, including
// malformed output, means none.
func mapFallback(raw json.RawMessage) Fallback {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return FallbackNone
	}
	switch x := v.(type) {
	case bool:
		if x {
			return FallbackStatic
		}
	case string:
		if x == "blocking" {
			return FallbackBlocking
		}
	}
	return FallbackNone
}

// Coordinator deduplicates concurrent enumeration calls per pathname
// and bounds how many workers run at once. It holds no result cache:
// once a call resolves its key is forgotten, and the next call for the
// same pathname starts a fresh invocation.
type Coordinator struct {
	worker  Worker
	retries int
	base    Request
	group   singleflight.Group
	sem     chan struct{}
	log     logging.Logger
}

// Options configures a Coordinator.
type Options struct {
	Worker Worker
	// Retries is the number of extra attempts after a crashed worker.
	// Zero disables retrying; the serve command defaults it to one.
	Retries int
	// MaxConcurrent bounds simultaneous worker invocations.
	MaxConcurrent int

	BuildDir         string
	IsLikeServerless bool
	RuntimeConfig    map[string]any
	HTTPAgentOptions map[string]any
	Locales          []string
	DefaultLocale    string

	Logger logging.Logger
}

// NewCoordinator creates a static-paths coordinator.
func NewCoordinator(opts Options) *Coordinator {
	workers := opts.MaxConcurrent
	if workers <= 0 {
		workers = 4
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	return &Coordinator{
		worker:  opts.Worker,
		retries: retries,
		base: Request{
			BuildDir:         opts.BuildDir,
			IsLikeServerless: opts.IsLikeServerless,
			RuntimeConfig:    opts.RuntimeConfig,
			HTTPAgentOptions: opts.HTTPAgentOptions,
			Locales:          opts.Locales,
			DefaultLocale:    opts.DefaultLocale,
		},
		sem: make(chan struct{}, workers),
		log: opts.Logger.WithComponent("staticpaths"),
	}
}

// GetStaticPaths enumerates the pre-render paths for a page. Callers
// arriving while an invocation for the same pathname is pending attach
// to it and receive the identical result; the check-and-register step
// is atomic, so at most one worker runs per key at any moment.
func (c *Coordinator) GetStaticPaths(ctx context.Context, pathname string) (*Result, error) {
	v, err, shared := c.group.Do(pathname, func() (any, error) {
		return c.invoke(ctx, pathname)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug(ctx, "static paths call shared", "pathname", pathname)
	}
	return v.(*Result), nil
}

func (c *Coordinator) invoke(ctx context.Context, pathname string) (*Result, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := c.base
	req.Pathname = pathname

	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		raw, err := c.callWorker(ctx, req)
		if err == nil {
			return &Result{Paths: raw.Paths, Fallback: mapFallback(raw.Fallback)}, nil
		}
		lastErr = err
		if !errors.Is(err, ErrWorkerCrashed) {
			return nil, err
		}
		c.log.Warn(ctx, err, "static paths worker crashed",
			"pathname", pathname,
			"attempt", attempt,
		)
	}
	return nil, &fwerr.WorkerError{Pathname: pathname, Attempts: c.retries + 1, Err: lastErr}
}

// callWorker shields the coordinator from a panicking in-process
// worker, treating the panic like a crashed worker process.
func (c *Coordinator) callWorker(ctx context.Context, req Request) (raw *RawResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrWorkerCrashed, r)
		}
	}()
	return c.worker.LoadStaticPaths(ctx, req)
}
