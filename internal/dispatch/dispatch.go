// Package dispatch provides the fire-and-forget invocation boundary between
// the session controller and the artifact generator. The caller cannot observe
// the downstream result; the downstream process reports by writing its own
// status back to the session store.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Invoker dispatches a named target asynchronously. Invoke returns once the
// dispatch is accepted; an error means the dispatch itself failed (a
// transport-level failure), not that the target failed.
type Invoker interface {
	Invoke(ctx context.Context, target string, payload []byte) error
}

// Handler processes a dispatched payload.
type Handler func(ctx context.Context, payload []byte) error

// LocalInvoker runs registered handlers in-process on background goroutines.
type LocalInvoker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	group    *errgroup.Group
	baseCtx  context.Context
}

// NewLocalInvoker creates a LocalInvoker. Handlers run under baseCtx, not the
// Invoke caller's context: dispatch is fire-and-forget and must outlive the
// triggering request. maxConcurrent bounds simultaneous handler runs.
func NewLocalInvoker(baseCtx context.Context, maxConcurrent int) *LocalInvoker {
	g := &errgroup.Group{}
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	return &LocalInvoker{
		handlers: make(map[string]Handler),
		group:    g,
		baseCtx:  baseCtx,
	}
}

// Register binds a handler to a target name.
func (l *LocalInvoker) Register(target string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[target] = h
}

// Invoke schedules the handler for target. Unknown targets fail synchronously;
// handler errors are logged, never returned.
func (l *LocalInvoker) Invoke(_ context.Context, target string, payload []byte) error {
	l.mu.RLock()
	h, ok := l.handlers[target]
	l.mu.RUnlock()
	if !ok {
		return eris.Errorf("dispatch: unknown target %s", target)
	}

	l.group.Go(func() error {
		if err := h(l.baseCtx, payload); err != nil {
			zap.L().Error("dispatch: handler failed",
				zap.String("target", target),
				zap.Error(err),
			)
		}
		return nil
	})
	return nil
}

// Wait blocks until all in-flight handlers finish. Used at shutdown.
func (l *LocalInvoker) Wait() {
	_ = l.group.Wait()
}

// WebhookInvoker POSTs payloads to a per-target URL.
type WebhookInvoker struct {
	client  *http.Client
	targets map[string]string
}

// NewWebhookInvoker creates a WebhookInvoker from a target→URL mapping.
func NewWebhookInvoker(targets map[string]string, timeout time.Duration) *WebhookInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookInvoker{
		client:  &http.Client{Timeout: timeout},
		targets: targets,
	}
}

func (w *WebhookInvoker) Invoke(ctx context.Context, target string, payload []byte) error {
	url, ok := w.targets[target]
	if !ok {
		return eris.Errorf("dispatch: no webhook configured for target %s", target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "dispatch: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "dispatch: post webhook %s", target)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.New(fmt.Sprintf("dispatch: webhook %s returned %d", target, resp.StatusCode))
	}
	return nil
}
