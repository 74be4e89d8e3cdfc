// Package cancel implements the per-session cancellation controller (C6):
// a single reusable cancellation token per in-flight top-level operation
// kind, with explicit abort and auto-rotation after cancel.
package cancel

import (
	"context"
	"sync"
)

// Token is the handle cooperating operations observe. Abort causes Done to
// close and Cancelled to report true; operations must treat this as a
// cancelled outcome, not an error.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Done returns a channel closed when the token is aborted.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Cancelled reports whether this token has been aborted.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Context returns a context bound to this token's lifetime, derived from
// parent. Use for sandbox/LLM calls so they unblock on abort.
func (t *Token) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// Controller tracks one reusable token per operation kind (generation,
// deep-debug, deploy, ...). getOrCreate returns the current non-aborted
// token or creates a new one; cancel aborts the current token and discards
// it so the next getOrCreate issues a fresh one. Calling cancel twice is a
// no-op.
type Controller struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewController creates an empty cancellation controller.
func NewController() *Controller {
	return &Controller{tokens: make(map[string]*Token)}
}

// GetOrCreate returns the current non-aborted token for kind, creating one
// if absent or if the existing one has already been aborted.
func (c *Controller) GetOrCreate(kind string) *Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok, ok := c.tokens[kind]; ok && !tok.Cancelled() {
		return tok
	}

	ctx, cancel := context.WithCancel(context.Background())
	tok := &Token{ctx: ctx, cancel: cancel}
	c.tokens[kind] = tok
	return tok
}

// Cancel aborts the current token for kind, if any, and discards it. A
// second call (no current token, or an already-aborted one) is a no-op.
func (c *Controller) Cancel(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.tokens[kind]
	if !ok {
		return
	}
	tok.cancel()
	delete(c.tokens, kind)
}

// Active reports whether kind currently has a non-aborted token.
func (c *Controller) Active(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[kind]
	return ok && !tok.Cancelled()
}

// Operation kinds used across the runtime's three independent tracks (§5).
const (
	OpGeneration = "generation"
	OpDeepDebug  = "deep_debug"
	OpDeploy     = "deploy"
)
