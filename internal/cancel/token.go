// Package cancel provides the cooperative cancellation token that scopes one
// processing cycle. A token wraps a context so it can abort network requests,
// and keeps a callback set so loops and schedulers can halt on cancel.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by ThrowIfCancelled and Err once the token fires.
var ErrCancelled = errors.New("operation cancelled")

// Token is a cancellation handle. The zero value is not usable; create
// tokens with New, WithParent or Child.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	nextID    uint64
	callbacks map[uint64]func()
	stop      func() bool
}

// New returns a root token.
func New() *Token {
	return WithParent(context.Background())
}

// WithParent returns a token that is cancelled when parent is done.
func WithParent(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	t := &Token{
		ctx:       ctx,
		cancel:    func() { cancel(ErrCancelled) },
		callbacks: make(map[uint64]func()),
	}
	t.stop = context.AfterFunc(ctx, t.Cancel)
	return t
}

// Child returns a token cancelled transitively with t. Cancelling the child
// never affects t.
func (t *Token) Child() *Token {
	return WithParent(t.ctx)
}

// Cancel fires the token. It is idempotent: the signal is aborted and every
// registered callback runs exactly once, on the first call only.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := make([]func(), 0, len(t.callbacks))
	for id := uint64(0); id < t.nextID; id++ {
		if fn, ok := t.callbacks[id]; ok {
			callbacks = append(callbacks, fn)
		}
	}
	t.callbacks = nil
	t.mu.Unlock()

	t.cancel()
	for _, fn := range callbacks {
		fn()
	}
}

// IsCancelled reports whether the token has fired.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Context is the abort signal handed to network calls.
func (t *Token) Context() context.Context { return t.ctx }

// Done is closed once the token fires.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Err returns ErrCancelled after the token fires, nil before.
func (t *Token) Err() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// ThrowIfCancelled is the cooperative check used before each unit of work.
func (t *Token) ThrowIfCancelled() error {
	return t.Err()
}

// OnCancel registers fn to run when the token fires. If the token has
// already fired, fn runs immediately. The returned func removes a callback
// that has not run yet.
func (t *Token) OnCancel(fn func()) (remove func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return func() {}
	}
	if t.callbacks == nil {
		t.mu.Unlock()
		return func() {}
	}
	id := t.nextID
	t.nextID++
	t.callbacks[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.callbacks != nil {
			delete(t.callbacks, id)
		}
	}
}

// Release detaches the token from its parent and frees its context without
// running callbacks. The token must not be used after Release.
func (t *Token) Release() {
	t.stop()
	t.mu.Lock()
	t.callbacks = nil
	t.mu.Unlock()
	t.cancel()
}

// IsCancellation reports whether err stems from cancellation rather than a
// real failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
