package flow

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/vaultlease/pkg/api"
)

// Result carries a resolved outcome, for channel-based consumption.
type Result struct {
	Secret *api.Secret
	Err    error
}

// Handle is a single-assignment container for a value that becomes available
// later, exactly once, as either success or failure. Handles are created per
// call and never reused.
type Handle struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	secret   *api.Secret
	err      error

	// resultCh is set only for channel-strategy handles; it receives the
	// Result exactly once.
	resultCh chan Result
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func newChannelHandle() *Handle {
	h := newHandle()
	h.resultCh = make(chan Result, 1)
	return h
}

// resolve assigns the outcome. The first call wins; later calls are no-ops.
func (h *Handle) resolve(secret *api.Secret, err error) bool {
	h.mu.Lock()
	if h.resolved {
		h.mu.Unlock()
		return false
	}
	h.resolved = true
	h.secret = secret
	h.err = err
	h.mu.Unlock()

	if h.resultCh != nil {
		h.resultCh <- Result{Secret: secret, Err: err}
	}
	close(h.done)
	return true
}

// Await blocks until the handle resolves or the context expires. A context
// timeout does not cancel the underlying attempt; it keeps running to its own
// deadline.
func (h *Handle) Await(ctx context.Context) (*api.Secret, error) {
	select {
	case <-h.done:
		return h.get()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitTimeout is Await with a duration bound. ok is false when the timeout
// fired before resolution.
func (h *Handle) AwaitTimeout(d time.Duration) (secret *api.Secret, err error, ok bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-h.done:
		secret, err = h.get()
		return secret, err, true
	case <-timer.C:
		return nil, nil, false
	}
}

// TryGet returns the outcome without blocking. resolved is false while the
// call is still in flight.
func (h *Handle) TryGet() (secret *api.Secret, err error, resolved bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.secret, h.err, h.resolved
}

// Done returns a channel closed when the handle resolves.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Chan returns the result channel for handles created by the channel
// strategy, nil otherwise. The channel delivers exactly one Result and is
// safe to use in select statements.
func (h *Handle) Chan() <-chan Result {
	return h.resultCh
}

func (h *Handle) get() (*api.Secret, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.secret, h.err
}
