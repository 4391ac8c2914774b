package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/api"
)

var testLogger = logging.New(false, true)

func testSecret(requestID string) *api.Secret {
	return &api.Secret{RequestID: requestID, Data: map[string]interface{}{"ok": true}}
}

func TestParseFlavor(t *testing.T) {
	t.Parallel()

	flavor, err := ParseFlavor("deferred")
	require.NoError(t, err)
	assert.Equal(t, FlavorDeferred, flavor)

	flavor, err = ParseFlavor("")
	require.NoError(t, err)
	assert.Equal(t, FlavorBlocking, flavor)

	_, err = ParseFlavor("promise")
	assert.Error(t, err)
}

func TestBlockingStrategy_ResolvedOnReturn(t *testing.T) {
	t.Parallel()

	s, err := New(FlavorBlocking, RetryPolicy{}, testLogger)
	require.NoError(t, err)

	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "secret/foo"},
		func(ctx context.Context) (*api.Secret, error) {
			return testSecret("req-1"), nil
		})

	secret, err, resolved := h.TryGet()
	require.True(t, resolved, "blocking handle must be resolved before Invoke returns")
	require.NoError(t, err)
	assert.Equal(t, "req-1", secret.RequestID)
}

func TestDeferredStrategy_AwaitReturnsValueExactlyOnce(t *testing.T) {
	t.Parallel()

	s, err := New(FlavorDeferred, RetryPolicy{}, testLogger)
	require.NoError(t, err)

	release := make(chan struct{})
	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "secret/foo"},
		func(ctx context.Context) (*api.Secret, error) {
			<-release
			return testSecret("req-2"), nil
		})

	_, _, resolved := h.TryGet()
	assert.False(t, resolved, "deferred handle must not resolve before the attempt finishes")

	close(release)

	secret, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "req-2", secret.RequestID)

	// A second await observes the same value, not a re-execution.
	again, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Same(t, secret, again)
}

func TestDeferredStrategy_TerminalErrorIsAValue(t *testing.T) {
	t.Parallel()

	s, err := New(FlavorDeferred, RetryPolicy{}, testLogger)
	require.NoError(t, err)

	terminal := &api.ResponseError{StatusCode: 400, Method: "GET", Path: "secret/foo"}
	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "secret/foo"},
		func(ctx context.Context) (*api.Secret, error) {
			return nil, terminal
		})

	secret, err := h.Await(context.Background())
	assert.Nil(t, secret)
	var respErr *api.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, 400, respErr.StatusCode)
}

func TestChannelStrategy_ComposesWithSelect(t *testing.T) {
	t.Parallel()

	s, err := New(FlavorChannel, RetryPolicy{}, testLogger)
	require.NoError(t, err)

	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "secret/foo"},
		func(ctx context.Context) (*api.Secret, error) {
			return testSecret("req-3"), nil
		})

	require.NotNil(t, h.Chan())

	select {
	case res := <-h.Chan():
		require.NoError(t, res.Err)
		assert.Equal(t, "req-3", res.Secret.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("result channel never delivered")
	}
}

func TestDeferredHandle_HasNoChannel(t *testing.T) {
	t.Parallel()

	s, err := New(FlavorDeferred, RetryPolicy{}, testLogger)
	require.NoError(t, err)

	h := s.Invoke(context.Background(), Descriptor{}, func(ctx context.Context) (*api.Secret, error) {
		return testSecret("x"), nil
	})
	assert.Nil(t, h.Chan())
}

func TestRetry_NonRetryableErrorAttemptsOnce(t *testing.T) {
	t.Parallel()

	var attempts int32
	s, err := New(FlavorBlocking, RetryPolicy{
		MaxRetryDuration: 5 * time.Second,
		RetryInterval:    time.Millisecond,
	}, testLogger)
	require.NoError(t, err)

	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "p"},
		func(ctx context.Context) (*api.Secret, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, &api.ResponseError{StatusCode: 403, Method: "GET", Path: "p"}
		})

	_, err, resolved := h.TryGet()
	require.True(t, resolved)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRetry_RetryableErrorRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var attempts int32
	s, err := New(FlavorBlocking, RetryPolicy{
		MaxRetryDuration: 5 * time.Second,
		RetryInterval:    5 * time.Millisecond,
	}, testLogger)
	require.NoError(t, err)

	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "p"},
		func(ctx context.Context) (*api.Secret, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, &api.NetworkError{Method: "GET", Path: "p", Err: errors.New("connection reset")}
			}
			return testSecret("after-retries"), nil
		})

	secret, err, resolved := h.TryGet()
	require.True(t, resolved)
	require.NoError(t, err)
	assert.Equal(t, "after-retries", secret.RequestID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRetry_DeadlineBoundsAttempts(t *testing.T) {
	t.Parallel()

	const (
		maxRetry = 100 * time.Millisecond
		interval = 20 * time.Millisecond
	)

	var attempts int32
	var lastStart atomic.Value

	s, err := New(FlavorBlocking, RetryPolicy{
		MaxRetryDuration: maxRetry,
		RetryInterval:    interval,
	}, testLogger)
	require.NoError(t, err)

	started := time.Now()
	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "p"},
		func(ctx context.Context) (*api.Secret, error) {
			atomic.AddInt32(&attempts, 1)
			lastStart.Store(time.Now())
			return nil, &api.NetworkError{Method: "GET", Path: "p", Err: errors.New("eof")}
		})

	_, err, resolved := h.TryGet()
	require.True(t, resolved)
	assert.Error(t, err)

	// The last attempt must have started before the deadline elapsed.
	last := lastStart.Load().(time.Time)
	assert.True(t, last.Sub(started) < maxRetry,
		"last attempt started %v after the call, beyond the %v deadline", last.Sub(started), maxRetry)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestRetry_ContextCancellationStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(FlavorDeferred, RetryPolicy{
		MaxRetryDuration: time.Minute,
		RetryInterval:    10 * time.Millisecond,
	}, testLogger)
	require.NoError(t, err)

	h := s.Invoke(ctx, Descriptor{Operation: "read", Path: "p"},
		func(ctx context.Context) (*api.Secret, error) {
			return nil, &api.NetworkError{Method: "GET", Path: "p", Err: errors.New("eof")}
		})

	cancel()

	_, err = h.Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitTimeout_ReturnsSentinelNotCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var completed int32

	s, err := New(FlavorDeferred, RetryPolicy{}, testLogger)
	require.NoError(t, err)

	h := s.Invoke(context.Background(), Descriptor{Operation: "read", Path: "p"},
		func(ctx context.Context) (*api.Secret, error) {
			<-release
			atomic.StoreInt32(&completed, 1)
			return testSecret("slow"), nil
		})

	_, _, ok := h.AwaitTimeout(10 * time.Millisecond)
	assert.False(t, ok, "timeout should report not-resolved")
	assert.Equal(t, int32(0), atomic.LoadInt32(&completed))

	// The attempt keeps running and resolves the handle later.
	close(release)
	secret, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "slow", secret.RequestID)
}

func TestHandle_ResolveIsExactlyOnce(t *testing.T) {
	t.Parallel()

	h := newHandle()
	require.True(t, h.resolve(testSecret("first"), nil))
	require.False(t, h.resolve(testSecret("second"), nil))
	require.False(t, h.resolve(nil, errors.New("late error")))

	secret, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", secret.RequestID)
}
