package flow

import (
	"context"
	"time"

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/api"
)

// call is the per-invocation retry state. All of it is private to one call;
// strategies never share state across invocations.
type call struct {
	desc      Descriptor
	attempt   Attempt
	policy    RetryPolicy
	handle    *Handle
	logger    *logging.Logger
	startedAt time.Time
	deadline  time.Time
	attempts  int
}

func newCall(desc Descriptor, attempt Attempt, policy RetryPolicy, h *Handle, logger *logging.Logger) *call {
	now := time.Now()
	return &call{
		desc:      desc,
		attempt:   attempt,
		policy:    policy,
		handle:    h,
		logger:    logger,
		startedAt: now,
		deadline:  now.Add(policy.MaxRetryDuration),
	}
}

// run executes the attempt until success, a terminal error, or the retry
// deadline. It resolves the handle exactly once.
func (c *call) run(ctx context.Context) {
	for {
		c.attempts++
		secret, err := c.attempt(ctx)
		if err == nil {
			c.onSuccess(secret)
			return
		}

		if !c.policy.Classify(err) {
			c.onError(err)
			return
		}

		next := time.Now().Add(c.policy.RetryInterval)
		if !next.Before(c.deadline) {
			c.onError(err)
			return
		}

		c.logger.Debug("retrying %s %s after %v (attempt %d): %v",
			c.desc.Operation, logging.Secret(c.desc.Path), c.policy.RetryInterval, c.attempts, err)

		if err := waitRetry(ctx, c.policy.RetryInterval); err != nil {
			c.onError(err)
			return
		}
	}
}

// onSuccess resolves the handle with the value. A second resolution for the
// same call is a contract violation; the handle ignores it and we log.
func (c *call) onSuccess(secret *api.Secret) {
	if !c.handle.resolve(secret, nil) {
		c.logger.Warn("handle for %s %s resolved twice", c.desc.Operation, logging.Secret(c.desc.Path))
	}
}

// onError resolves the handle with a terminal error.
func (c *call) onError(err error) {
	if !c.handle.resolve(nil, err) {
		c.logger.Warn("handle for %s %s resolved twice", c.desc.Operation, logging.Secret(c.desc.Path))
	}
}

// waitRetry sleeps for the retry interval or returns early when the context
// is cancelled.
func waitRetry(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
