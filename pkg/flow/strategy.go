package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/api"
)

// Flavor selects how results are delivered to the caller.
type Flavor string

const (
	// FlavorBlocking resolves the handle before Invoke returns; the calling
	// goroutine is blocked for the duration of the call and its retries.
	FlavorBlocking Flavor = "blocking"

	// FlavorDeferred returns an unresolved handle immediately; the caller
	// awaits it later and receives errors as values.
	FlavorDeferred Flavor = "deferred"

	// FlavorChannel is FlavorDeferred with an eagerly-created result channel
	// so the handle composes with select.
	FlavorChannel Flavor = "channel"
)

// ParseFlavor validates a configured strategy name.
func ParseFlavor(s string) (Flavor, error) {
	switch Flavor(s) {
	case FlavorBlocking, FlavorDeferred, FlavorChannel:
		return Flavor(s), nil
	case "":
		return FlavorBlocking, nil
	default:
		return "", fmt.Errorf("unknown execution strategy %q (supported: blocking, deferred, channel)", s)
	}
}

// Descriptor names the call for logging and metrics.
type Descriptor struct {
	Operation string
	Path      string
}

// Attempt performs one try of the underlying operation.
type Attempt func(ctx context.Context) (*api.Secret, error)

// RetryPolicy bounds the retry loop shared by all flavors.
type RetryPolicy struct {
	// MaxRetryDuration is the deadline measured from the first attempt; no
	// attempt starts after it elapses.
	MaxRetryDuration time.Duration

	// RetryInterval is the pause before each retry.
	RetryInterval time.Duration

	// Classify decides whether an error is worth retrying. Defaults to
	// api.Retryable with no allow-list.
	Classify func(error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetryDuration <= 0 {
		p.MaxRetryDuration = 30 * time.Second
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = time.Second
	}
	if p.Classify == nil {
		p.Classify = func(err error) bool { return api.Retryable(err, nil) }
	}
	return p
}

// Strategy decides, per call, how the handle is created, when the caller
// blocks on it, and how retries are driven on failure.
type Strategy interface {
	Invoke(ctx context.Context, desc Descriptor, attempt Attempt) *Handle
}

// New constructs the strategy for a flavor.
func New(flavor Flavor, policy RetryPolicy, logger *logging.Logger) (Strategy, error) {
	if logger == nil {
		logger = logging.New(false, true)
	}
	policy = policy.withDefaults()

	switch flavor {
	case FlavorBlocking:
		return &blockingStrategy{policy: policy, logger: logger}, nil
	case FlavorDeferred:
		return &deferredStrategy{policy: policy, logger: logger}, nil
	case FlavorChannel:
		return &channelStrategy{policy: policy, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown execution strategy %q", flavor)
	}
}

type blockingStrategy struct {
	policy RetryPolicy
	logger *logging.Logger
}

func (s *blockingStrategy) Invoke(ctx context.Context, desc Descriptor, attempt Attempt) *Handle {
	h := newHandle()
	call := newCall(desc, attempt, s.policy, h, s.logger)
	call.run(ctx)
	return h
}

type deferredStrategy struct {
	policy RetryPolicy
	logger *logging.Logger
}

func (s *deferredStrategy) Invoke(ctx context.Context, desc Descriptor, attempt Attempt) *Handle {
	h := newHandle()
	call := newCall(desc, attempt, s.policy, h, s.logger)
	go call.run(ctx)
	return h
}

type channelStrategy struct {
	policy RetryPolicy
	logger *logging.Logger
}

func (s *channelStrategy) Invoke(ctx context.Context, desc Descriptor, attempt Attempt) *Handle {
	h := newChannelHandle()
	call := newCall(desc, attempt, s.policy, h, s.logger)
	go call.run(ctx)
	return h
}
