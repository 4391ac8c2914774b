package maintenance

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/systmms/vaultlease/internal/dispatch"
	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/api"
	"github.com/systmms/vaultlease/pkg/flow"
	"github.com/systmms/vaultlease/pkg/lease"
)

// Config holds scheduler tuning. These are operational defaults, not
// structural requirements; callers override them freely.
type Config struct {
	// CheckPeriod is the tick interval (default 60s).
	CheckPeriod time.Duration

	// CheckJitter bounds the per-lease random spread applied to each
	// lease's effective due time (default 20s).
	CheckJitter time.Duration

	// RenewalWindow is how far ahead of expiry renewal starts, used when a
	// record does not carry its own window (default 600s).
	RenewalWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckPeriod <= 0 {
		c.CheckPeriod = 60 * time.Second
	}
	if c.CheckJitter < 0 {
		c.CheckJitter = 0
	} else if c.CheckJitter == 0 {
		c.CheckJitter = 20 * time.Second
	}
	if c.RenewalWindow <= 0 {
		c.RenewalWindow = 600 * time.Second
	}
	return c
}

// Scheduler is the recurring background process that keeps held leases
// valid. Each tick it scans the cache once and issues at most one
// renew-or-rotate attempt per due lease, on a worker pool separate from the
// callback pool so callback latency never delays the scan.
type Scheduler struct {
	cache     *lease.Cache
	strategy  flow.Strategy
	jobs      *dispatch.Pool
	callbacks *dispatch.Pool
	logger    *logging.Logger
	metrics   *Metrics
	cfg       Config

	// now is the clock, injectable for tests.
	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler over the given cache. The strategy drives
// retry/deadline logic for maintenance calls exactly as it does for
// foreground calls.
func NewScheduler(cache *lease.Cache, strategy flow.Strategy, jobs, callbacks *dispatch.Pool, logger *logging.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Scheduler{
		cache:     cache,
		strategy:  strategy,
		jobs:      jobs,
		callbacks: callbacks,
		logger:    logger,
		metrics:   NewMetrics(),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// Start launches the background loop. It fails if the scheduler is already
// running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("maintenance scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Debug("maintenance scheduler started (period %v, jitter %v)", s.cfg.CheckPeriod, s.cfg.CheckJitter)
	return nil
}

// Stop halts the periodic trigger and waits for the loop to exit. In-flight
// maintenance jobs finish on their pool; their records reach a terminal
// state within one additional tick.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Debug("maintenance scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.CheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick scans the cache once. A failing lease never stops the scan; all
// failure handling is per-key inside the submitted jobs.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	records := s.cache.Snapshot()
	s.metrics.RecordActiveLeases(len(records))

	for _, rec := range records {
		if rec.InFlight() {
			continue
		}
		if now.Before(s.effectiveDue(rec)) {
			continue
		}
		s.startMaintenance(ctx, rec, now)
	}
}

// effectiveDue is the moment maintenance becomes due for a record: expiry
// minus the renewal window, minus a stable per-key jitter that spreads
// same-issued leases across [0, CheckJitter) instead of clustering them.
func (s *Scheduler) effectiveDue(rec *lease.Record) time.Time {
	window := rec.RenewalWindow
	if window <= 0 {
		window = s.cfg.RenewalWindow
	}
	return rec.ExpiresAt().Add(-window).Add(-s.jitterFor(rec.Key))
}

func (s *Scheduler) jitterFor(key string) time.Duration {
	if s.cfg.CheckJitter <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return time.Duration(h.Sum64() % uint64(s.cfg.CheckJitter))
}

// startMaintenance claims the record and submits the renew-or-rotate job.
// Claiming happens before submission so a second scan skips the key.
func (s *Scheduler) startMaintenance(ctx context.Context, rec *lease.Record, now time.Time) {
	switch {
	case rec.Renewable && rec.Renew != nil:
		claimed, ok := s.cache.Transition(rec.Key, lease.StateActive, lease.StateRenewalPending)
		if !ok {
			return
		}
		s.submit(claimed, func() { s.renew(ctx, claimed) })

	case rec.Rotate != nil:
		claimed, ok := s.cache.Transition(rec.Key, lease.StateActive, lease.StateRotating)
		if !ok {
			return
		}
		s.submit(claimed, func() { s.rotate(ctx, claimed) })

	default:
		// No renewal or rotation path. Drop the record once expiry is
		// confirmed.
		if now.Before(rec.ExpiresAt()) {
			return
		}
		if _, ok := s.cache.Transition(rec.Key, lease.StateActive, lease.StateExpired); ok {
			s.cache.Remove(rec.Key)
			s.logger.Debug("lease %s expired with no renewal path, dropped", logging.Secret(rec.Key))
		}
	}
}

// submit hands a job to the maintenance pool, releasing the claim if the
// pool sheds it so the next tick can try again.
func (s *Scheduler) submit(claimed *lease.Record, job func()) {
	if err := s.jobs.Submit(job); err != nil {
		s.logger.Warn("maintenance job for %s not scheduled: %v", logging.Secret(claimed.Key), err)
		s.cache.Transition(claimed.Key, claimed.State, lease.StateActive)
	}
}

// renew attempts to extend the lease. A terminal failure (including the
// server refusing renewal) falls through to rotation.
func (s *Scheduler) renew(ctx context.Context, rec *lease.Record) {
	s.metrics.RecordRenewalStarted()
	started := s.now()

	handle := s.strategy.Invoke(ctx, flow.Descriptor{Operation: "renew", Path: rec.Key},
		func(ctx context.Context) (*api.Secret, error) {
			return rec.Renew(ctx)
		})
	secret, err := handle.Await(ctx)

	if err == nil && secret != nil && secret.TTL() > 0 {
		renewed := *rec
		renewed.State = lease.StateActive
		renewed.IssuedAt = s.now()
		renewed.Duration = secret.TTL()
		renewed.Renewable = secret.IsRenewable()

		// The claim may have been revoked while the renewal was in flight;
		// a removed lease must stay removed.
		if !s.cache.ReplaceIf(rec.Key, lease.StateRenewalPending, &renewed) {
			s.logger.Debug("lease %s removed during renewal, dropping result", logging.Secret(rec.Key))
			return
		}

		s.metrics.RecordRenewalCompleted("success", s.now().Sub(started).Seconds())
		s.logger.Debug("renewed lease %s, expires %v", logging.Secret(rec.Key), renewed.ExpiresAt())
		s.fire(func(cb lease.Callbacks) func() {
			if cb.OnRenew == nil {
				return nil
			}
			return func() { cb.OnRenew(&renewed) }
		}(rec.Callbacks))
		return
	}

	if err == nil {
		// A renewal that comes back without a usable TTL is a refusal.
		err = api.ErrLeaseNotRenewable
	}
	s.metrics.RecordRenewalCompleted("failure", s.now().Sub(started).Seconds())

	if errors.Is(err, api.ErrLeaseNotRenewable) {
		s.logger.Debug("lease %s not renewable, rotating", logging.Secret(rec.Key))
	} else {
		s.logger.Warn("renewal of lease %s failed, rotating: %v", logging.Secret(rec.Key), err)
	}

	rotating, ok := s.cache.Transition(rec.Key, lease.StateRenewalPending, lease.StateRotating)
	if !ok {
		// Revoked or replaced while we were renewing; nothing to do.
		return
	}
	s.rotate(ctx, rotating)
}

// rotate regenerates the lease. Failure is terminal for this lease only: the
// record is removed and OnError receives the stale record.
func (s *Scheduler) rotate(ctx context.Context, rec *lease.Record) {
	if rec.Rotate == nil {
		s.fail(rec, fmt.Errorf("no rotation path for lease"))
		return
	}

	s.metrics.RecordRotationStarted()
	started := s.now()

	var fresh *lease.Record
	handle := s.strategy.Invoke(ctx, flow.Descriptor{Operation: "rotate", Path: rec.Key},
		func(ctx context.Context) (*api.Secret, error) {
			r, err := rec.Rotate(ctx)
			if err != nil {
				return nil, err
			}
			fresh = r
			return &api.Secret{}, nil
		})
	_, err := handle.Await(ctx)

	if err != nil || fresh == nil {
		if err == nil {
			err = fmt.Errorf("rotation produced no record")
		}
		s.metrics.RecordRotationCompleted("failure", s.now().Sub(started).Seconds())
		s.fail(rec, err)
		return
	}

	fresh.State = lease.StateActive
	inheritMaintenance(fresh, rec)

	if !s.cache.ReplaceIf(rec.Key, lease.StateRotating, fresh) {
		s.logger.Debug("lease %s removed during rotation, dropping replacement", logging.Secret(rec.Key))
		return
	}

	s.metrics.RecordRotationCompleted("success", s.now().Sub(started).Seconds())
	s.logger.Debug("rotated lease %s -> %s", logging.Secret(rec.Key), logging.Secret(fresh.Key))

	if cb := fresh.Callbacks.OnRotate; cb != nil {
		rotated := fresh
		s.fire(func() { cb(rotated) })
	}
}

// fail removes a lease whose rotation is exhausted and notifies its owner.
func (s *Scheduler) fail(rec *lease.Record, cause error) {
	s.cache.Transition(rec.Key, rec.State, lease.StateErrored)
	s.cache.Remove(rec.Key)

	rotErr := &api.RotationError{Key: rec.Key, Err: cause}
	s.logger.Error("lease %s removed: %v", logging.Secret(rec.Key), rotErr)

	if cb := rec.Callbacks.OnError; cb != nil {
		stale := *rec
		stale.State = lease.StateErrored
		s.fire(func() { cb(rotErr, &stale) })
	}
}

// fire dispatches a callback off the scheduler's execution context.
func (s *Scheduler) fire(fn func()) {
	if fn == nil {
		return
	}
	if err := s.callbacks.Submit(fn); err != nil {
		s.logger.Warn("lease callback dropped: %v", err)
	}
}

// inheritMaintenance carries lifecycle wiring from the old record when the
// rotating engine did not set it on the fresh one.
func inheritMaintenance(fresh, old *lease.Record) {
	if fresh.Renew == nil {
		fresh.Renew = old.Renew
	}
	if fresh.Rotate == nil {
		fresh.Rotate = old.Rotate
	}
	if fresh.RenewalWindow == 0 {
		fresh.RenewalWindow = old.RenewalWindow
	}
	if fresh.Callbacks.OnRenew == nil && fresh.Callbacks.OnRotate == nil && fresh.Callbacks.OnError == nil {
		fresh.Callbacks = old.Callbacks
	}
}
