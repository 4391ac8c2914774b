package lease

import (
	"context"
	"time"

	"github.com/systmms/vaultlease/pkg/api"
)

// State tags a record's position in the maintenance lifecycle.
type State string

const (
	// StateActive is a healthy lease inside its validity window.
	StateActive State = "active"

	// StateRenewalPending marks an in-flight renewal attempt. A record in
	// this state is never re-entered by a second maintenance pass.
	StateRenewalPending State = "renewal-pending"

	// StateRotating marks an in-flight rotation attempt.
	StateRotating State = "rotating"

	// StateExpired is a lease past its expiry with no further renewal
	// possible.
	StateExpired State = "expired"

	// StateErrored is a lease whose rotation failed; it is removed from the
	// cache after the OnError callback fires.
	StateErrored State = "errored"
)

// Callbacks are user-supplied lifecycle hooks, all optional. They run on the
// callback dispatcher, never on the scheduler loop.
type Callbacks struct {
	OnRenew  func(renewed *Record)
	OnRotate func(rotated *Record)
	OnError  func(err error, stale *Record)
}

// RenewFunc extends the lease's validity without changing its value. The
// returned secret carries the fresh server-reported duration.
type RenewFunc func(ctx context.Context) (*api.Secret, error)

// RotateFunc discards the lease and obtains a fresh one, generally with a new
// value and possibly a new key.
type RotateFunc func(ctx context.Context) (*Record, error)

// Record is one unit of time-bound material currently held. Records are
// replaced wholesale on renewal and rotation, never mutated in place; any
// *Record obtained from the cache must be treated as read-only.
type Record struct {
	// Key is the stable cache identifier: the lease id, or mount+path for
	// leaseless secrets carrying a pseudo-TTL.
	Key string

	// LeaseID is the server-issued lease identifier, empty for pseudo-TTL
	// records.
	LeaseID string

	// Data is the opaque payload (secret data, credential pair, key
	// metadata).
	Data map[string]interface{}

	IssuedAt      time.Time
	Duration      time.Duration
	Renewable     bool
	RenewalWindow time.Duration

	State     State
	Callbacks Callbacks

	// Renew and Rotate are installed by the engine that created the record.
	// A nil Renew forces rotation; a nil Rotate means the lease is dropped
	// at expiry.
	Renew  RenewFunc
	Rotate RotateFunc
}

// ExpiresAt is always computed from the most recent server response; the
// client never extrapolates duration across renewals.
func (r *Record) ExpiresAt() time.Time {
	return r.IssuedAt.Add(r.Duration)
}

// TimeToExpiry returns the remaining validity relative to now.
func (r *Record) TimeToExpiry(now time.Time) time.Duration {
	return r.ExpiresAt().Sub(now)
}

// InFlight reports whether a maintenance operation currently owns the record.
func (r *Record) InFlight() bool {
	return r.State == StateRenewalPending || r.State == StateRotating
}
