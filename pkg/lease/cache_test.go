package lease

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRecord(key string, ttl time.Duration) *Record {
	return &Record{
		Key:       key,
		LeaseID:   key,
		Data:      map[string]interface{}{"value": "v1"},
		IssuedAt:  time.Now(),
		Duration:  ttl,
		Renewable: true,
		State:     StateActive,
	}
}

func TestCachePutGetRemove(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	rec := activeRecord("database/creds/app/abc", time.Hour)

	cache.Put(rec)
	got, ok := cache.Get(rec.Key)
	require.True(t, ok)
	assert.Same(t, rec, got)
	assert.Equal(t, 1, cache.Len())

	cache.Remove(rec.Key)
	_, ok = cache.Get(rec.Key)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCachePutReplacesWholesale(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	old := activeRecord("k", time.Minute)
	cache.Put(old)

	renewed := *old
	renewed.IssuedAt = old.IssuedAt.Add(time.Minute)
	renewed.Data = map[string]interface{}{"value": "v2"}
	cache.Put(&renewed)

	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Data["value"])
	assert.Equal(t, 1, cache.Len())

	// The old record is untouched: replacement, not merge.
	assert.Equal(t, "v1", old.Data["value"])
}

func TestCacheIgnoresEmptyKey(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Put(&Record{})
	cache.Put(nil)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheSnapshot(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Put(activeRecord("a", time.Minute))
	cache.Put(activeRecord("b", time.Minute))

	snap := cache.Snapshot()
	assert.Len(t, snap, 2)

	// Mutating the cache after the snapshot does not disturb it.
	cache.Remove("a")
	assert.Len(t, snap, 2)
}

func TestCacheTransition(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Put(activeRecord("k", time.Minute))

	updated, ok := cache.Transition("k", StateActive, StateRenewalPending)
	require.True(t, ok)
	assert.Equal(t, StateRenewalPending, updated.State)

	// The stored record is the updated copy.
	got, _ := cache.Get("k")
	assert.Equal(t, StateRenewalPending, got.State)

	// Wrong expected state fails.
	_, ok = cache.Transition("k", StateActive, StateRotating)
	assert.False(t, ok)

	// Missing key fails.
	_, ok = cache.Transition("missing", StateActive, StateRenewalPending)
	assert.False(t, ok)
}

func TestCacheReplaceIf(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Put(activeRecord("k", time.Minute))
	_, ok := cache.Transition("k", StateActive, StateRenewalPending)
	require.True(t, ok)

	// Replacement succeeds while the claim is still held.
	renewed := activeRecord("k", time.Hour)
	require.True(t, cache.ReplaceIf("k", StateRenewalPending, renewed))
	got, _ := cache.Get("k")
	assert.Equal(t, time.Hour, got.Duration)
	assert.Equal(t, StateActive, got.State)

	// A removed key stays removed; the replacement is rejected.
	cache.Remove("k")
	assert.False(t, cache.ReplaceIf("k", StateActive, activeRecord("k", time.Hour)))
	_, ok = cache.Get("k")
	assert.False(t, ok)

	// Wrong expected state is rejected too.
	cache.Put(activeRecord("k", time.Minute))
	assert.False(t, cache.ReplaceIf("k", StateRotating, activeRecord("k", time.Hour)))

	// A changed key retires the old entry atomically.
	_, ok = cache.Transition("k", StateActive, StateRotating)
	require.True(t, ok)
	fresh := activeRecord("k2", time.Hour)
	require.True(t, cache.ReplaceIf("k", StateRotating, fresh))
	_, ok = cache.Get("k")
	assert.False(t, ok, "old key retired on key change")
	got, ok = cache.Get("k2")
	require.True(t, ok)
	assert.Equal(t, time.Hour, got.Duration)
}

func TestCacheTransitionIsExclusive(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Put(activeRecord("k", time.Minute))

	const contenders = 32
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := cache.Transition("k", StateActive, StateRenewalPending); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins, "exactly one contender may claim the record")
}

func TestRecordExpiresAt(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	rec := &Record{Key: "k", IssuedAt: issued, Duration: 10 * time.Second}

	assert.Equal(t, issued.Add(10*time.Second), rec.ExpiresAt())
	assert.Equal(t, 4*time.Second, rec.TimeToExpiry(issued.Add(6*time.Second)))
}

func TestRecordInFlight(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Record{State: StateActive}).InFlight())
	assert.True(t, (&Record{State: StateRenewalPending}).InFlight())
	assert.True(t, (&Record{State: StateRotating}).InFlight())
	assert.False(t, (&Record{State: StateErrored}).InFlight())
}
