package kv

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/api"
	"github.com/systmms/vaultlease/pkg/flow"
	"github.com/systmms/vaultlease/pkg/lease"
)

type fakeSender struct {
	sendFunc func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error)
	calls    []string
}

func (f *fakeSender) Send(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
	f.calls = append(f.calls, method+" "+path)
	return f.sendFunc(ctx, method, path, body)
}

func testStrategy(t *testing.T) flow.Strategy {
	t.Helper()
	logger := logging.NewWithWriter(io.Discard, false, true)
	s, err := flow.New(flow.FlavorBlocking, flow.RetryPolicy{
		MaxRetryDuration: 50 * time.Millisecond,
		RetryInterval:    10 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	return s
}

func TestGetV2UnwrapsEnvelope(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			assert.Equal(t, "GET secret/data/myapp", method+" "+path)
			return &api.Secret{
				Data: map[string]interface{}{
					"data":     map[string]interface{}{"password": "hunter2"},
					"metadata": map[string]interface{}{"version": float64(3)},
				},
			}, nil
		},
	}
	e := New(sender, testStrategy(t), nil, nil, "secret")

	secret, err := e.Get(context.Background(), "myapp").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret.Data["password"])
	_, hasEnvelope := secret.Data["data"]
	assert.False(t, hasEnvelope)
}

func TestGetV1PathUntouched(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			assert.Equal(t, "secret/myapp", path)
			return &api.Secret{Data: map[string]interface{}{"k": "v"}}, nil
		},
	}
	e := New(sender, testStrategy(t), nil, nil, "secret", WithVersion(1))

	secret, err := e.Get(context.Background(), "myapp").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", secret.Data["k"])
}

func TestGetMissingSecretIsNotFound(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			return nil, nil
		},
	}
	e := New(sender, testStrategy(t), nil, nil, "secret")

	_, err := e.Get(context.Background(), "absent").Await(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}

func TestPutV2WrapsDataAndInvalidatesCache(t *testing.T) {
	t.Parallel()

	cache := lease.NewCache()
	cache.Put(&lease.Record{
		Key:      "secret/myapp",
		Data:     map[string]interface{}{"password": "stale"},
		IssuedAt: time.Now(),
		Duration: time.Hour,
	})

	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			assert.Equal(t, "POST secret/data/myapp", method+" "+path)
			inner, ok := body["data"].(map[string]interface{})
			require.True(t, ok, "v2 write wraps payload in data envelope")
			assert.Equal(t, "fresh", inner["password"])
			return &api.Secret{}, nil
		},
	}
	e := New(sender, testStrategy(t), cache, nil, "secret", WithCacheTTL(time.Hour))

	_, err := e.Put(context.Background(), "myapp", map[string]interface{}{"password": "fresh"}).Await(context.Background())
	require.NoError(t, err)

	_, ok := cache.Get("secret/myapp")
	assert.False(t, ok, "write drops the cached copy")
}

func TestGetCachesLeaselessSecret(t *testing.T) {
	t.Parallel()

	cache := lease.NewCache()
	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			return &api.Secret{
				Data: map[string]interface{}{"data": map[string]interface{}{"k": "v"}},
			}, nil
		},
	}
	e := New(sender, testStrategy(t), cache, nil, "secret", WithCacheTTL(time.Hour))

	ctx := context.Background()
	_, err := e.Get(ctx, "myapp").Await(ctx)
	require.NoError(t, err)

	rec, ok := cache.Get("secret/myapp")
	require.True(t, ok)
	assert.Equal(t, "v", rec.Data["k"])
	assert.NotNil(t, rec.Rotate, "cached record re-reads on expiry")

	// Second read is served from cache.
	_, err = e.Get(ctx, "myapp").Await(ctx)
	require.NoError(t, err)
	assert.Len(t, sender.calls, 1)
}

func TestGetLeasedSecretNotCached(t *testing.T) {
	t.Parallel()

	cache := lease.NewCache()
	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			return &api.Secret{
				LeaseID: "secret/lease/1",
				Data:    map[string]interface{}{"data": map[string]interface{}{"k": "v"}},
			}, nil
		},
	}
	e := New(sender, testStrategy(t), cache, nil, "secret", WithCacheTTL(time.Hour))

	_, err := e.Get(context.Background(), "myapp").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Len(), "only leaseless reads get pseudo-TTL records")
}

func TestCachedRecordReread(t *testing.T) {
	t.Parallel()

	cache := lease.NewCache()
	value := "v1"
	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			return &api.Secret{
				Data: map[string]interface{}{"data": map[string]interface{}{"k": value}},
			}, nil
		},
	}
	e := New(sender, testStrategy(t), cache, nil, "secret", WithCacheTTL(time.Hour))

	ctx := context.Background()
	_, err := e.Get(ctx, "myapp").Await(ctx)
	require.NoError(t, err)

	rec, ok := cache.Get("secret/myapp")
	require.True(t, ok)

	value = "v2"
	fresh, err := rec.Rotate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret/myapp", fresh.Key)
	assert.Equal(t, "v2", fresh.Data["k"])
	assert.NotNil(t, fresh.Rotate)
}

func TestListV2UsesMetadataPath(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			assert.Equal(t, "LIST secret/metadata/apps", method+" "+path)
			return &api.Secret{
				Data: map[string]interface{}{"keys": []interface{}{"a", "b/"}},
			}, nil
		},
	}
	e := New(sender, testStrategy(t), nil, nil, "secret")

	secret, err := e.List(context.Background(), "apps").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b/"}, Keys(secret))
}

func TestDeleteInvalidatesCache(t *testing.T) {
	t.Parallel()

	cache := lease.NewCache()
	cache.Put(&lease.Record{
		Key:      "secret/myapp",
		Data:     map[string]interface{}{"k": "v"},
		IssuedAt: time.Now(),
		Duration: time.Hour,
	})

	sender := &fakeSender{
		sendFunc: func(ctx context.Context, method, path string, body map[string]interface{}) (*api.Secret, error) {
			assert.Equal(t, "DELETE secret/data/myapp", method+" "+path)
			return nil, nil
		},
	}
	e := New(sender, testStrategy(t), cache, nil, "secret")

	_, err := e.Delete(context.Background(), "myapp").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestKeysOnNilSecret(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Keys(nil))
	assert.Nil(t, Keys(&api.Secret{Data: map[string]interface{}{}}))
}
