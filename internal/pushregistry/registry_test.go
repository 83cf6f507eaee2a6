package pushregistry

import (
	"crypto/ecdh"
	"crypto/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/datastore"
	"github.com/storyapp/storyapp/internal/datastore/repository"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/subscription"
)

func serverKey(t *testing.T) []byte {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv.PublicKey().Bytes()
}

func gormStore(t *testing.T) repository.PushSubscriptionRepository {
	t.Helper()
	mgr, err := datastore.NewManager(datastore.Config{
		Backend: datastore.BackendSQLite,
		DSN:     filepath.Join(t.TempDir(), "push.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())
	return repository.NewPushSubscriptionRepository(mgr.DB())
}

func stores(t *testing.T) map[string]func(t *testing.T) repository.PushSubscriptionRepository {
	t.Helper()
	return map[string]func(t *testing.T) repository.PushSubscriptionRepository{
		"memory": func(*testing.T) repository.PushSubscriptionRepository { return NewMemoryStore() },
		"gorm":   gormStore,
	}
}

func newRegistry(t *testing.T, store repository.PushSubscriptionRepository) *Registry {
	t.Helper()
	r, err := New(Config{Scope: "http://localhost:8080", PublicURL: "http://worker.test/", Store: store})
	require.NoError(t, err)
	return r
}

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()

	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := t.Context()
			r := newRegistry(t, mk(t))
			key := serverKey(t)

			rec, err := r.GetSubscription(ctx)
			require.NoError(t, err)
			assert.Nil(t, rec)

			rec, err = r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(rec.Endpoint, "http://worker.test/push/"), rec.Endpoint)
			assert.Len(t, rec.P256dh, 65)
			assert.Equal(t, byte(0x04), rec.P256dh[0])
			assert.Len(t, rec.Auth, authLength)

			_, err = ecdh.P256().NewPublicKey(rec.P256dh)
			require.NoError(t, err)

			again, err := r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key})
			require.NoError(t, err)
			assert.Equal(t, rec, again, "existing subscription must be reused")

			got, err := r.GetSubscription(ctx)
			require.NoError(t, err)
			assert.Equal(t, rec, got)

			removed, err := r.Unsubscribe(ctx)
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = r.Unsubscribe(ctx)
			require.NoError(t, err)
			assert.False(t, removed)

			got, err = r.GetSubscription(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestRegistry_SubscribeValidation(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	r := newRegistry(t, nil)

	_, err := r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: false, ApplicationServerKey: serverKey(t)})
	require.Error(t, err)

	_, err = r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: []byte{1, 2, 3}})
	require.Error(t, err)

	_, err = r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: serverKey(t)})
	require.NoError(t, err)

	_, err = r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: serverKey(t)})
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestRegistry_ConcurrentSubscribeCreatesOne(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	r := newRegistry(t, nil)
	key := serverKey(t)

	var wg sync.WaitGroup
	endpoints := make([]string, 16)
	for i := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key})
			if assert.NoError(t, err) {
				endpoints[i] = rec.Endpoint
			}
		}()
	}
	wg.Wait()

	for _, e := range endpoints {
		assert.Equal(t, endpoints[0], e)
	}
}

func TestNew_RequiresPublicURL(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Scope: "x"})
	require.Error(t, err)
}

func TestEndpointID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     string
		ok       bool
	}{
		{"http://worker.test/push/0b0d5a70-4bd2-4f38-8a4f-5e1c9a9f4c11", "0b0d5a70-4bd2-4f38-8a4f-5e1c9a9f4c11", true},
		{"https://fcm.googleapis.com/fcm/send/abc", "", false},
		{"http://worker.test/push/not-a-uuid", "", false},
	}
	for _, tt := range tests {
		got, ok := EndpointID(tt.endpoint)
		assert.Equal(t, tt.ok, ok, tt.endpoint)
		assert.Equal(t, tt.want, got, tt.endpoint)
	}
}

func TestDirectory(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := NewMemoryStore()
	r := newRegistry(t, store)
	rec, err := r.Subscribe(ctx, subscription.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: serverKey(t)})
	require.NoError(t, err)
	id, ok := EndpointID(rec.Endpoint)
	require.True(t, ok)

	t.Run("store fallback", func(t *testing.T) {
		d := NewDirectory(store, nil)
		assert.True(t, d.Lookup(ctx, id))
		assert.False(t, d.Lookup(ctx, "0b0d5a70-4bd2-4f38-8a4f-5e1c9a9f4c11"))
	})

	t.Run("broadcast", func(t *testing.T) {
		ch := broadcast.NewLocalChannel(logger.NewNop())
		t.Cleanup(func() { _ = ch.Close() })

		d := NewDirectory(nil, nil)
		unsubscribe, err := d.Attach(ch)
		require.NoError(t, err)
		defer unsubscribe()

		assert.False(t, d.Lookup(ctx, id))

		require.NoError(t, ch.Publish(ctx, broadcast.TopicSubscription, broadcast.Message{
			Type:    broadcast.TypeSubscriptionChanged,
			Payload: map[string]any{"subscribed": true, "endpoint": rec.Endpoint},
		}))
		assert.Eventually(t, func() bool { return d.Lookup(ctx, id) }, time.Second, 5*time.Millisecond)

		require.NoError(t, ch.Publish(ctx, broadcast.TopicSubscription, broadcast.Message{
			Type:    broadcast.TypeSubscriptionChanged,
			Payload: map[string]any{"subscribed": false, "endpoint": rec.Endpoint},
		}))
		assert.Eventually(t, func() bool { return !d.Lookup(ctx, id) }, time.Second, 5*time.Millisecond)
	})

	t.Run("explicit unsubscribe wins over store", func(t *testing.T) {
		d := NewDirectory(store, nil)
		d.Set(id, false)
		assert.False(t, d.Lookup(ctx, id))
	})
}
