package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/storyapi"
)

const (
	testBaseURL  = "https://story-api.test/v1"
	testEndpoint = testBaseURL + "/notifications/subscribe"
	testVAPIDKey = "BCCs2eonMI-6H2ctvFaWg-UYdDv387Vno_bzUzALpB442r2lCnsHmtrx8biyPi_E-1fSGABK_Qs_GlvPoJJqxbk"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, bool) { return string(s), s != "" }

type fakePush struct {
	mu           sync.Mutex
	rec          *Record
	getErr       error
	subscribed   []SubscribeOptions
	unsubscribed int
}

func (f *fakePush) GetSubscription(context.Context) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.rec, nil
}

func (f *fakePush) Subscribe(_ context.Context, opts SubscribeOptions) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, opts)
	f.rec = &Record{
		Endpoint: "http://worker.test/push/abc",
		P256dh:   []byte{0x04, 0xfb, 0xff},
		Auth:     []byte{0x01, 0x02, 0x03, 0x04},
	}
	return f.rec, nil
}

func (f *fakePush) Unsubscribe(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed++
	had := f.rec != nil
	f.rec = nil
	return had, nil
}

func newBackend(t *testing.T) (*storyapi.Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c, err := storyapi.New(storyapi.Config{
		BaseURL:             testBaseURL,
		HTTPClient:          &http.Client{Transport: mt},
		SubscribeEndpoint:   "/notifications/subscribe",
		UnsubscribeEndpoint: "/notifications/subscribe",
	})
	require.NoError(t, err)
	return c, mt
}

func newManager(t *testing.T, tokens TokenStore, push *fakePush, perms PermissionRequester) (*Manager, *httpmock.MockTransport) {
	t.Helper()
	backend, mt := newBackend(t)
	m := NewManager(Config{
		Tokens:         tokens,
		Push:           push,
		Permissions:    perms,
		Capabilities:   Capabilities{ServiceWorker: true, PushManager: true},
		Backend:        backend,
		VAPIDPublicKey: testVAPIDKey,
	})
	return m, mt
}

func TestSubscribe_WithoutTokenMakesNoNetworkCall(t *testing.T) {
	t.Parallel()

	push := &fakePush{}
	permissionAsked := false
	m, mt := newManager(t, staticTokens(""), push, PermissionFunc(func(context.Context) (Permission, error) {
		permissionAsked = true
		return PermissionGranted, nil
	}))

	_, err := m.Subscribe(t.Context())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))
	assert.Zero(t, mt.GetTotalCallCount())
	assert.False(t, permissionAsked)
	assert.Empty(t, push.subscribed)
}

func TestSubscribe_NotSupported(t *testing.T) {
	t.Parallel()

	backend, mt := newBackend(t)
	m := NewManager(Config{
		Tokens:       staticTokens("tok"),
		Push:         &fakePush{},
		Capabilities: Capabilities{ServiceWorker: true},
		Backend:      backend,
	})
	assert.False(t, m.IsSupported())

	_, err := m.Subscribe(t.Context())
	require.ErrorIs(t, err, ErrNotSupported)
	_, err = m.Unsubscribe(t.Context())
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestSubscribe_PermissionDenied(t *testing.T) {
	t.Parallel()

	for _, perm := range []Permission{PermissionDenied, PermissionDefault} {
		t.Run(string(perm), func(t *testing.T) {
			t.Parallel()

			push := &fakePush{}
			m, mt := newManager(t, staticTokens("tok"), push, PermissionFunc(func(context.Context) (Permission, error) {
				return perm, nil
			}))

			_, err := m.Subscribe(t.Context())
			require.ErrorIs(t, err, ErrPermissionDenied)
			assert.Zero(t, mt.GetTotalCallCount())
			assert.Nil(t, push.rec)
		})
	}
}

func TestSubscribe_CreatesSubscriptionAndPostsKeys(t *testing.T) {
	t.Parallel()

	push := &fakePush{}
	m, mt := newManager(t, staticTokens("tok"), push, nil)

	var body map[string]any
	var auth string
	mt.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"error":false,"message":"Success"}`), nil
	})

	rec, err := m.Subscribe(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "http://worker.test/push/abc", rec.Endpoint)

	require.Len(t, push.subscribed, 1)
	assert.True(t, push.subscribed[0].UserVisibleOnly)
	want, err := DecodeApplicationServerKey(testVAPIDKey)
	require.NoError(t, err)
	assert.Equal(t, want, push.subscribed[0].ApplicationServerKey)

	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "http://worker.test/push/abc", body["endpoint"])
	assert.Equal(t, map[string]any{"p256dh": "BPv/", "auth": "AQIDBA=="}, body["keys"])

	subscribed, err := m.IsSubscribed(t.Context())
	require.NoError(t, err)
	assert.True(t, subscribed)
}

func TestSubscribe_ReusesExistingSubscription(t *testing.T) {
	t.Parallel()

	push := &fakePush{rec: &Record{Endpoint: "http://worker.test/push/existing", P256dh: []byte{1}, Auth: []byte{2}}}
	m, mt := newManager(t, staticTokens("tok"), push, nil)
	mt.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"error":false}`))

	rec, err := m.Subscribe(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "http://worker.test/push/existing", rec.Endpoint)
	assert.Empty(t, push.subscribed)
}

func TestSubscribe_BackendErrorMessage(t *testing.T) {
	t.Parallel()

	m, mt := newManager(t, staticTokens("tok"), &fakePush{}, nil)
	mt.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":true,"message":"\"keys.auth\" is required"}`))

	_, err := m.Subscribe(t.Context())
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, `"keys.auth" is required`, backendErr.Message)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		responder   httpmock.Responder
		wantBackend string
		wantNetwork bool
	}{
		{
			name:      "backend ok",
			responder: httpmock.NewStringResponder(http.StatusOK, `{"error":false,"message":"Success to unsubscribe"}`),
		},
		{
			name:        "backend reports error",
			responder:   httpmock.NewStringResponder(http.StatusOK, `{"error":true,"message":"Subscription not found"}`),
			wantBackend: "Subscription not found",
		},
		{
			name:        "network failure",
			responder:   httpmock.NewErrorResponder(errors.NewStd("connection reset")),
			wantNetwork: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			push := &fakePush{rec: &Record{Endpoint: "http://worker.test/push/abc", P256dh: []byte{1}, Auth: []byte{2}}}
			m, mt := newManager(t, staticTokens("tok"), push, nil)

			var body map[string]string
			mt.RegisterResponder(http.MethodDelete, testEndpoint, func(req *http.Request) (*http.Response, error) {
				_ = json.NewDecoder(req.Body).Decode(&body)
				return tt.responder(req)
			})

			res, err := m.Unsubscribe(t.Context())

			subscribed, qerr := m.IsSubscribed(t.Context())
			require.NoError(t, qerr)
			assert.False(t, subscribed, "local subscription must be removed")
			assert.Equal(t, 1, push.unsubscribed)
			assert.Equal(t, "http://worker.test/push/abc", body["endpoint"])

			switch {
			case tt.wantBackend != "":
				var backendErr *BackendError
				require.ErrorAs(t, err, &backendErr)
				assert.Equal(t, tt.wantBackend, backendErr.Message)
			case tt.wantNetwork:
				require.Error(t, err)
				assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
			default:
				require.NoError(t, err)
				assert.False(t, res.Error)
			}
		})
	}
}

func TestUnsubscribe_NotSubscribed(t *testing.T) {
	t.Parallel()

	push := &fakePush{}
	m, mt := newManager(t, staticTokens("tok"), push, nil)

	res, err := m.Unsubscribe(t.Context())
	require.NoError(t, err)
	assert.Equal(t, &Result{Error: false, Message: "Not subscribed"}, res)
	assert.Zero(t, mt.GetTotalCallCount())
	assert.Zero(t, push.unsubscribed)
}

func TestUnsubscribe_WithoutToken(t *testing.T) {
	t.Parallel()

	push := &fakePush{rec: &Record{Endpoint: "http://worker.test/push/abc"}}
	m, mt := newManager(t, staticTokens(""), push, nil)

	_, err := m.Unsubscribe(t.Context())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, mt.GetTotalCallCount())
	assert.NotNil(t, push.rec)
}

func TestToggle(t *testing.T) {
	t.Parallel()

	push := &fakePush{}
	m, mt := newManager(t, staticTokens("tok"), push, nil)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusOK, `{"error":false}`))
	mt.RegisterResponder(http.MethodDelete, testEndpoint, httpmock.NewStringResponder(http.StatusOK, `{"error":false}`))

	msg, err := m.Toggle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Notifikasi telah diaktifkan", msg)

	msg, err = m.Toggle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Notifikasi telah dinonaktifkan", msg)
	assert.Nil(t, push.rec)
}

func TestUpdateButtonState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		lang string
		push *fakePush
		want Button
	}{
		{
			name: "subscribed",
			push: &fakePush{rec: &Record{Endpoint: "x"}},
			want: Button{Label: "Berhenti Notifikasi", Title: "Berhenti berlangganan notifikasi", Icon: "fa-bell-slash"},
		},
		{
			name: "not subscribed",
			push: &fakePush{},
			want: Button{Label: "Notifikasi", Title: "Berlangganan notifikasi", Icon: "fa-bell"},
		},
		{
			name: "query failure",
			push: &fakePush{getErr: errors.NewStd("registration not ready")},
			want: Button{Label: "Notifikasi", Title: "stale", Icon: "fa-bell", Disabled: true},
		},
		{
			name: "english",
			lang: "en-US",
			push: &fakePush{},
			want: Button{Label: "Notifications", Title: "Subscribe to notifications", Icon: "fa-bell"},
		},
		{
			name: "unsupported language falls back",
			lang: "fr",
			push: &fakePush{rec: &Record{Endpoint: "x"}},
			want: Button{Label: "Berhenti Notifikasi", Title: "Berhenti berlangganan notifikasi", Icon: "fa-bell-slash"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewManager(Config{
				Push:         tt.push,
				Capabilities: Capabilities{ServiceWorker: true, PushManager: true},
				Language:     tt.lang,
			})
			b := &Button{Title: "stale", Disabled: false}
			m.UpdateButtonState(t.Context(), b)
			assert.Equal(t, tt.want, *b)
		})
	}
}

func TestDecodeApplicationServerKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{name: "url safe unpadded", in: "-_8", want: []byte{0xfb, 0xff}},
		{name: "url safe padded", in: "-_8=", want: []byte{0xfb, 0xff}},
		{name: "standard alphabet", in: "+/8=", want: []byte{0xfb, 0xff}},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "!!!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeApplicationServerKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	key, err := DecodeApplicationServerKey(testVAPIDKey)
	require.NoError(t, err)
	assert.Len(t, key, 65)
	assert.Equal(t, byte(0x04), key[0])
}

func TestAnnounce_RepublishesExistingSubscription(t *testing.T) {
	t.Parallel()

	ch := broadcast.NewLocalChannel(nil)
	t.Cleanup(func() { _ = ch.Close() })

	var (
		mu  sync.Mutex
		got []broadcast.Message
	)
	_, err := ch.Subscribe(broadcast.TopicSubscription, func(_ string, msg broadcast.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, err)

	backend, mt := newBackend(t)
	push := &fakePush{}
	m := NewManager(Config{
		Tokens:       staticTokens("tok"),
		Push:         push,
		Capabilities: Capabilities{ServiceWorker: true, PushManager: true},
		Backend:      backend,
		Channel:      ch,
	})

	// nothing to announce yet
	require.NoError(t, m.Announce(t.Context()))

	push.rec = &Record{Endpoint: "http://worker.test/push/abc"}
	require.NoError(t, m.Announce(t.Context()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, broadcast.TypeSubscriptionChanged, got[0].Type)
	assert.Equal(t, true, got[0].Payload["subscribed"])
	assert.Equal(t, "http://worker.test/push/abc", got[0].Payload["endpoint"])
	assert.Zero(t, mt.GetTotalCallCount())
}
