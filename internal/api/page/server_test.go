package page

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"

	"github.com/storyapp/storyapp/internal/auth"
	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/pushregistry"
	"github.com/storyapp/storyapp/internal/storyapi"
	"github.com/storyapp/storyapp/internal/subscription"
)

const (
	backendURL    = "https://story-api.test/v1"
	sessionSecret = "0123456789abcdef0123456789abcdef"
	vapidKey      = "BCCs2eonMI-6H2ctvFaWg-UYdDv387Vno_bzUzALpB442r2lCnsHmtrx8biyPi_E-1fSGABK_Qs_GlvPoJJqxbk"
)

type fakeWindows struct {
	mu      sync.Mutex
	clicked []string
	closed  []string
	err     error
}

func (f *fakeWindows) Windows() []clients.WindowInfo {
	return []clients.WindowInfo{{ID: "w-1", URL: "http://localhost:8080/", Focused: true}}
}

func (f *fakeWindows) Notifications() []*notify.Notification {
	return []*notify.Notification{{ID: "n-1", Title: "Story App"}}
}

func (f *fakeWindows) Click(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, id)
	return f.err
}

func (f *fakeWindows) Dismiss(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return f.err
}

type testEnv struct {
	srv      *httptest.Server
	client   *http.Client
	backend  *httpmock.MockTransport
	registry *pushregistry.Registry
	windows  *fakeWindows
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mt := httpmock.NewMockTransport()
	api, err := storyapi.New(storyapi.Config{
		BaseURL:             backendURL,
		HTTPClient:          &http.Client{Transport: mt},
		SubscribeEndpoint:   "/notifications/subscribe",
		UnsubscribeEndpoint: "/notifications/subscribe",
	})
	require.NoError(t, err)

	tokens, err := auth.NewSessionTokenStore([]byte(sessionSecret), false)
	require.NoError(t, err)

	registry, err := pushregistry.New(pushregistry.Config{PublicURL: "http://worker.test"})
	require.NoError(t, err)

	subs := subscription.NewManager(subscription.Config{
		Tokens:         tokens,
		Push:           registry,
		Capabilities:   subscription.Capabilities{ServiceWorker: true, PushManager: true},
		Backend:        api,
		VAPIDPublicKey: vapidKey,
	})

	windows := &fakeWindows{}
	s := New(Config{
		Stories:       api,
		Tokens:        tokens,
		Subscriptions: subs,
		Windows:       windows,
		Manifest:      Manifest{ShortName: "Story", ThemeColor: "#1d4ed8"},
		WorkerURL:     "http://worker.test",
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(t, err)

	return &testEnv{
		srv:      srv,
		client:   &http.Client{Jar: jar},
		backend:  mt,
		registry: registry,
		windows:  windows,
	}
}

func (e *testEnv) registerLogin() {
	e.backend.RegisterResponder(http.MethodPost, backendURL+"/login",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]string
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			if body["password"] != "secret123" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":true,"message":"Invalid password"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`{"error":false,"message":"success","loginResult":{"userId":"user-1","name":"Ana","token":"tok-1"}}`), nil
		})
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := e.client.Post(e.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	e.registerLogin()
	resp, _ := e.postJSON(t, "/login", map[string]string{"email": "ana@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func TestLogin_StoresSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, body := env.get(t, "/me")
	assert.Equal(t, false, body["authenticated"])

	env.registerLogin()
	resp, body := env.postJSON(t, "/login", map[string]string{"email": "ana@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["loginResult"].(map[string]any)
	assert.Equal(t, "Ana", result["name"])
	assert.NotContains(t, result, "token")

	_, body = env.get(t, "/me")
	assert.Equal(t, true, body["authenticated"])

	resp, _ = env.postJSON(t, "/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = env.get(t, "/me")
	assert.Equal(t, false, body["authenticated"])
}

func TestLogin_BackendRejects(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.registerLogin()

	resp, body := env.postJSON(t, "/login", map[string]string{"email": "ana@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid password", body["message"])
	assert.Equal(t, true, body["error"])
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantCalls  int
	}{
		{"ok", map[string]string{"name": "Ana", "email": "ana@example.com", "password": "secret123"}, http.StatusCreated, 1},
		{"missing name", map[string]string{"email": "ana@example.com", "password": "secret123"}, http.StatusBadRequest, 0},
		{"short password", map[string]string{"name": "Ana", "email": "ana@example.com", "password": "short"}, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			env.backend.RegisterResponder(http.MethodPost, backendURL+"/register",
				httpmock.NewStringResponder(http.StatusCreated, `{"error":false,"message":"User Created"}`))

			resp, _ := env.postJSON(t, "/register", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, env.backend.GetTotalCallCount())
		})
	}
}

func TestListStories(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, _ := env.get(t, "/stories")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.backend.GetTotalCallCount())

	env.login(t)
	env.backend.RegisterResponderWithQuery(http.MethodGet, backendURL+"/stories",
		url.Values{"page": {"2"}, "size": {"2"}},
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer tok-1" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":true,"message":"Missing authentication"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"error":false,"message":"Stories fetched successfully","listStory":[
				{"id":"story-1","name":"Ana","description":"a","photoUrl":"https://story-api.test/images/1.jpg","createdAt":"2024-01-02T03:04:05Z"},
				{"id":"story-2","name":"Budi","description":"b","photoUrl":"https://story-api.test/images/2.jpg","createdAt":"2024-01-02T03:04:05Z","lat":-6.2,"lon":106.8}
			]}`), nil
		})

	resp, body := env.get(t, "/stories?page=2&size=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 2, body["currentPage"], 0)
	assert.Equal(t, true, body["hasMore"])
	stories := body["stories"].([]any)
	require.Len(t, stories, 2)
	assert.Equal(t, "story-2", stories[1].(map[string]any)["id"])

	resp, _ = env.get(t, "/stories?page=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStory_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.login(t)
	env.backend.RegisterResponder(http.MethodGet, backendURL+"/stories/missing",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":true,"message":"Story not found"}`))

	resp, body := env.get(t, "/stories/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Story not found", body["message"])
}

func multipartStory(t *testing.T, photo []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if photo != nil {
		part, err := w.CreateFormFile("photo", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestAddStory(t *testing.T) {
	t.Parallel()

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

	tests := []struct {
		name       string
		photo      []byte
		fields     map[string]string
		wantStatus int
		wantCalls  int
	}{
		{"with location", png, map[string]string{"description": "Pantai", "lat": "-6.2", "lon": "106.8"}, http.StatusCreated, 1},
		{"without location", png, map[string]string{"description": "Pantai"}, http.StatusCreated, 1},
		{"missing description", png, map[string]string{}, http.StatusBadRequest, 0},
		{"missing photo", nil, map[string]string{"description": "Pantai"}, http.StatusBadRequest, 0},
		{"not an image", []byte("hello, this is plain text"), map[string]string{"description": "Pantai"}, http.StatusBadRequest, 0},
		{"lat without lon", png, map[string]string{"description": "Pantai", "lat": "-6.2"}, http.StatusBadRequest, 0},
		{"lat out of range", png, map[string]string{"description": "Pantai", "lat": "-96", "lon": "10"}, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			env.login(t)
			env.backend.RegisterResponder(http.MethodPost, backendURL+"/stories",
				func(req *http.Request) (*http.Response, error) {
					if !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
						return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":true,"message":"bad form"}`), nil
					}
					return httpmock.NewStringResponse(http.StatusCreated, `{"error":false,"message":"Story created successfully"}`), nil
				})
			loginCalls := env.backend.GetTotalCallCount()

			body, contentType := multipartStory(t, tt.photo, tt.fields)
			resp, err := env.client.Post(env.srv.URL+"/stories", contentType, body)
			require.NoError(t, err)
			_ = decode(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, env.backend.GetTotalCallCount()-loginCalls)
		})
	}
}

func TestToggleSubscription(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, body := env.postJSON(t, "/notifications/toggle", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "User not logged in", body["message"])
	assert.Zero(t, env.backend.GetTotalCallCount())

	env.login(t)
	env.backend.RegisterResponder(http.MethodPost, backendURL+"/notifications/subscribe",
		httpmock.NewStringResponder(http.StatusOK, `{"error":false,"message":"Success to subscribe web push notification."}`))
	env.backend.RegisterResponder(http.MethodDelete, backendURL+"/notifications/subscribe",
		httpmock.NewStringResponder(http.StatusOK, `{"error":false,"message":"Success to unsubscribe web push notification."}`))

	_, body = env.get(t, "/notifications/button")
	assert.Equal(t, "Notifikasi", body["label"])
	assert.Equal(t, "fa-bell", body["icon"])

	resp, body = env.postJSON(t, "/notifications/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Notifikasi telah diaktifkan", body["message"])
	assert.Equal(t, "Berhenti Notifikasi", body["button"].(map[string]any)["label"])

	rec, err := env.registry.GetSubscription(t.Context())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, strings.HasPrefix(rec.Endpoint, "http://worker.test/push/"))

	resp, body = env.postJSON(t, "/notifications/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Notifikasi telah dinonaktifkan", body["message"])

	rec, err = env.registry.GetSubscription(t.Context())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestToggleSubscription_BackendFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.login(t)
	env.backend.RegisterResponder(http.MethodPost, backendURL+"/notifications/subscribe",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":true,"message":"\"endpoint\" must be a valid uri"}`))

	resp, body := env.postJSON(t, "/notifications/toggle", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, `"endpoint" must be a valid uri`, body["message"])
}

func TestNotificationRelay(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, _ := env.postJSON(t, "/notifications/n-1/click", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = env.postJSON(t, "/notifications/n-2/close", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	env.windows.mu.Lock()
	assert.Equal(t, []string{"n-1"}, env.windows.clicked)
	assert.Equal(t, []string{"n-2"}, env.windows.closed)
	env.windows.err = clients.ErrNotConnected
	env.windows.mu.Unlock()

	resp, _ = env.postJSON(t, "/notifications/n-1/click", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err := env.client.Get(env.srv.URL + "/windows")
	require.NoError(t, err)
	defer resp.Body.Close()
	var windows []clients.WindowInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&windows))
	require.Len(t, windows, 1)
	assert.Equal(t, "w-1", windows[0].ID)
}

func TestPWARoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, manifest := env.get(t, "/manifest.webmanifest")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/manifest+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "Story App", manifest["name"])
	assert.Equal(t, "Story", manifest["short_name"])
	assert.Equal(t, "standalone", manifest["display"])
	assert.Equal(t, "#1d4ed8", manifest["theme_color"])

	resp, reg := env.get(t, "/sw/registration")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Service-Worker-Allowed"))
	assert.Equal(t, "http://worker.test", reg["scriptURL"])
	assert.Equal(t, "/", reg["scope"])
}

func TestPWARoutes_NoWorker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(Config{}).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/sw/registration")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
