package storyapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyapp/storyapp/internal/errors"
)

const testBaseURL = "https://story-api.test/v1"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c, err := New(Config{
		BaseURL:             testBaseURL + "/",
		HTTPClient:          &http.Client{Transport: mt},
		SubscribeEndpoint:   "/notifications/subscribe",
		UnsubscribeEndpoint: "/notifications/subscribe",
	})
	require.NoError(t, err)
	return c, mt
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
}

func TestLogin(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/login",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]string
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			if body["email"] != "a@b.c" || body["password"] != "secret123" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":true,"message":"Invalid password"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`{"error":false,"message":"success","loginResult":{"userId":"user-1","name":"Ana","token":"tok"}}`), nil
		})

	res, err := c.Login(t.Context(), "a@b.c", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "Ana", res.Name)
	assert.Equal(t, "tok", res.Token)

	_, err = c.Login(t.Context(), "a@b.c", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid password", apiErr.Message)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/register",
		httpmock.NewStringResponder(http.StatusCreated, `{"error":false,"message":"User Created"}`))

	require.NoError(t, c.Register(t.Context(), "Ana", "a@b.c", "secret123"))
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestStories(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	mt.RegisterResponderWithQuery(http.MethodGet, testBaseURL+"/stories",
		"page=2&size=10&location=1",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer tok" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":true,"message":"Missing authentication"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{
				"error": false,
				"message": "Stories fetched successfully",
				"listStory": [
					{"id":"story-1","name":"Ana","description":"hello","photoUrl":"https://story-api.test/images/1.jpg","createdAt":"2024-01-08T06:34:18.598Z","lat":-6.2,"lon":106.8},
					{"id":"story-2","name":"Budi","description":"no place","photoUrl":"https://story-api.test/images/2.jpg","createdAt":"2024-01-08T06:34:18.598Z"}
				]
			}`), nil
		})

	stories, err := c.Stories(t.Context(), "tok", Query{Page: 2, Size: 10, Location: true})
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, "story-1", stories[0].ID)
	require.NotNil(t, stories[0].Lat)
	assert.InDelta(t, -6.2, *stories[0].Lat, 1e-9)
	assert.Nil(t, stories[1].Lat)

	_, err = c.Stories(t.Context(), "", Query{Page: 2, Size: 10, Location: true})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Missing authentication", apiErr.Error())
}

func TestStory(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/stories/story-1",
		httpmock.NewStringResponder(http.StatusOK,
			`{"error":false,"message":"ok","story":{"id":"story-1","name":"Ana","description":"hello"}}`))

	s, err := c.Story(t.Context(), "tok", "story-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", s.Description)
}

func TestSubscribeNotifications(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	var got struct {
		Endpoint string           `json:"endpoint"`
		Keys     SubscriptionKeys `json:"keys"`
	}
	var auth string
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/notifications/subscribe",
		func(req *http.Request) (*http.Response, error) {
			auth = req.Header.Get("Authorization")
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"error":false,"message":"Success to subscribe web push notification."}`), nil
		})

	err := c.SubscribeNotifications(t.Context(), "tok", "https://push.test/ep", SubscriptionKeys{P256dh: "pk", Auth: "au"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "https://push.test/ep", got.Endpoint)
	assert.Equal(t, "pk", got.Keys.P256dh)
	assert.Equal(t, "au", got.Keys.Auth)
}

func TestUnsubscribeNotifications(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
		wantAPI   string
		wantNet   bool
	}{
		{
			name:      "success",
			responder: httpmock.NewStringResponder(http.StatusOK, `{"error":false,"message":"Success to unsubscribe"}`),
		},
		{
			name:      "error flag with ok status",
			responder: httpmock.NewStringResponder(http.StatusOK, `{"error":true,"message":"Subscription not found"}`),
			wantAPI:   "Subscription not found",
		},
		{
			name:      "network failure",
			responder: httpmock.NewErrorResponder(io.ErrUnexpectedEOF),
			wantNet:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, mt := newTestClient(t)
			var method, body string
			mt.RegisterResponder(http.MethodDelete, testBaseURL+"/notifications/subscribe",
				func(req *http.Request) (*http.Response, error) {
					method = req.Method
					b, _ := io.ReadAll(req.Body)
					body = string(b)
					return tt.responder(req)
				})

			err := c.UnsubscribeNotifications(t.Context(), "tok", "https://push.test/ep")
			assert.Equal(t, http.MethodDelete, method)
			assert.JSONEq(t, `{"endpoint":"https://push.test/ep"}`, body)

			switch {
			case tt.wantAPI != "":
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantAPI, apiErr.Message)
			case tt.wantNet:
				require.Error(t, err)
				assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestDo_UndecodableBody(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/register",
		httpmock.NewStringResponder(http.StatusBadGateway, "<html>bad gateway</html>"))

	err := c.Register(t.Context(), "Ana", "a@b.c", "secret123")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryBackend))
}

func TestAddStory(t *testing.T) {
	t.Parallel()

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	lat, lon := -6.2, 106.8

	c, mt := newTestClient(t)
	var fields map[string]string
	var photoType string
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/stories",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseMultipartForm(MaxPhotoSize * 2); err != nil {
				return nil, err
			}
			fields = map[string]string{
				"description": req.FormValue("description"),
				"lat":         req.FormValue("lat"),
				"lon":         req.FormValue("lon"),
			}
			photoType = req.MultipartForm.File["photo"][0].Header.Get("Content-Type")
			return httpmock.NewStringResponse(http.StatusCreated, `{"error":false,"message":"success"}`), nil
		})

	err := c.AddStory(t.Context(), "tok", NewStory{
		Description: "sunset",
		Photo:       png,
		PhotoName:   "camera-photo.png",
		Lat:         &lat,
		Lon:         &lon,
	})
	require.NoError(t, err)
	assert.Equal(t, "sunset", fields["description"])
	assert.Equal(t, "-6.2", fields["lat"])
	assert.Equal(t, "106.8", fields["lon"])
	assert.Equal(t, "image/png", photoType)
}

func TestValidatePhoto(t *testing.T) {
	t.Parallel()

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	tooBig := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, MaxPhotoSize)...)

	tests := []struct {
		name    string
		photo   []byte
		wantErr string
	}{
		{name: "png", photo: png},
		{name: "empty", photo: nil, wantErr: "photo is empty"},
		{name: "too large", photo: tooBig, wantErr: "the limit is"},
		{name: "text", photo: []byte("just some text"), wantErr: "not an image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ValidatePhoto(tt.photo)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
			assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
		})
	}
}
