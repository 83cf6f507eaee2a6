// Package storyapi is a client for the Story API backend: accounts, the
// story feed and push subscription registration.
package storyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

const component = "storyapi"

// Config configures a Client.
type Config struct {
	BaseURL             string
	HTTPClient          *http.Client
	Timeout             time.Duration
	RateLimit           float64 // requests per second, 0 disables
	RateBurst           int
	SubscribeEndpoint   string
	UnsubscribeEndpoint string
	Metrics             *metrics.Metrics
	Logger              logger.Logger
}

// Client talks to the Story API.
type Client struct {
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	subscribe   string
	unsubscribe string
	metrics     *metrics.Metrics
	log         logger.Logger
}

// Envelope is the common part of every Story API response.
type Envelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// APIError is returned when the backend answers with error:true.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("story api error (status %d)", e.StatusCode)
	}
	return e.Message
}

// New creates a Client. An empty BaseURL is a configuration error.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Newf("story api base url is empty").
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        hc,
		limiter:     rate.NewLimiter(limit, burst),
		subscribe:   cfg.SubscribeEndpoint,
		unsubscribe: cfg.UnsubscribeEndpoint,
		metrics:     cfg.Metrics,
		log:         log.Module(component),
	}, nil
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newJSONRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.New(err).
				Component(component).
				Category(errors.CategoryValidation).
				Build()
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and decodes the JSON body into out. The envelope is checked
// whatever the HTTP status: the backend reports failures with error:true.
func (c *Client) do(req *http.Request, endpoint string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Build()
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveBackend(endpoint, req.Method, time.Since(start).Seconds())
	if err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Context("method", req.Method).
			Build()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Build()
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("undecodable backend response",
			logger.String("endpoint", endpoint),
			logger.Int("status", resp.StatusCode))
		return errors.New(err).
			Component(component).
			Category(errors.CategoryBackend).
			Context("endpoint", endpoint).
			Context("status", resp.StatusCode).
			Build()
	}
	if env.Error {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.New(err).
				Component(component).
				Category(errors.CategoryBackend).
				Context("endpoint", endpoint).
				Build()
		}
	}
	return nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}
	return c.do(req, "register", nil)
}

// LoginResult is the session handed out by Login.
type LoginResult struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		LoginResult LoginResult `json:"loginResult"`
	}
	if err := c.do(req, "login", &out); err != nil {
		return nil, err
	}
	return &out.LoginResult, nil
}

// Story is one entry of the feed.
type Story struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	Lat         *float64  `json:"lat,omitempty"`
	Lon         *float64  `json:"lon,omitempty"`
}

// Query selects a page of the feed.
type Query struct {
	Page     int
	Size     int
	Location bool // only stories carrying a location
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", fmt.Sprint(q.Page))
	}
	if q.Size > 0 {
		v.Set("size", fmt.Sprint(q.Size))
	}
	if q.Location {
		v.Set("location", "1")
	}
	return v
}

// Stories returns one page of the feed.
func (c *Client) Stories(ctx context.Context, token string, q Query) ([]Story, error) {
	path := "/stories"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	req, err := c.newJSONRequest(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		ListStory []Story `json:"listStory"`
	}
	if err := c.do(req, "stories", &out); err != nil {
		return nil, err
	}
	return out.ListStory, nil
}

// Story returns a single story.
func (c *Client) Story(ctx context.Context, token, id string) (*Story, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/stories/"+url.PathEscape(id), token, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Story Story `json:"story"`
	}
	if err := c.do(req, "story", &out); err != nil {
		return nil, err
	}
	return &out.Story, nil
}

// SubscriptionKeys are the base64 encoded keys of a push subscription.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// SubscribeNotifications registers a push subscription for the token's user.
func (c *Client) SubscribeNotifications(ctx context.Context, token, endpoint string, keys SubscriptionKeys) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.subscribe, token, map[string]any{
		"endpoint": endpoint,
		"keys":     keys,
	})
	if err != nil {
		return err
	}
	return c.do(req, "subscribe", nil)
}

// UnsubscribeNotifications removes a push subscription.
func (c *Client) UnsubscribeNotifications(ctx context.Context, token, endpoint string) error {
	req, err := c.newJSONRequest(ctx, http.MethodDelete, c.unsubscribe, token, map[string]string{
		"endpoint": endpoint,
	})
	if err != nil {
		return err
	}
	return c.do(req, "unsubscribe", nil)
}
