//go:build integration

package containers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NtfyContainer is an ntfy server that the shoutrrr displayer delivers to.
type NtfyContainer struct {
	container testcontainers.Container
	host      string
	client    *http.Client
}

// NtfyConfig customises the ntfy image.
type NtfyConfig struct {
	// ImageTag defaults to "latest".
	ImageTag string
}

// NtfyMessage is one cached message on a topic.
type NtfyMessage struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// NewNtfyContainer starts ntfy with a message cache so topics can be
// polled after publishing.
func NewNtfyContainer(ctx context.Context, cfg *NtfyConfig) (*NtfyContainer, error) {
	tag := "latest"
	if cfg != nil && cfg.ImageTag != "" {
		tag = cfg.ImageTag
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "binwiederhier/ntfy:" + tag,
			ExposedPorts: []string{"80/tcp"},
			Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
			Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
			WaitingFor: wait.ForHTTP("/v1/health").
				WithPort("80/tcp").
				WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start ntfy: %w", err)
	}

	host, err := endpoint(ctx, c, "80/tcp")
	if err != nil {
		terminate(c)
		return nil, err
	}
	nc := &NtfyContainer{container: c, host: host, client: &http.Client{Timeout: 10 * time.Second}}

	readyCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := waitFor(readyCtx, httpOK(nc.url("/v1/health"))); err != nil {
		terminate(c)
		return nil, err
	}
	return nc, nil
}

// GetHost returns host:port, the form shoutrrr ntfy:// URLs expect.
func (c *NtfyContainer) GetHost(_ context.Context) string { return c.host }

func (c *NtfyContainer) url(path string) string { return "http://" + c.host + path }

// PollMessages returns every cached message published to topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/"+topic+"/json?poll=1"), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: status %d", topic, resp.StatusCode)
	}

	// one JSON object per line
	var out []NtfyMessage
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var msg NtfyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("decode ntfy message: %w", err)
		}
		if msg.Event != "" && msg.Event != "message" {
			continue
		}
		out = append(out, msg)
	}
	return out, sc.Err()
}

// Terminate stops and removes the server.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
