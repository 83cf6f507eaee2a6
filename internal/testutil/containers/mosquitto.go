//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// anonymousListener lets any client connect on 1883.
const anonymousListener = "listener 1883\nallow_anonymous true\n"

// MosquittoContainer is an Eclipse Mosquitto broker used by the MQTT
// broadcast channel tests.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// MosquittoConfig customises the broker image.
type MosquittoConfig struct {
	// ImageTag defaults to "2.0".
	ImageTag string
}

// NewMosquittoContainer starts a broker and waits until an MQTT client can
// connect. A nil config uses the defaults.
func NewMosquittoContainer(ctx context.Context, cfg *MosquittoConfig) (*MosquittoContainer, error) {
	tag := "2.0"
	if cfg != nil && cfg.ImageTag != "" {
		tag = cfg.ImageTag
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:" + tag,
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto/config/test.conf"},
			Files: []testcontainers.ContainerFile{{
				Reader:            strings.NewReader(anonymousListener),
				ContainerFilePath: "/mosquitto/config/test.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort("1883/tcp").WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start mosquitto: %w", err)
	}

	addr, err := endpoint(ctx, c, "1883/tcp")
	if err != nil {
		terminate(c)
		return nil, err
	}
	mc := &MosquittoContainer{container: c, brokerURL: "tcp://" + addr}

	readyCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := waitFor(readyCtx, mc.ping); err != nil {
		terminate(c)
		return nil, err
	}
	return mc, nil
}

// ping connects and disconnects a throwaway client.
func (c *MosquittoContainer) ping(_ context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(fmt.Sprintf("ready-%d", time.Now().UnixNano())).
		SetConnectTimeout(2 * time.Second).
		SetAutoReconnect(false)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(3 * time.Second) {
		return fmt.Errorf("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return err
	}
	client.Disconnect(100)
	return nil
}

// GetBrokerURL returns the tcp:// address of the broker.
func (c *MosquittoContainer) GetBrokerURL(t *testing.T) string {
	t.Helper()
	return c.brokerURL
}

// Terminate stops and removes the broker.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
