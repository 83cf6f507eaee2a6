package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// MQTTConfig configures an MQTT backed channel.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// MQTTChannel publishes messages as JSON on {prefix}/{topic} through an MQTT
// broker, so worker and page can run on different hosts.
type MQTTChannel struct {
	client paho.Client
	prefix string
	log    logger.Logger

	mu       sync.Mutex
	handlers map[string][]subscription
	nextID   int
}

// NewMQTTChannel connects to the broker.
func NewMQTTChannel(ctx context.Context, cfg MQTTConfig, log logger.Logger) (*MQTTChannel, error) {
	if log == nil {
		log = logger.NewNop()
	}
	c := &MQTTChannel{
		prefix:   strings.Trim(cfg.TopicPrefix, "/"),
		log:      log.Module("broadcast.mqtt"),
		handlers: make(map[string][]subscription),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetOnConnectHandler(func(paho.Client) {
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", logger.Error(err))
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if err := waitToken(ctx, token, mqttConnectTimeout); err != nil {
		return nil, errors.New(fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)).
			Component("broadcast").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.log.Info("connected to mqtt broker", logger.String("broker", cfg.Broker))
	return c, nil
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.NewStd("timed out")
	}
}

func (c *MQTTChannel) fullTopic(topic string) string {
	if c.prefix == "" {
		return topic
	}
	return c.prefix + "/" + topic
}

func (c *MQTTChannel) Publish(ctx context.Context, topic string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast message: %w", err)
	}
	token := c.client.Publish(c.fullTopic(topic), mqttQoS, false, payload)
	if err := waitToken(ctx, token, mqttPublishTimeout); err != nil {
		return errors.New(fmt.Errorf("mqtt publish: %w", err)).
			Component("broadcast").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *MQTTChannel) Subscribe(topic string, h Handler) (func(), error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	first := len(c.handlers[topic]) == 0
	c.handlers[topic] = append(c.handlers[topic], subscription{id: id, h: h})
	c.mu.Unlock()

	if first {
		if err := c.subscribeTopic(topic); err != nil {
			c.remove(topic, id)
			return nil, err
		}
	}
	return func() {
		if c.remove(topic, id) {
			c.client.Unsubscribe(c.fullTopic(topic))
		}
	}, nil
}

// remove drops a handler and reports whether the topic has none left.
func (c *MQTTChannel) remove(topic string, id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(c.handlers, topic)
		return true
	}
	c.handlers[topic] = subs
	return false
}

func (c *MQTTChannel) subscribeTopic(topic string) error {
	token := c.client.Subscribe(c.fullTopic(topic), mqttQoS, func(_ paho.Client, m paho.Message) {
		c.deliver(topic, m.Payload())
	})
	if err := waitToken(context.Background(), token, mqttConnectTimeout); err != nil {
		return errors.New(fmt.Errorf("mqtt subscribe: %w", err)).
			Component("broadcast").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *MQTTChannel) resubscribe() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	c.mu.Unlock()
	for _, t := range topics {
		if err := c.subscribeTopic(t); err != nil {
			c.log.Warn("mqtt resubscribe failed", logger.String("topic", t), logger.Error(err))
		}
	}
}

func (c *MQTTChannel) deliver(topic string, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("dropping undecodable broadcast message", logger.String("topic", topic), logger.Error(err))
		return
	}
	c.mu.Lock()
	subs := make([]subscription, len(c.handlers[topic]))
	copy(subs, c.handlers[topic])
	c.mu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("broadcast handler panicked", logger.String("topic", topic), logger.Any("panic", r))
				}
			}()
			s.h(topic, msg)
		}()
	}
}

func (c *MQTTChannel) Close() error {
	c.client.Disconnect(250)
	return nil
}
