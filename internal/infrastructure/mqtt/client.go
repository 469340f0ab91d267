package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/arvis-core/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the Arvis signal and command topics.
//
// It tracks subscriptions so they are restored after a reconnect,
// publishes a retained online/offline status with a matching Last Will,
// and keeps link statistics for the debug channel.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected        bool
	connects         int
	lastConnected    time.Time
	lastDisconnected time.Time
	lastError        string
	connMu           sync.RWMutex

	published     atomic.Uint64
	publishFailed atomic.Uint64

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
	stats   *subscriptionCounters
}

type subscriptionCounters struct {
	received    atomic.Uint64
	failed      atomic.Uint64
	lastMessage atomic.Int64 // unix nanoseconds
}

// LinkStats is a snapshot of the broker link.
type LinkStats struct {
	Connected        bool                `json:"connected"`
	Connects         int                 `json:"connects"`
	LastConnected    time.Time           `json:"last_connected"`
	LastDisconnected time.Time           `json:"last_disconnected"`
	LastError        string              `json:"last_error,omitempty"`
	Published        uint64              `json:"published"`
	PublishFailed    uint64              `json:"publish_failed"`
	Subscriptions    []SubscriptionStats `json:"subscriptions"`
}

// SubscriptionStats counts deliveries on one subscribed topic filter.
type SubscriptionStats struct {
	Topic       string    `json:"topic"`
	QoS         byte      `json:"qos"`
	Received    uint64    `json:"received"`
	Failed      uint64    `json:"failed"`
	LastMessage time.Time `json:"last_message"`
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's goroutines and must not block for long.
// A returned error is logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures the Last Will on topics.Status()
//  3. Sets up auto-reconnect with backoff
//  4. Attempts the initial connection with a timeout
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - topics: Topic builder for this room
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the broker cannot be reached in time
func Connect(cfg config.MQTTConfig, topics Topics) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics.Status(), cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		topics:        topics,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnectHandler runs asynchronously; mark connected now so callers
	// can subscribe straight after Connect returns.
	c.markConnected()

	return c, nil
}

// markConnected counts a link-up once; Connect and paho's connect
// handler both report the first connection.
func (c *Client) markConnected() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.connected {
		return
	}
	c.connected = true
	c.connects++
	c.lastConnected = time.Now()
}

func (c *Client) handleConnect() {
	c.markConnected()
	c.restoreSubscriptions()
	c.publishStatus(buildOnlinePayload(c.cfg.Broker.ClientID))

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.markDisconnected(err)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
// Errors are logged; the next reconnect tries again.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub))
		if token.WaitTimeout(defaultPublishTimeout) && token.Error() != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT resubscribe failed", "topic", sub.topic, "error", token.Error())
			}
		}
	}
}

func (c *Client) publishStatus(payload string) {
	token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, payload)
	token.WaitTimeout(defaultPublishTimeout)
}

func (c *Client) markDisconnected(err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = false
	c.lastDisconnected = time.Now()
	if err != nil {
		c.lastError = err.Error()
	}
}

// Stats returns a snapshot of the link and its subscriptions, sorted by topic.
func (c *Client) Stats() LinkStats {
	c.connMu.RLock()
	stats := LinkStats{
		Connected:        c.connected,
		Connects:         c.connects,
		LastConnected:    c.lastConnected,
		LastDisconnected: c.lastDisconnected,
		LastError:        c.lastError,
	}
	c.connMu.RUnlock()
	stats.Published = c.published.Load()
	stats.PublishFailed = c.publishFailed.Load()

	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		ss := SubscriptionStats{
			Topic:    sub.topic,
			QoS:      sub.qos,
			Received: sub.stats.received.Load(),
			Failed:   sub.stats.failed.Load(),
		}
		if ns := sub.stats.lastMessage.Load(); ns != 0 {
			ss.LastMessage = time.Unix(0, ns)
		}
		stats.Subscriptions = append(stats.Subscriptions, ss)
	}
	c.subMu.RUnlock()

	sort.Slice(stats.Subscriptions, func(i, j int) bool {
		return stats.Subscriptions[i].Topic < stats.Subscriptions[j].Topic
	})
	return stats
}

// Topics returns the topic builder the client was connected with.
func (c *Client) Topics() Topics {
	return c.topics
}

// Close publishes a graceful offline status and disconnects.
//
// Returns:
//   - error: Always nil; a closed connection is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(buildOfflinePayload(c.cfg.Broker.ClientID))
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.markDisconnected(nil)

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on initial connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors and panics.
// Without one, handler errors are dropped silently.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler counts deliveries for a subscription, recovers handler
// panics and logs handler errors. Panics and errors both count as failed.
func (c *Client) wrapHandler(sub subscription) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		sub.stats.received.Add(1)
		sub.stats.lastMessage.Store(time.Now().UnixNano())

		defer func() {
			if r := recover(); r != nil {
				sub.stats.failed.Add(1)
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"filter", sub.topic,
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := sub.handler(msg.Topic(), msg.Payload()); err != nil {
			sub.stats.failed.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"filter", sub.topic,
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
