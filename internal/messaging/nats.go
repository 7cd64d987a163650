// Package messaging wraps the NATS connection used to fan room broadcasts out
// across server processes. Every process publishes room frames to
// medchat.room.<subscriptionId> and delivers what it receives to its own
// local room members.
package messaging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const SubjectRoom = "medchat.room" // + .<subscription_id>

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *zap.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "medchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client. It fails if the
// initial connection fails.
func NewNATSClient(config NATSConfig, log *zap.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info("nats connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and keeps the
// subscription for cleanup on Close.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

func RoomSubject(roomID string) string {
	return SubjectRoom + "." + roomID
}

// RoomFromSubject extracts the room id from a medchat.room.<id> subject.
func RoomFromSubject(subject string) (string, bool) {
	id, ok := strings.CutPrefix(subject, SubjectRoom+".")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (c *NATSClient) PublishRoom(roomID string, frame []byte) error {
	return c.Publish(RoomSubject(roomID), frame)
}

// SubscribeRooms delivers every room frame published by any process.
func (c *NATSClient) SubscribeRooms(handler func(roomID string, frame []byte)) error {
	return c.Subscribe(SubjectRoom+".*", func(msg *nats.Msg) {
		roomID, ok := RoomFromSubject(msg.Subject)
		if !ok {
			c.log.Warn("nats frame on unexpected subject", zap.String("subject", msg.Subject))
			return
		}
		handler(roomID, msg.Data)
	})
}

// Close drains all active subscriptions and closes the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("nats drain failed", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("nats connection drain failed", zap.Error(err))
	}
}
