package busclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/message"
)

// Client manages a NATS connection and adapts it to the Bus contract.
// Subjects are message types; payloads are the JSON wire format of
// message.Message.
type Client struct {
	url    string
	logger *slog.Logger

	// Connection options
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication
	username string
	password string
	token    string

	mu     sync.RWMutex
	conn   *nats.Conn
	closed atomic.Bool
}

// NewClient creates a NATS bus client with optional configuration.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	return c, nil
}

// URL returns the NATS server URL.
func (c *Client) URL() string {
	return c.url
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Connect establishes the connection to the NATS server.
func (c *Client) Connect(ctx context.Context) error {
	opts := c.buildConnectionOptions()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.logger.Info("connected to message bus", "url", c.url)
	return nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- conn.Drain()
	}()

	var drainErr error
	select {
	case err := <-drainDone:
		if err != nil {
			drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-time.After(drainTimeout):
		drainErr = errors.WrapTransient(errors.ErrConnectionLost, "Client", "Close", "drain timeout")
		c.logger.Error("drain timeout, force closing", "timeout", drainTimeout)
	case <-ctx.Done():
		drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
	}

	conn.Close()

	// Clear credentials from memory
	c.username = ""
	c.password = ""
	c.token = ""

	return drainErr
}

// Publish emits msg on the subject named by its type.
func (c *Client) Publish(_ context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return errors.Wrap(err, "Client", "Publish", "validate message")
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.ErrNotConnected
	}

	data, err := msg.Encode()
	if err != nil {
		return errors.Wrap(err, "Client", "Publish", "encode message")
	}

	return conn.Publish(msg.Type, data)
}

// Subscribe registers handler for every message on subject. Payloads that
// fail to decode are logged and dropped; a broken publisher must not take
// down a subscriber.
func (c *Client) Subscribe(subject string, handler Handler) (Subscription, error) {
	if !message.IsValidSubject(subject) {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Client", "Subscribe", "subject validation")
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, errors.ErrNotConnected
	}

	sub, err := conn.Subscribe(subject, func(natsMsg *nats.Msg) {
		msg, err := message.Decode(natsMsg.Data)
		if err != nil {
			c.logger.Warn("dropping undecodable message", "subject", subject, "error", err)
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "create subscription")
	}

	return &natsSubscription{sub: sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// buildConnectionOptions builds NATS connection options from client configuration.
func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("bus reconnected", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("bus connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error("bus error", "error", err)
		}),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}
