// Package mq carries encoded requests to the mainframe and receipts back over NATS.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when publishing on a closed client
var ErrNotConnected = errors.New("not connected")

// Conn is the part of *nats.Conn the client uses
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Drain() error
	Close()
}

// Handler processes one inbound payload
type Handler func(ctx context.Context, subject string, data []byte) error

// Config holds NATS configuration
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Client wraps a NATS connection. Publish flushes before returning so that
// messages published one after another reach the server in that order.
type Client struct {
	conn Conn
	subs map[string]*nats.Subscription
	mu   sync.Mutex
}

// Connect dials the server described by cfg
func Connect(cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection
func NewClient(conn Conn) *Client {
	return &Client{
		conn: conn,
		subs: make(map[string]*nats.Subscription),
	}
}

// Publish sends one payload and waits for the server to have it
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every message on subject to handler. Handler errors are logged;
// the message is not redelivered.
func (c *Client) Subscribe(subject string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(context.Background(), msg.Subject, msg.Data); err != nil {
			slog.Error("Failed to handle message",
				"subject", msg.Subject,
				"size", len(msg.Data),
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	c.subs[subject] = sub
	return nil
}

// Close unsubscribes everything and drains the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Debug("Unsubscribe failed", "subject", subject, "error", err)
		}
		delete(c.subs, subject)
	}

	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("draining connection: %w", err)
	}
	return nil
}

// LogPublisher logs payloads instead of sending them. It stands in for NATS when no URL is configured.
type LogPublisher struct{}

// Publish logs the subject and payload size at info level and never fails
func (LogPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	slog.Info("Message not sent, no NATS configured",
		"subject", subject,
		"size", len(payload),
	)
	return nil
}
