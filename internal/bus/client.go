package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/recon/internal/config"
	"github.com/loqalabs/recon/internal/protocol"
)

// Client wraps NATS connection and JetStream context with minimal helpers.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := []nats.Option{
		nats.Name("recon"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn: conn,
		js:   js,
		log:  log,
	}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// EnsureSessionStream creates or updates the JetStream stream retaining
// session events for maxAge, so late consumers can replay a session.
func (c *Client) EnsureSessionStream(maxAge time.Duration) error {
	cfg := &nats.StreamConfig{
		Name:     protocol.StreamSessions,
		Subjects: []string{protocol.SubjectSessionAll},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	}
	if _, err := c.js.StreamInfo(cfg.Name); err == nil {
		_, err = c.js.UpdateStream(cfg)
		return err
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream %s: %w", cfg.Name, err)
	}
	_, err := c.js.AddStream(cfg)
	return err
}

// PublishEvent sends ev on its session subject.
func (c *Client) PublishEvent(_ context.Context, ev protocol.SessionEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	return c.conn.Publish(ev.Subject(), data)
}

// SubscribeEvents delivers every session event to handler. Undecodable
// messages are logged and skipped.
func (c *Client) SubscribeEvents(handler func(protocol.SessionEvent)) (*nats.Subscription, error) {
	return c.conn.Subscribe(protocol.SubjectSessionAll, func(msg *nats.Msg) {
		var ev protocol.SessionEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warn("failed to decode session event", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
			return
		}
		handler(ev)
	})
}
