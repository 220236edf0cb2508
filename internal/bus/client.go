package bus

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/restylelabs/restyle/internal/config"
	"github.com/restylelabs/restyle/internal/protocol"
)

// Client wraps a NATS connection used to publish run progress for external
// observers. Publishing is best-effort: a bus failure is logged and never
// changes pipeline state.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	servers := cfg.Servers
	if cfg.Embedded {
		servers = []string{fmt.Sprintf("nats://localhost:%d", cfg.Port)}
	}
	if len(servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("restyle"),
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

	url := strings.Join(servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
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

// PublishRun emits a run lifecycle event.
func (c *Client) PublishRun(subject string, evt protocol.RunEvent) {
	c.publish(subject, evt)
}

// PublishSegment emits a segment outcome event.
func (c *Client) PublishSegment(subject string, evt protocol.SegmentEvent) {
	c.publish(subject, evt)
}

func (c *Client) publish(subject string, payload any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("failed to marshal bus event", slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("failed to publish bus event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
