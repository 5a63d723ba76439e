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
	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/protocol"
)

// Client wraps the NATS connection used to announce pipeline progress.
// All methods are safe on a nil client, so callers need no bus-enabled
// branching.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("papercast-runtime"),
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

// PublishStage announces a state-machine transition for a paper.
func (c *Client) PublishStage(sourceID, stage, detail string) {
	if c == nil {
		return
	}
	c.publish(protocol.SubjectStage, protocol.StageEvent{
		SourceID:  sourceID,
		Stage:     stage,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// PublishReady announces a finished podcast.
func (c *Client) PublishReady(sourceID, outputPath string, segments int, degraded []int) {
	if c == nil {
		return
	}
	c.publish(protocol.SubjectReady, protocol.PodcastReady{
		SourceID:        sourceID,
		OutputPath:      outputPath,
		Segments:        segments,
		DegradedIndices: degraded,
		Timestamp:       time.Now().UTC(),
	})
}

func (c *Client) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
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
