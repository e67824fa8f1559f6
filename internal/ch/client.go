// Package ch persists admitted telemetry into ClickHouse, one table per
// item variant.
package ch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"pulse-telemetry/internal/model"
)

// Client wraps a ClickHouse connection.
type Client struct {
	db *sql.DB
}

// New creates a ClickHouse client from a DSN.
func New(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close releases database resources.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping ensures the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	return nil
}

const envelopeColumns = `
  project_id       LowCardinality(String),
  client_id        String,
  session_id       String,
  user_id          String,
  event_time       DateTime64(3, 'UTC'),
  device_type      LowCardinality(String),
  browser          LowCardinality(String),
  os               LowCardinality(String),
  _ingested_at     DateTime64(3, 'UTC')`

// EnsureSchema creates the four telemetry tables if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	ddls := []string{
		`CREATE TABLE IF NOT EXISTS pageviews
(` + envelopeColumns + `,
  url              String
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (project_id, event_time, client_id)`,
		`CREATE TABLE IF NOT EXISTS events
(` + envelopeColumns + `,
  event_name       LowCardinality(String),
  duration_ms      Nullable(Float64),
  properties       JSON
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (project_id, event_time, event_name, client_id)`,
		`CREATE TABLE IF NOT EXISTS errors
(` + envelopeColumns + `,
  message          String,
  stack_trace      String,
  fingerprint      FixedString(64)
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (project_id, event_time, fingerprint)`,
		`CREATE TABLE IF NOT EXISTS performance
(` + envelopeColumns + `,
  lcp              Nullable(Float64),
  cls              Nullable(Float64),
  fid              Nullable(Float64),
  ttfb             Nullable(Float64)
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (project_id, event_time, client_id)`,
	}
	for _, ddl := range ddls {
		if _, err := c.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// Insert writes a batch in submission order, stopping at the first failing
// row. Rows written before the failure stay committed; the returned count
// tells the caller how many made it. There is no rollback, so batch errors
// must be treated as possibly-partial.
func (c *Client) Insert(ctx context.Context, tenantID string, channel model.Channel, items []model.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ingestedAt := time.Now().UTC()
	for i := range items {
		if err := c.insertOne(ctx, tenantID, channel, &items[i], ingestedAt); err != nil {
			return i, fmt.Errorf("insert %s row %d: %w", channel, i, err)
		}
	}
	return len(items), nil
}

func (c *Client) insertOne(ctx context.Context, tenantID string, channel model.Channel, it *model.Item, ingestedAt time.Time) error {
	envelope := []any{
		tenantID, it.ClientID, it.SessionID, it.UserID,
		it.Time(), it.DeviceType, it.Browser, it.OS, ingestedAt,
	}
	switch channel {
	case model.ChannelPageViews:
		args := append(envelope, it.URL)
		_, err := c.db.ExecContext(ctx, `
INSERT INTO pageviews (
  project_id, client_id, session_id, user_id, event_time,
  device_type, browser, os, _ingested_at, url
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		return err
	case model.ChannelEvents:
		props := it.Properties
		if props == nil {
			props = map[string]any{}
		}
		payload, err := json.Marshal(props)
		if err != nil {
			return err
		}
		args := append(envelope, it.EventName, it.DurationMs, string(payload))
		_, err = c.db.ExecContext(ctx, `
INSERT INTO events (
  project_id, client_id, session_id, user_id, event_time,
  device_type, browser, os, _ingested_at, event_name, duration_ms, properties
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		return err
	case model.ChannelErrors:
		args := append(envelope, it.Message, it.StackTrace, it.Fingerprint)
		_, err := c.db.ExecContext(ctx, `
INSERT INTO errors (
  project_id, client_id, session_id, user_id, event_time,
  device_type, browser, os, _ingested_at, message, stack_trace, fingerprint
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		return err
	case model.ChannelPerformance:
		args := append(envelope, it.LCP, it.CLS, it.FID, it.TTFB)
		_, err := c.db.ExecContext(ctx, `
INSERT INTO performance (
  project_id, client_id, session_id, user_id, event_time,
  device_type, browser, os, _ingested_at, lcp, cls, fid, ttfb
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		return err
	}
	return fmt.Errorf("unknown channel %q", channel)
}
