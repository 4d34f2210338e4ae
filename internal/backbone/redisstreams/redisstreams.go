// Package redisstreams implements backbone.Producer/backbone.Consumer on
// Redis Streams, following the Config-struct-with-defaults and
// exponential-backoff-retry shape of quarry/adapter/redis's pub/sub
// adapter — extended from PUBLISH to XADD/XREADGROUP/XACK because pub/sub
// has no replay or offset-commit semantics and this backbone needs both.
package redisstreams

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/clawderpunk/workspace-memory/internal/backbone"
	"github.com/clawderpunk/workspace-memory/internal/envelope"
)

// DefaultStreamPrefix prefixes every per-workspace stream key.
const DefaultStreamPrefix = "ws:"

// DefaultGroup is the consumer group name shared by every projection worker
// in a deployment (consumer-group membership is how partition assignment
// happens, per spec.md §4.3).
const DefaultGroup = "projection-workers"

// DefaultTimeout is the per-call timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the number of retry attempts on a transient publish
// failure.
const DefaultRetries = 3

// fieldPayload is the Streams field name holding the JSON envelope body.
const fieldPayload = "envelope"

// Config configures the Redis Streams backbone.
type Config struct {
	// URL is the Redis connection URL (required).
	URL string
	// StreamPrefix prefixes the per-workspace stream key (default "ws:").
	StreamPrefix string
	// Group is the consumer group name (default "projection-workers").
	Group string
	// Consumer is this process's consumer name within Group. Required for
	// Poll/Ack; a Producer-only backbone can leave it empty.
	Consumer string
	// Timeout is the per-call timeout (default 5s).
	Timeout time.Duration
	// Retries is the retry count for Publish on transient failure (default 3).
	Retries int
}

func (c *Config) setDefaults() error {
	if c.URL == "" {
		return errors.New("redisstreams: config requires a URL")
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = DefaultStreamPrefix
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries < 0 {
		return fmt.Errorf("redisstreams: retries must be >= 0, got %d", c.Retries)
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	return nil
}

func (c *Config) streamKey(workspace string) string {
	return c.StreamPrefix + workspace + ":events"
}

// Backbone implements backbone.Producer, backbone.Consumer and
// backbone.Reachable over a single Redis client.
type Backbone struct {
	cfg    Config
	client *goredis.Client
}

// New dials Redis per cfg and returns a ready Backbone.
func New(cfg Config) (*Backbone, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redisstreams: invalid URL: %w", err)
	}
	return &Backbone{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

var (
	_ backbone.Producer   = (*Backbone)(nil)
	_ backbone.Consumer   = (*Backbone)(nil)
	_ backbone.Reachable  = (*Backbone)(nil)
)

// Publish XADDs env to its workspace stream, retrying with exponential
// backoff on transient failure (mirrors quarry's redis adapter).
func (b *Backbone) Publish(ctx context.Context, env envelope.Envelope) error {
	body, err := env.ToWire()
	if err != nil {
		return fmt.Errorf("redisstreams: encode envelope: %w", err)
	}

	key := b.cfg.streamKey(env.WorkspaceID)
	var lastErr error
	attempts := 1 + b.cfg.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redisstreams: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redisstreams: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		lastErr = b.client.XAdd(callCtx, &goredis.XAddArgs{
			Stream: key,
			Values: map[string]any{fieldPayload: body},
		}).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redisstreams: publish failed after %d attempts: %w", attempts, lastErr)
}

// ensureGroup creates the consumer group starting from the beginning of the
// stream, tolerating BUSYGROUP (already exists).
func (b *Backbone) ensureGroup(ctx context.Context, key string) error {
	err := b.client.XGroupCreateMkStream(ctx, key, b.cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Poll reads up to max undelivered messages for workspace via XREADGROUP.
func (b *Backbone) Poll(ctx context.Context, workspace string, max int) ([]backbone.Message, error) {
	if b.cfg.Consumer == "" {
		return nil, errors.New("redisstreams: poll requires Config.Consumer")
	}
	key := b.cfg.streamKey(workspace)
	if err := b.ensureGroup(ctx, key); err != nil {
		return nil, fmt.Errorf("redisstreams: ensure group: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	res, err := b.client.XReadGroup(callCtx, &goredis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{key, ">"},
		Count:    int64(max),
		Block:    0,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redisstreams: xreadgroup: %w", err)
	}

	var out []backbone.Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			raw, ok := entry.Values[fieldPayload].(string)
			if !ok {
				continue
			}
			env, err := envelope.FromWire([]byte(raw))
			if err != nil {
				// Malformed payload: surfaced as a Message with a zero
				// Envelope so the projection worker can log-and-drop,
				// following spec.md §7's "malformed backbone messages"
				// handling without silently skipping the ack.
				out = append(out, backbone.Message{AckID: entry.ID})
				continue
			}
			out = append(out, backbone.Message{Envelope: env, AckID: entry.ID})
		}
	}
	return out, nil
}

// Ack XACKs ackID for workspace's stream and consumer group.
func (b *Backbone) Ack(ctx context.Context, workspace string, ackID string) error {
	key := b.cfg.streamKey(workspace)
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	if err := b.client.XAck(callCtx, key, b.cfg.Group, ackID).Err(); err != nil {
		return fmt.Errorf("redisstreams: xack: %w", err)
	}
	return nil
}

// Discover lists the workspace IDs with a live stream, by SCANning for keys
// matching the configured prefix. The projection worker uses this to learn
// which per-workspace streams exist, since Redis Streams has no built-in
// "list every partition" primitive and the backbone is partitioned by
// workspace rather than by a single shared topic.
func (b *Backbone) Discover(ctx context.Context) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pattern := b.cfg.StreamPrefix + "*:events"
	var workspaces []string
	iter := b.client.Scan(callCtx, 0, pattern, 0).Iterator()
	for iter.Next(callCtx) {
		key := iter.Val()
		trimmed := key[len(b.cfg.StreamPrefix) : len(key)-len(":events")]
		if trimmed != "" {
			workspaces = append(workspaces, trimmed)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisstreams: scan: %w", err)
	}
	return workspaces, nil
}

// Ping reports whether Redis is reachable.
func (b *Backbone) Ping(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(callCtx).Err()
}

// Close releases the underlying client.
func (b *Backbone) Close() error {
	return b.client.Close()
}
