// Package events publishes run completion events over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/michaelbrown/scriptd/internal/storage"
)

// DefaultChannel is the pub/sub channel run events are published on.
const DefaultChannel = "script_runs"

// RunEvent is published once per finished run.
type RunEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"time"`
}

// NewRunEvent builds the event for a run record.
func NewRunEvent(r *storage.Run) RunEvent {
	return RunEvent{
		Type:       "run_finished",
		RunID:      r.ID,
		Status:     string(r.Status),
		ExitCode:   r.ExitCode,
		DurationMs: r.DurationMs,
		Error:      r.Error,
		Timestamp:  r.CreatedAt.Unix(),
	}
}

// Publisher sends run events to a Redis channel.
type Publisher struct {
	redis   *redis.Client
	channel string
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{redis: client, channel: channel}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// Publishing is bounded by the caller's deadline.
		ContextTimeoutEnabled: true,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewPublisher(client, channel), nil
}

// PublishRun publishes the completion event for r.
func (p *Publisher) PublishRun(ctx context.Context, r *storage.Run) error {
	data, err := json.Marshal(NewRunEvent(r))
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.channel, err)
	}
	return nil
}

// Channel returns the channel events are published on.
func (p *Publisher) Channel() string {
	return p.channel
}

// Close closes the underlying Redis client.
func (p *Publisher) Close() error {
	return p.redis.Close()
}
