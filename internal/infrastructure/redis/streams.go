package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/outbox"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultEventStream = "leadflow:events"
	dlqSuffix          = ":dlq"
	// streamMaxLen trims each stream approximately to this many entries.
	streamMaxLen = 100_000
)

// StreamPublisher appends outbox entries to a Redis stream.
type StreamPublisher struct {
	client redis.Cmdable
	stream string
}

func NewStreamPublisher(client redis.Cmdable, stream string) *StreamPublisher {
	if stream == "" {
		stream = DefaultEventStream
	}
	return &StreamPublisher{client: client, stream: stream}
}

// Stream returns the name of the stream entries are published to.
func (p *StreamPublisher) Stream() string { return p.stream }

// Publish appends e. Consumers deduplicate on outbox_id, since an entry may
// be published more than once.
func (p *StreamPublisher) Publish(ctx context.Context, e *outbox.Entry) error {
	values, err := entryValues(e)
	if err != nil {
		return err
	}
	if err := p.add(ctx, p.stream, values); err != nil {
		return fmt.Errorf("publish %s: %w", e.EventType, err)
	}
	return nil
}

// PublishToDLQ parks an entry that kept failing, together with the last error.
func (p *StreamPublisher) PublishToDLQ(ctx context.Context, e *outbox.Entry, reason string) error {
	values, err := entryValues(e)
	if err != nil {
		return err
	}
	values["reason"] = reason
	values["retry_count"] = e.RetryCount + 1
	if err := p.add(ctx, p.stream+dlqSuffix, values); err != nil {
		return fmt.Errorf("publish %s to dlq: %w", e.EventType, err)
	}
	return nil
}

func (p *StreamPublisher) add(ctx context.Context, stream string, values map[string]any) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
}

func entryValues(e *outbox.Entry) (map[string]any, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload %s: %w", e.ID, err)
	}
	return map[string]any{
		"outbox_id":      e.ID.String(),
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID.String(),
		"event_type":     e.EventType,
		"payload":        string(payload),
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}
