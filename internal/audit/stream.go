package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/facility-scheduler/internal/persistence"
)

// DefaultStream is the Redis stream audit entries are appended to.
const DefaultStream = "scheduler:audit"

// StreamSink appends audit entries to a Redis stream.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamSink returns a sink writing to stream. Returns nil if client is nil.
// A positive maxLen trims the stream approximately to that length.
func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the stream key.
func (s *StreamSink) Stream() string {
	return s.stream
}

// Write appends entry to the stream. A nil sink discards the entry.
func (s *StreamSink) Write(ctx context.Context, entry persistence.AuditEntry) error {
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(streamEntry{
		ID:          entry.ID,
		ExecutionID: entry.ExecutionID,
		WorkItemID:  entry.WorkItemID,
		SiteID:      entry.SiteID,
		Actor:       entry.Actor,
		FromStatus:  entry.FromStatus,
		ToStatus:    entry.ToStatus,
		Comment:     entry.Comment,
		OccurredAt:  entry.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"audit_id":     entry.ID,
			"execution_id": entry.ExecutionID,
			"to_status":    entry.ToStatus,
			"entry":        string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

type streamEntry struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	WorkItemID  string    `json:"work_item_id"`
	SiteID      string    `json:"site_id"`
	Actor       string    `json:"actor"`
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	Comment     string    `json:"comment,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
