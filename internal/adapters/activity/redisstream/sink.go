package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vet-practice-records/internal/domain/activity"

	"github.com/redis/go-redis/v9"
)

const DefaultMaxLen = 100_000

// Sink publica cada evento como entrada de un Redis Stream para consumidores
// externos (notificaciones, analytics). El stream se recorta por MAXLEN ~.
type Sink struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
}

func NewSink(rdb redis.UniversalClient, stream string, maxLen int64) *Sink {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Sink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *Sink) Write(ctx context.Context, e activity.Event) error {
	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = string(b)
	}

	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":              e.ID,
			"organization_id": e.OrganizationID,
			"actor_id":        e.ActorID,
			"action":          string(e.Action),
			"entity_type":     e.EntityType,
			"entity_id":       e.EntityID,
			"details":         details,
			"occurred_at":     e.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
