package redisstream

import (
	"context"
	"testing"
	"time"

	"vet-practice-records/internal/domain/activity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_WritesStreamEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	s := NewSink(rdb, "vet:activity", 10)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Write(ctx, activity.Event{
		ID:             "ev-1",
		OrganizationID: "org-1",
		ActorID:        "vet-1",
		Action:         activity.ActionDeleted,
		EntityType:     "client",
		EntityID:       "c-1",
		Details:        map[string]any{"reason": "fraud"},
		OccurredAt:     at,
	}))

	entries, err := rdb.XRange(ctx, "vet:activity", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	v := entries[0].Values
	assert.Equal(t, "ev-1", v["id"])
	assert.Equal(t, "org-1", v["organization_id"])
	assert.Equal(t, "DELETED", v["action"])
	assert.Equal(t, `{"reason":"fraud"}`, v["details"])
	assert.Equal(t, "2025-03-01T10:00:00Z", v["occurred_at"])
}

func TestSink_RecorderSwallowsRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	rec := activity.NewRecorder(NewSink(rdb, "vet:activity", 0), nil, nil, 200*time.Millisecond)
	assert.NotPanics(t, func() {
		rec.Record(context.Background(), activity.Event{OrganizationID: "org-1", Action: activity.ActionCreated})
	})
}
