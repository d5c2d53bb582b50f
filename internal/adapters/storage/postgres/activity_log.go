package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"vet-practice-records/internal/domain/activity"
)

// ActivityLog persiste el activity log en activity_events (Sink + Reader).
type ActivityLog struct {
	db *sql.DB
}

func NewActivityLog(db *sql.DB) *ActivityLog {
	return &ActivityLog{db: db}
}

func (l *ActivityLog) Write(ctx context.Context, e activity.Event) error {
	var details []byte
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = b
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO activity_events (
			id, organization_id, actor_id, action, entity_type, entity_id, details, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.OrganizationID, e.ActorID, string(e.Action), e.EntityType, e.EntityID, details, e.OccurredAt)
	return mapErr(err)
}

func (l *ActivityLog) ListByOrganization(ctx context.Context, organizationID string, limit int) ([]activity.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, organization_id, actor_id, action, entity_type, entity_id, details, occurred_at
		FROM activity_events
		WHERE organization_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, organizationID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEvent)
}

func scanEvent(row rowScanner) (activity.Event, error) {
	var e activity.Event
	var action string
	var details []byte
	if err := row.Scan(&e.ID, &e.OrganizationID, &e.ActorID, &action, &e.EntityType, &e.EntityID, &details, &e.OccurredAt); err != nil {
		return activity.Event{}, mapErr(err)
	}
	e.Action = activity.Action(action)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return activity.Event{}, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return e, nil
}
