package memory

import (
	"context"
	"sync"

	"vet-practice-records/internal/domain/activity"
)

// ActivityLog guarda los eventos en memoria (dev). Implementa Sink y Reader.
type ActivityLog struct {
	mu     sync.RWMutex
	events []activity.Event
}

func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

func (l *ActivityLog) Write(ctx context.Context, e activity.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

// ListByOrganization devuelve los más recientes primero.
func (l *ActivityLog) ListByOrganization(ctx context.Context, organizationID string, limit int) ([]activity.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]activity.Event, 0)
	for i := len(l.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if l.events[i].OrganizationID == organizationID {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}
