package activity

import (
	"context"
	"strings"
	"time"

	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/platform/metrics"

	"github.com/google/uuid"
)

const DefaultTimeout = 2 * time.Second

// Recorder hace la escritura fire-and-forget: timeout acotado, contexto
// desacoplado de la cancelación del request y errores solo al log.
type Recorder struct {
	sink    Sink
	log     logger.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(sink Sink, log logger.Logger, m *metrics.Metrics, timeout time.Duration) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Recorder{
		sink:    sink,
		log:     log,
		metrics: m,
		timeout: timeout,
		now:     time.Now,
	}
}

// Record nunca falla ni bloquea más que timeout. Receiver nil => no-op.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.sink == nil {
		return
	}
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.sink.Write(wctx, e); err != nil {
		r.metrics.ActivityDropped()
		r.log.Warn("activity sink write failed", map[string]any{
			"err":             err,
			"action":          string(e.Action),
			"entity_type":     e.EntityType,
			"entity_id":       e.EntityID,
			"organization_id": e.OrganizationID,
		})
	}
}
