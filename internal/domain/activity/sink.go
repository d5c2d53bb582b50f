package activity

import (
	"context"
	"errors"
)

// Sink recibe eventos. Es best-effort: el Recorder traga sus errores.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Reader lo implementan los stores que además permiten consultar el log.
type Reader interface {
	ListByOrganization(ctx context.Context, organizationID string, limit int) ([]Event, error)
}

// MultiSink escribe en todos; devuelve los errores juntos.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
