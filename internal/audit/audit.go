// Package audit records durable lifecycle events for envelopes.
//
// Emission failures never fail the operation that triggered them: callers
// log and continue, because the signing transaction has already committed.
package audit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signethq/signet/internal/platform/id"
	"github.com/signethq/signet/internal/storage"
)

// Outcome labels recorded alongside audit events.
const (
	OutcomeOK     = "OK"
	OutcomeDenied = "DENIED"
	OutcomeError  = "ERROR"
)

// Emitter records envelope audit events.
type Emitter struct {
	store       storage.AuditEventStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewEmitter creates a new audit event emitter.
func NewEmitter(store storage.AuditEventStore) *Emitter {
	return &Emitter{store: store, clock: time.Now, idGenerator: id.NewID}
}

// WithClock overrides the emitter clock. Intended for tests.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// Emit records an audit event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, event storage.AuditEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if event.ID == "" {
		generator := e.idGenerator
		if generator == nil {
			generator = id.NewID
		}
		eventID, err := generator()
		if err != nil {
			return err
		}
		event.ID = eventID
	}
	if event.CreatedAt.IsZero() {
		if e.clock == nil {
			event.CreatedAt = time.Now().UTC()
		} else {
			event.CreatedAt = e.clock().UTC()
		}
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeOK
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string)
		}
		event.Metadata["TraceID"] = sc.TraceID().String()
		event.Metadata["SpanID"] = sc.SpanID().String()
	}
	return e.store.PutAuditEvent(ctx, event)
}
