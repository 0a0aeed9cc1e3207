package submission

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/okian/ratingmeter/internal/domain/dedupe"
)

// Option applies a configuration option to the Handler.
type Option func(*Handler)

// WithDeduper replaces the default in-flight guard.
func WithDeduper(d dedupe.Deduper) Option {
	return func(h *Handler) {
		if d != nil {
			h.guard = d
		}
	}
}

// WithClock sets the timestamp source of new ratings.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithIDGenerator sets the id source of new ratings.
func WithIDGenerator(gen func() string) Option {
	return func(h *Handler) {
		if gen != nil {
			h.newID = gen
		}
	}
}

// WithTracer sets the tracer used for submission spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) {
		if t != nil {
			h.tracer = t
		}
	}
}
