package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaccess/internal/observability"
)

// Logger is the audit trail sink.
type Logger interface {
	// LogEvent records an audit event. Nil events are ignored.
	LogEvent(ctx context.Context, event *Event)

	// LogAuthorization records an authorization decision.
	LogAuthorization(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource, reason string)

	// Close flushes and releases the sink.
	Close() error
}

type logger struct {
	mu      sync.Mutex
	writer  io.Writer
	closer  io.Closer
	logger  observability.Logger
	metrics *Metrics
}

// Option is a functional option for the audit logger.
type Option func(*logger)

// WithAuditLogger sets the operational logger used for sink errors.
func WithAuditLogger(l observability.Logger) Option {
	return func(a *logger) {
		a.logger = l
	}
}

// WithMetrics sets the audit metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *logger) {
		a.metrics = m
	}
}

// WithWriter directs events to an arbitrary writer instead of a file.
func WithWriter(w io.Writer) Option {
	return func(a *logger) {
		a.writer = w
	}
}

// New creates an audit logger writing JSON lines to output. Output is
// "stdout", "stderr" or a file path opened for append.
func New(output string, opts ...Option) (Logger, error) {
	a := &logger{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.writer == nil {
		switch output {
		case "", "stdout":
			a.writer = os.Stdout
		case "stderr":
			a.writer = os.Stderr
		default:
			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return nil, fmt.Errorf("failed to open audit output %s: %w", output, err)
			}
			a.writer = f
			a.closer = f
		}
	}

	return a, nil
}

func (a *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		event.TraceID = span.TraceID().String()
		event.SpanID = span.SpanID().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("failed to marshal audit event", observability.Error(err))
		return
	}

	a.mu.Lock()
	_, err = a.writer.Write(append(data, '\n'))
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("failed to write audit event", observability.Error(err))
		return
	}

	if a.metrics != nil {
		a.metrics.RecordEvent(string(event.Type), string(event.Action), string(event.Outcome))
	}
}

func (a *logger) LogAuthorization(
	ctx context.Context,
	outcome Outcome,
	subject *Subject,
	resource *Resource,
	reason string,
) {
	event := NewEvent(EventTypeAuthorization, ActionAccess, outcome)
	event.Subject = subject
	event.Resource = resource
	event.Reason = reason
	a.LogEvent(ctx, event)
}

func (a *logger) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// nopLogger discards all events.
type nopLogger struct{}

// NopLogger returns a logger that discards all events.
func NopLogger() Logger {
	return &nopLogger{}
}

func (n *nopLogger) LogEvent(context.Context, *Event) {}
func (n *nopLogger) LogAuthorization(context.Context, Outcome, *Subject, *Resource, string) {
}
func (n *nopLogger) Close() error { return nil }
