package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*ObservedStage)(nil)

// ObservedStage decorates a pipeline stage with OpenTelemetry tracing
// and metrics collection. Each execution opens a span carrying the
// stage name, criterion, and input shape, records its latency, and
// marks the span status from the stage outcome.
type ObservedStage struct {
	inner   ports.Stage
	metrics ports.MetricsCollector
}

// NewObservedStage wraps a stage with observability. A nil metrics
// collector disables metrics but keeps tracing.
func NewObservedStage(inner ports.Stage, metrics ports.MetricsCollector) *ObservedStage {
	return &ObservedStage{inner: inner, metrics: metrics}
}

// Name returns the wrapped stage's identifier.
func (os *ObservedStage) Name() string { return os.inner.Name() }

// Validate delegates to the wrapped stage.
func (os *ObservedStage) Validate() error { return os.inner.Validate() }

// Execute runs the wrapped stage inside a span and records its latency
// and outcome.
func (os *ObservedStage) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	tracer := otel.Tracer("score-pipeline")
	ctx, span := tracer.Start(ctx, "Stage.Execute", trace.WithAttributes(
		attribute.String("stage.name", os.inner.Name()),
		attribute.String("stage.criterion", string(state.Criterion)),
		attribute.Int("stage.users", len(state.Users)),
		attribute.Int("stage.comparisons", len(state.Comparisons)),
	))
	defer span.End()

	started := time.Now()
	out, err := os.inner.Execute(ctx, state)
	elapsed := time.Since(started)

	labels := map[string]string{
		"stage":     os.inner.Name(),
		"criterion": string(state.Criterion),
	}
	if os.metrics != nil {
		os.metrics.RecordLatency("stage_execution", elapsed, labels)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if os.metrics != nil {
			labels["status"] = "error"
			os.metrics.RecordCounter("stage_executions_total", 1, labels)
		}
		return out, err
	}

	span.AddEvent("stage.complete", trace.WithAttributes(
		attribute.Int64("elapsed_ms", elapsed.Milliseconds()),
	))
	span.SetStatus(codes.Ok, "stage completed")
	if os.metrics != nil {
		labels["status"] = "success"
		os.metrics.RecordCounter("stage_executions_total", 1, labels)
	}
	return out, nil
}
