// Package telemetry provides OpenTelemetry counters for order lifecycle events.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/uhyunpark/trailstop/pkg/engine"

// Evaluation outcomes recorded by RecordEvaluation
const (
	OutcomeFired      = "fired"
	OutcomePeakRaised = "peak_raised"
	OutcomeHeld       = "held"
	OutcomeFailed     = "failed"
)

// Metrics records engine activity. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	ordersCreated   metric.Int64Counter
	ordersCancelled metric.Int64Counter
	ordersExecuted  metric.Int64Counter
	evaluations     metric.Int64Counter
	swapFailures    metric.Int64Counter
}

// New creates Metrics on the global meter provider
func New() (*Metrics, error) {
	return NewWithProvider(otel.GetMeterProvider())
}

// NewWithProvider creates Metrics on a custom meter provider
func NewWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	if m.ordersCreated, err = meter.Int64Counter(
		"orders.created.total",
		metric.WithDescription("Orders created, by kind"),
	); err != nil {
		return nil, err
	}
	if m.ordersCancelled, err = meter.Int64Counter(
		"orders.cancelled.total",
		metric.WithDescription("Orders cancelled by their owner"),
	); err != nil {
		return nil, err
	}
	if m.ordersExecuted, err = meter.Int64Counter(
		"orders.executed.total",
		metric.WithDescription("Orders settled through the router"),
	); err != nil {
		return nil, err
	}
	if m.evaluations, err = meter.Int64Counter(
		"orders.evaluations.total",
		metric.WithDescription("Trigger evaluations, by outcome"),
	); err != nil {
		return nil, err
	}
	if m.swapFailures, err = meter.Int64Counter(
		"orders.swap_failures.total",
		metric.WithDescription("Settlements aborted because the swap produced no acceptable output"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("order.kind", kind)))
}

func (m *Metrics) RecordCancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersCancelled.Add(ctx, 1)
}

func (m *Metrics) RecordExecuted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersExecuted.Add(ctx, 1)
}

func (m *Metrics) RecordEvaluation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("evaluation.outcome", outcome)))
}

func (m *Metrics) RecordSwapFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.swapFailures.Add(ctx, 1)
}
