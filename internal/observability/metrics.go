// ABOUTME: Bot metrics: routed messages, step latency, adapter failures and alert counts
// ABOUTME: Every method tolerates a nil receiver so callers never check for "metrics off"

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Route outcomes recorded on messages_routed_total.
const (
	OutcomeStarted   = "started"
	OutcomeAdvanced  = "advanced"
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeUnrouted  = "unrouted"
	OutcomeCommand   = "command"
	OutcomeBusy      = "busy"
	OutcomePanic     = "panic"
)

// Metrics holds the bot's instruments.
type Metrics struct {
	messagesRouted  metric.Int64Counter
	stepDuration    metric.Float64Histogram
	adapterFailures metric.Int64Counter
	alertsActive    metric.Int64UpDownCounter
	alertsFired     metric.Int64Counter
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.messagesRouted, err = meter.Int64Counter(
		"messages_routed_total",
		metric.WithDescription("Inbound messages routed by the dispatcher"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.stepDuration, err = meter.Float64Histogram(
		"step_duration_seconds",
		metric.WithDescription("Time spent inside one flow step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.adapterFailures, err = meter.Int64Counter(
		"adapter_failures_total",
		metric.WithDescription("External service failures by source and kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.alertsActive, err = meter.Int64UpDownCounter(
		"alerts_active",
		metric.WithDescription("Price watchers currently running"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.alertsFired, err = meter.Int64Counter(
		"alerts_fired_total",
		metric.WithDescription("Price alert notifications delivered"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// MessageRouted counts one routed message. flow is empty for unrouted messages.
func (m *Metrics) MessageRouted(ctx context.Context, flow, outcome string) {
	if m == nil {
		return
	}
	m.messagesRouted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	))
}

// StepDuration records how long one step ran.
func (m *Metrics) StepDuration(ctx context.Context, flow, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("state", state),
	))
}

// AdapterFailure counts one failed external call.
func (m *Metrics) AdapterFailure(ctx context.Context, source, kind string) {
	if m == nil {
		return
	}
	m.adapterFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("kind", kind),
	))
}

// AlertStarted and AlertEnded move the alerts_active gauge.
func (m *Metrics) AlertStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.alertsActive.Add(ctx, 1)
}

func (m *Metrics) AlertEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.alertsActive.Add(ctx, -1)
}

// AlertFired counts a delivered notification.
func (m *Metrics) AlertFired(ctx context.Context, symbol string) {
	if m == nil {
		return
	}
	m.alertsFired.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}
