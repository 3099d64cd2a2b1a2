// Package observability wires OpenTelemetry for errand-bot.
//
// Metrics are recorded through an OpenTelemetry meter and exported in the
// Prometheus text format on /metrics. Tracing is optional: when an OTLP
// endpoint is configured the dispatcher opens one span per routed message.
//
// Instruments:
//
//   - messages_routed_total{flow,outcome}
//   - step_duration_seconds{flow,state}
//   - adapter_failures_total{source,kind}
//   - alerts_active
//   - alerts_fired_total{symbol}
//
// A nil *Metrics is valid and records nothing.
package observability
