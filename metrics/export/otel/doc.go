// Package otel provides OpenTelemetry metric exporter bindings for trustcore
// counters.
//
// [NewOTelExporter] registers an Int64ObservableCounter per trustcore metric.
// A single callback reads [trustcore.Engine.MetricsSnapshot] on each
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate engine state.
package otel
