// Package otel binds schoolauth engine metrics to OpenTelemetry observable
// instruments.
//
// NewExporter registers one Int64ObservableCounter per engine counter and,
// per latency histogram, a cumulative bucket gauge keyed by the le attribute
// plus a count gauge. The caller owns the MeterProvider.
//
// NewPipeline is the self-contained form used by schoolauthd: a private
// MeterProvider with a manual reader, served as JSON by Pipeline.Handler.
package otel
