// Package prometheus exposes schoolauth engine metrics as a Prometheus
// collector.
//
// The collector is registered in its own registry; mount Handler or
// register the Exporter with an application registry. Counters are named
// schoolauth_*_total and validate latency is published as the
// schoolauth_validate_latency_seconds histogram.
package prometheus
