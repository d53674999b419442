// Package telemetry wires OpenTelemetry tracing and metrics for auth chains.
//
// It sets up the process tracer provider, opens one span per chain operation,
// records otel instruments for chain executions, and exposes a Prometheus
// registry for the metrics endpoint of the CLI.
package telemetry
