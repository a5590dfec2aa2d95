// Package telemetry wires the OpenTelemetry SDK: OTLP gRPC exporters for
// traces and metrics behind a single Init call. Disabled telemetry installs
// nothing and the global providers stay noop.
package telemetry
