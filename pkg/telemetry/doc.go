// Package telemetry bootstraps OpenTelemetry tracing for the telemetrycore
// host. Spans come from the HTTP handlers; this package only installs the
// exporter, resource and propagator they report through.
package telemetry
