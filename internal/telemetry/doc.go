// Package telemetry sets up the OpenTelemetry trace and metric providers.
//
// Telemetry is off by default. When enabled it exports over OTLP (grpc or
// http/protobuf) and installs itself as the global provider, so packages
// that instrument through otel.Tracer and otel.Meter (assembly, http) pick
// it up without being handed a provider. Exporter setup failures mark the
// instance degraded instead of failing startup.
package telemetry
