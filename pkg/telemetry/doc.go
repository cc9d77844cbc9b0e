// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for stagegate.
//
// Logging is built on zerolog; child loggers carry the component, run and
// rendezvous namespace fields deployment operators filter on. Metrics cover
// plan staging outcomes and quorum rendezvous progress and are exposed over
// an HTTP /metrics endpoint. Tracing wraps plan staging and quorum
// round-trips in spans and exports via OTLP or stdout.
//
// All three are optional: disabled configurations yield no-op
// implementations so call sites never branch.
package telemetry
