// Package oteladapters implements the observability interfaces of the eventstore package with OpenTelemetry.
//
// The adapters work for every engine and for the command package:
//
//	meter := otel.Meter("dcbstore")
//	tracer := otel.Tracer("dcbstore")
//
//	store, err := postgresengine.NewEventStoreFromPGXPool(
//		pool,
//		postgresengine.WithMetrics(oteladapters.NewMetricsCollector(meter)),
//		postgresengine.WithTracing(oteladapters.NewTracingCollector(tracer)),
//		postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger("dcbstore")),
//	)
//
// The providers behind otel.Meter, otel.Tracer, and the global LoggerProvider are configured elsewhere,
// e.g. by internal/telemetry in this module.
package oteladapters
