// Package testdoubles provides spies for the observability interfaces of the event store.
//
//   - MetricsCollectorSpy: captures duration, counter and value recordings
//   - TracingCollectorSpy: captures started and finished spans
//   - ContextualLoggerSpy: captures context-aware log calls
//   - LogHandlerSpy: a slog.Handler capturing records, to back a *slog.Logger
package testdoubles
