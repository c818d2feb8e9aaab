// Package telemetry exports runtime activity to Prometheus and
// OpenTelemetry.
//
// Both exporters plug in through reactive.Hooks: a Collector turns
// hook callbacks into Prometheus metrics, a Tracer turns recomputes
// and effect runs into spans. Merge combines several hook sets so
// metrics, traces, and application hooks can observe one runtime
// side by side:
//
//	collector := telemetry.NewCollector(telemetry.WithNamespace("myapp"))
//	tracer := telemetry.NewTracer()
//	rt := reactive.New(reactive.WithHooks(telemetry.Merge(
//		collector.Hooks(),
//		tracer.Hooks(),
//	)))
package telemetry
