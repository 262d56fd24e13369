// Package metrics provides the observability hooks used across shipwright.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	q := queue.New(cfg, processor, queue.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// PrometheusRecorder registers its collectors on the given registry and
// HTTPHandler serves that registry on the metrics route.
package metrics
