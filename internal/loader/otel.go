package loader

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/urbanviz/mobview/internal/loader"

var (
	metricsOnce    sync.Once
	fetchCounter   metric.Int64Counter
	staleCounter   metric.Int64Counter
	failureCounter metric.Int64Counter
	pointCounter   metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		fetchCounter, _ = meter.Int64Counter("loader.fetches",
			metric.WithDescription("Number of fetches issued"))
		staleCounter, _ = meter.Int64Counter("loader.stale_drops",
			metric.WithDescription("Number of responses dropped because a newer fetch superseded them"))
		failureCounter, _ = meter.Int64Counter("loader.failures",
			metric.WithDescription("Number of failed fetches"))
		pointCounter, _ = meter.Int64Counter("loader.points_loaded",
			metric.WithDescription("Total points installed into the store"))
	})
}
