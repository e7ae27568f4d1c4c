package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Counter: charts produced by browser automation and persisted.
	ChartsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tuvi_charts_created_total",
		Help: "Total number of charts acquired from the chart site.",
	})

	// Counter: acquisitions answered from the chart cache.
	ChartsReused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tuvi_charts_reused_total",
		Help: "Total number of chart cache hits.",
	})

	AnalysesPerformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tuvi_analyses_performed_total",
		Help: "Total number of completed chart analyses.",
	})

	// Errors by pipeline stage: acquire, extract, store, analysis, handler.
	Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tuvi_errors_total",
		Help: "Total number of errors by stage.",
	}, []string{"stage"})

	// Histogram: acquisition latency by outcome.
	AcquisitionSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tuvi_acquisition_seconds",
		Help:    "Chart acquisition latency in seconds.",
		Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 20, 40, 60},
	}, []string{"outcome"})
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ChartsCreated,
			ChartsReused,
			AnalysesPerformed,
			Errors,
			AcquisitionSeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Snapshot is the statistics view shown to administrators.
type Snapshot struct {
	Uptime            time.Duration
	ChartsCreated     int64
	ChartsReused      int64
	AnalysesPerformed int64
	Errors            int64
}

// Take reads the current counter values.
func Take(startedAt time.Time) Snapshot {
	return Snapshot{
		Uptime:            time.Since(startedAt).Truncate(time.Second),
		ChartsCreated:     int64(counterValue(ChartsCreated)),
		ChartsReused:      int64(counterValue(ChartsReused)),
		AnalysesPerformed: int64(counterValue(AnalysesPerformed)),
		Errors:            int64(sumCollector(Errors)),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

func sumCollector(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var total float64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err == nil && m.Counter != nil {
			total += m.Counter.GetValue()
		}
	}
	return total
}
