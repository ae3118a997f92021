package stats

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func MilisecondsElapsed(from time.Time) float64 {
	return float64(time.Since(from)) / float64(time.Millisecond)
}

var (
	prometheusMetricsFactory promauto.Factory = promauto.With(prometheus.DefaultRegisterer)
	gauges                                    = map[string]prometheus.Gauge{
		"storedBytes": prometheusMetricsFactory.NewGauge(prometheus.GaugeOpts{
			Name: "eventlog_stored_bytes",
			Help: "The size of every log file.",
		}),
		"fileCount": prometheusMetricsFactory.NewGauge(prometheus.GaugeOpts{
			Name: "eventlog_files",
			Help: "The number of log files.",
		}),
	}
	counterVecs = map[string]*prometheus.CounterVec{
		"eventsProcessed": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlog_events_processed_total",
			Help: "The number of events handled by consumers.",
		}, []string{"consumer_name", "result"}),
		"eventsIngested": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlog_events_ingested_total",
			Help: "The number of messages received for appending.",
		}, []string{"result"}),
	}
	histograms = map[string]prometheus.Histogram{
		"appendConfirmation": prometheusMetricsFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlog_append_confirmation_milliseconds",
			Help:    "The time elapsed between appending an event and reading it back.",
			Buckets: []float64{1, 5, 50, 100, 500, 1000},
		}),
	}
)

func CounterVec(name string) *prometheus.CounterVec {
	return counterVecs[name]
}

func Histogram(name string) prometheus.Histogram {
	return histograms[name]
}
func Gauge(name string) prometheus.Gauge {
	return gauges[name]
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
}
