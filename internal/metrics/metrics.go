// Package metrics exposes runtime counters as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedrun"

var (
	RunsTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "runs_triggered_total",
		Help: "Runs accepted, by trigger kind.",
	}, []string{"trigger"})
	RunsConflicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "runs_conflicted_total",
		Help: "Triggers rejected because another run was active.",
	})
	RunsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "runs_finished_total",
		Help: "Runs that reached a terminal status, by status.",
	}, []string{"status"})
	RunsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "runs_reaped_total",
		Help: "Stale runs forced to failed.",
	})
	RunsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "runs_active",
		Help: "Background run tasks currently executing in this process.",
	})
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "run_duration_seconds",
		Help:    "Wall time from acceptance to terminal status.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	FetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "fetches_total",
		Help: "Source fetches, by outcome (ok, error, timeout, circuit_open).",
	}, []string{"outcome"})
	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "fetch_duration_seconds",
		Help:    "Per-source fetch latency.",
		Buckets: prometheus.DefBuckets,
	})

	ArticlesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "articles_stored_total",
		Help: "Articles newly written to the article sink.",
	})
	ArticlesDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "articles_deduplicated_total",
		Help: "Articles skipped as already stored.",
	})
	AuthorsUpserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "authors_upserted_total",
		Help: "Author upserts, by result (created, updated).",
	}, []string{"result"})

	AlertsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "alerts_dispatched_total",
		Help: "Alerts delivered, by sink.",
	}, []string{"sink"})
	AlertsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "alerts_failed_total",
		Help: "Alert deliveries that failed, by sink.",
	}, []string{"sink"})

	RunsArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "runs_archived_total",
		Help: "Terminal runs copied to the archive.",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RunsTriggered, RunsConflicted, RunsFinished, RunsReaped, RunsActive, RunDuration,
		FetchesTotal, FetchDuration,
		ArticlesStored, ArticlesDeduplicated, AuthorsUpserted,
		AlertsDispatched, AlertsFailed,
		RunsArchived,
	}
}

// Register adds every feedrun collector to reg. Registering twice is not an
// error.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
