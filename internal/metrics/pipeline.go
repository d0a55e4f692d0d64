package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/pipeline"
	"github.com/tomasvik/docpipe/internal/queue"
)

// PipelineMetrics owns a private registry so test instances never collide on
// the global default.
type PipelineMetrics struct {
	registry *prometheus.Registry

	itemsTotal   *prometheus.CounterVec
	itemDuration prometheus.Histogram
	queueDepth   *prometheus.GaugeVec
	reviewsTotal *prometheus.CounterVec
	inferenceUp  prometheus.Gauge
}

func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Items that reached a terminal status, by status and error code.",
		},
		[]string{"status", "code"},
	)
	itemDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "pipeline",
			Name:      "item_duration_seconds",
			Help:      "Wall time from processing start to terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of items per status.",
		},
		[]string{"status"},
	)
	reviewsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "review",
			Name:      "requests_total",
			Help:      "Review requests by verdict.",
		},
		[]string{"verdict"},
	)
	inferenceUp := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "inference",
			Name:      "up",
			Help:      "1 when the last inference health probe succeeded.",
		},
	)

	registry.MustRegister(itemsTotal, itemDuration, queueDepth, reviewsTotal, inferenceUp)

	return &PipelineMetrics{
		registry:     registry,
		itemsTotal:   itemsTotal,
		itemDuration: itemDuration,
		queueDepth:   queueDepth,
		reviewsTotal: reviewsTotal,
		inferenceUp:  inferenceUp,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) SetInferenceUp(up bool) {
	if up {
		m.inferenceUp.Set(1)
		return
	}
	m.inferenceUp.Set(0)
}

func (m *PipelineMetrics) ObserveReview(verdict string) {
	m.reviewsTotal.WithLabelValues(verdict).Inc()
}

func (m *PipelineMetrics) setQueueDepth(stats map[constants.ItemStatus]int) {
	for _, status := range []constants.ItemStatus{
		constants.ItemPending,
		constants.ItemProcessing,
		constants.ItemCompleted,
		constants.ItemFailed,
		constants.ItemSkipped,
	} {
		m.queueDepth.WithLabelValues(string(status)).Set(float64(stats[status]))
	}
}

// Observe consumes orchestrator events and queue notifications until ctx is
// cancelled. It runs beside the pipeline, never inside it.
func (m *PipelineMetrics) Observe(ctx context.Context, orc *pipeline.Orchestrator, store *queue.Store) {
	events, cancelEvents := orc.Events().Subscribe(256)
	defer cancelEvents()
	notes, cancelNotes := store.Subscribe(256)
	defer cancelNotes()

	started := map[string]time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case pipeline.EventItemStarted:
				started[e.Locator] = time.Now()
			case pipeline.EventReviewResolved:
				m.ObserveReview(string(e.Verdict))
			case pipeline.EventItemFinished:
				m.itemsTotal.WithLabelValues(string(e.Status), string(e.Code)).Inc()
				if t0, ok := started[e.Locator]; ok {
					m.itemDuration.Observe(time.Since(t0).Seconds())
					delete(started, e.Locator)
				}
			}
		case _, ok := <-notes:
			if !ok {
				return
			}
			m.setQueueDepth(store.Statistics())
		}
	}
}
