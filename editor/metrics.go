package editor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OpenEditors    prometheus.Gauge
	MutationsTotal *prometheus.CounterVec
	HistoryTotal   *prometheus.CounterVec
	FetchesTotal   *prometheus.CounterVec
	DroppedEvents  prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			OpenEditors: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "emojiart_open_editors",
				Help: "Current number of open document editors",
			}),
			MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "emojiart_mutations_total",
				Help: "Total number of document mutations by operation",
			}, []string{"op"}),
			HistoryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "emojiart_history_total",
				Help: "Total number of applied undo and redo steps",
			}, []string{"direction"}),
			FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "emojiart_background_fetches_total",
				Help: "Total number of background fetches by outcome",
			}, []string{"outcome"}),
			DroppedEvents: promauto.NewCounter(prometheus.CounterOpts{
				Name: "emojiart_dropped_events_total",
				Help: "Total number of change events dropped for slow subscribers",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) EditorOpened() {
	if m == nil || m.OpenEditors == nil {
		return
	}
	m.OpenEditors.Inc()
}

func (m *Metrics) EditorClosed() {
	if m == nil || m.OpenEditors == nil {
		return
	}
	m.OpenEditors.Dec()
}

func (m *Metrics) RecordMutation(op string) {
	if m == nil || m.MutationsTotal == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordHistory(direction string) {
	if m == nil || m.HistoryTotal == nil {
		return
	}
	m.HistoryTotal.WithLabelValues(direction).Inc()
}

func (m *Metrics) RecordFetch(outcome string) {
	if m == nil || m.FetchesTotal == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordDroppedEvent() {
	if m == nil || m.DroppedEvents == nil {
		return
	}
	m.DroppedEvents.Inc()
}
