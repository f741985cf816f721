package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"edulend/core/events"
)

type eventMetrics struct {
	events *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the lazily-initialised metrics registry tracking structured
// ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "edulend",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed ledger events segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.events)
	})
	return eventRegistry
}

// RecordEvent increments the event counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.events.WithLabelValues(normalized).Inc()
}

// MetricsEmitter decorates an events.Emitter, recording every event before
// forwarding it. A nil next emitter just records.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wraps next with event metrics recording.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	return &MetricsEmitter{next: next}
}

// Emit implements the events.Emitter interface.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	Events().RecordEvent(evt.EventType())
	if m.next != nil {
		m.next.Emit(evt)
	}
}
