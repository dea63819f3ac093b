package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	boardConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "memorial",
			Subsystem: "board",
			Name:      "connections",
			Help:      "Open admin board WebSocket connections.",
		},
	)

	boardSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memorial",
			Subsystem: "board",
			Name:      "saves_total",
			Help:      "Drag gestures persisted, by target and outcome.",
		},
		[]string{"target", "outcome"},
	)
)

// Save outcomes.
const (
	SaveOK      = "ok"
	SaveFailed  = "failed"
	SaveDropped = "dropped"
)

// BoardConnected tracks an opened board connection; call the returned func
// when it closes.
func BoardConnected() func() {
	boardConnections.Inc()
	return boardConnections.Dec
}

// ObserveBoardSave counts one completed drag gesture.
func ObserveBoardSave(target, outcome string) {
	boardSavesTotal.WithLabelValues(target, outcome).Inc()
}
