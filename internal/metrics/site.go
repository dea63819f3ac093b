package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Snapshot lookup results.
const (
	SnapshotHit     = "hit"
	SnapshotMiss    = "miss"
	SnapshotCorrupt = "corrupt"
	SnapshotError   = "error"
)

var snapshotLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "memorial",
		Subsystem: "site",
		Name:      "snapshot_lookups_total",
		Help:      "Public page snapshot reads, by result.",
	},
	[]string{"result"},
)

// ObserveSnapshot counts one public page snapshot read.
func ObserveSnapshot(result string) {
	snapshotLookups.WithLabelValues(result).Inc()
}
