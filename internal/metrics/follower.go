package metrics

import (
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	followerFetchTipTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "follower",
		Name:      "fetch_tip_total",
		Help:      "Count of attempts to fetch the node tip.",
	}, []string{"coin", "network", "status"})

	followerFetchTipDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "follower",
		Name:      "fetch_tip_duration_seconds",
		Help:      "Duration of fetching the node tip.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"coin", "network", "status"})

	followerProcessChunkTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "follower",
		Name:      "process_chunk_total",
		Help:      "Count of harvested chunks.",
	}, []string{"coin", "network", "status"})

	followerProcessChunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "follower",
		Name:      "process_chunk_duration_seconds",
		Help:      "Duration of harvesting a chunk of heights.",
		Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"coin", "network", "status"})

	followerProcessChunkSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "follower",
		Name:      "process_chunk_size",
		Help:      "Number of heights per chunk.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"coin", "network"})

	followerHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "follower",
		Name:      "height",
		Help:      "Latest node tip and harvested height.",
	}, []string{"coin", "network", "kind"})
)

// Follower tracks metrics for the follower service.
type Follower struct {
	coin    model.Coin
	network model.Network
}

// NewFollower constructs a Follower collector.
func NewFollower(coin model.Coin, network model.Network) *Follower {
	coin, network = labels(coin, network)
	return &Follower{coin: coin, network: network}
}

// ObserveFetchTip records a tip lookup.
func (m Follower) ObserveFetchTip(err error, started time.Time) {
	status := statusOf(err)
	followerFetchTipTotal.WithLabelValues(string(m.coin), string(m.network), status).Inc()
	followerFetchTipDuration.WithLabelValues(string(m.coin), string(m.network), status).
		Observe(time.Since(started).Seconds())
}

// ObserveProcessChunk records harvesting of a chunk of heights.
func (m Follower) ObserveProcessChunk(err error, heights int, started time.Time) {
	status := statusOf(err)
	followerProcessChunkTotal.WithLabelValues(string(m.coin), string(m.network), status).Inc()
	followerProcessChunkDuration.WithLabelValues(string(m.coin), string(m.network), status).
		Observe(time.Since(started).Seconds())
	followerProcessChunkSize.WithLabelValues(string(m.coin), string(m.network)).Observe(float64(heights))
}

// SetHeights publishes the node tip and the last harvested height.
func (m Follower) SetHeights(tip, harvested uint64) {
	followerHeight.WithLabelValues(string(m.coin), string(m.network), "tip").Set(float64(tip))
	followerHeight.WithLabelValues(string(m.coin), string(m.network), "harvested").Set(float64(harvested))
}
