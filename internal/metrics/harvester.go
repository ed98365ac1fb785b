package metrics

import (
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	harvestSliceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "slices_total",
		Help:      "Count of harvested block slices.",
	}, []string{"coin", "network", "status"})

	harvestSliceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "slice_duration_seconds",
		Help:      "Duration of harvesting a slice of blocks.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"coin", "network", "status"})

	harvestSliceSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "slice_size",
		Help:      "Number of blocks per slice.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1..2048
	}, []string{"coin", "network"})

	harvestBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "blocks_total",
		Help:      "Count of fully resolved blocks.",
	}, []string{"coin", "network"})

	harvestBlockDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "block_duration_seconds",
		Help:      "Time from dispatching a block hash lookup to the block being resolved.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"coin", "network"})

	harvestOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "operations_total",
		Help:      "Count of harvested nulldata transactions.",
	}, []string{"coin", "network"})

	harvestTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "transactions_total",
		Help:      "Count of scanned transactions.",
	}, []string{"coin", "network"})

	harvestSourceLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "harvester",
		Name:      "source_lookups_total",
		Help:      "Count of input source transaction lookups by cache result.",
	}, []string{"coin", "network", "cache"})
)

// Harvester tracks metrics for the block harvester.
type Harvester struct {
	coin    model.Coin
	network model.Network
}

// NewHarvester constructs a Harvester collector.
func NewHarvester(coin model.Coin, network model.Network) *Harvester {
	coin, network = labels(coin, network)
	return &Harvester{coin: coin, network: network}
}

// ObserveSlice records the outcome of one slice.
func (m Harvester) ObserveSlice(blocks int, err error, started time.Time) {
	status := statusOf(err)
	harvestSliceTotal.WithLabelValues(string(m.coin), string(m.network), status).Inc()
	harvestSliceDuration.WithLabelValues(string(m.coin), string(m.network), status).
		Observe(time.Since(started).Seconds())
	harvestSliceSize.WithLabelValues(string(m.coin), string(m.network)).Observe(float64(blocks))
}

// ObserveBlock records a resolved block.
func (m Harvester) ObserveBlock(block model.HarvestedBlock) {
	harvestBlocksTotal.WithLabelValues(string(m.coin), string(m.network)).Inc()
	harvestBlockDuration.WithLabelValues(string(m.coin), string(m.network)).Observe(block.Duration.Seconds())
	harvestTransactionsTotal.WithLabelValues(string(m.coin), string(m.network)).Add(float64(block.TxCount))
	harvestOperationsTotal.WithLabelValues(string(m.coin), string(m.network)).Add(float64(block.OperationCount))
}

// ObserveSourceLookup records whether an input lookup reused an earlier one.
func (m Harvester) ObserveSourceLookup(cached bool) {
	result := "miss"
	if cached {
		result = "hit"
	}
	harvestSourceLookupsTotal.WithLabelValues(string(m.coin), string(m.network), result).Inc()
}
