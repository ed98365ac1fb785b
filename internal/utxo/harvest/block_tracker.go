package harvest

import (
	"fmt"
	"sort"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/safe"
)

// blockTracker counts resolved transactions of one block and collects its
// operations. Only the orchestrating goroutine touches it.
type blockTracker struct {
	ref      model.BlockRef
	started  time.Time
	txCount  int
	resolved int
	counted  bool
	ops      []model.NulldataTransaction
	record   *model.HarvestedBlock
}

func newBlockTracker(height uint64, started time.Time) *blockTracker {
	return &blockTracker{
		ref:     model.BlockRef{Height: height},
		started: started,
		ops:     []model.NulldataTransaction{},
	}
}

// expect records how many transactions must resolve. It reports whether the block
// is complete already.
func (b *blockTracker) expect(txCount int) bool {
	b.txCount = txCount
	b.counted = true
	return b.complete()
}

// resolve marks one transaction as done, keeping op when it is not nil. It reports
// whether that was the last outstanding transaction.
func (b *blockTracker) resolve(op *model.NulldataTransaction) bool {
	if op != nil {
		b.ops = append(b.ops, *op)
	}
	b.resolved++
	return b.complete()
}

func (b *blockTracker) complete() bool {
	return b.counted && b.record == nil && b.resolved >= b.txCount
}

// finalize orders the collected operations and builds the block record. It must be
// called once, right after expect or resolve reported completion.
func (b *blockTracker) finalize(coin model.Coin, network model.Network, finished time.Time) (model.HarvestedBlock, error) {
	if b.record != nil {
		return model.HarvestedBlock{}, fmt.Errorf("block %d finalized twice", b.ref.Height)
	}
	sort.SliceStable(b.ops, func(i, j int) bool {
		return b.ops[i].Index < b.ops[j].Index
	})

	txCount, err := safe.Uint32(b.txCount)
	if err != nil {
		return model.HarvestedBlock{}, fmt.Errorf("block %d tx count: %w", b.ref.Height, err)
	}
	opCount, err := safe.Uint32(len(b.ops))
	if err != nil {
		return model.HarvestedBlock{}, fmt.Errorf("block %d operation count: %w", b.ref.Height, err)
	}

	b.record = &model.HarvestedBlock{
		Coin:           coin,
		Network:        network,
		Height:         b.ref.Height,
		Hash:           b.ref.Hash,
		TxCount:        txCount,
		OperationCount: opCount,
		Duration:       finished.Sub(b.started),
	}
	return *b.record, nil
}

func (b *blockTracker) finalized() bool {
	return b.record != nil
}
