package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/safe"
)

const insertHarvestedBlocksQuery = `
INSERT INTO harvested_blocks (
	coin,
	network,
	height,
	hash,
	tx_count,
	operation_count,
	duration_ms
) VALUES`

// InsertHarvestedBlocks records fully harvested blocks.
func (r *Repository) InsertHarvestedBlocks(ctx context.Context, blocks []model.HarvestedBlock) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_harvested_blocks", firstCoin(blocks), firstNetwork(blocks), err, start)
	}()

	if len(blocks) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, insertHarvestedBlocksQuery)
	if err != nil {
		return fmt.Errorf("prepare harvested blocks batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = batch.Abort()
		}
	}()

	for _, b := range blocks {
		var durationMs uint64
		if durationMs, err = safe.Uint64(b.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("block %d duration: %w", b.Height, err)
		}
		if err = batch.Append(
			string(b.Coin),
			string(b.Network),
			b.Height,
			b.Hash,
			b.TxCount,
			b.OperationCount,
			durationMs,
		); err != nil {
			return fmt.Errorf("append harvested block: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert harvested blocks: %w", err)
	}
	return nil
}

func firstCoin(blocks []model.HarvestedBlock) model.Coin {
	if len(blocks) == 0 {
		return ""
	}
	return blocks[0].Coin
}

func firstNetwork(blocks []model.HarvestedBlock) model.Network {
	if len(blocks) == 0 {
		return ""
	}
	return blocks[0].Network
}
