package follower

import (
	"context"
	"fmt"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/batcher"
	"go.uber.org/zap"
)

type harvestedBlock struct {
	block model.HarvestedBlock
	txs   []model.NulldataTransaction
}

// blockWriter stores a batch's operations before its block records, so a stored
// block record implies its operations are stored.
type blockWriter struct {
	repo    ClickhouseRepository
	coin    model.Coin
	network model.Network
	logger  *zap.Logger
	batcher *batcher.Batcher[harvestedBlock]
}

func newBlockWriter(repo ClickhouseRepository, coin model.Coin, network model.Network, logger *zap.Logger) *blockWriter {
	w := &blockWriter{
		repo:    repo,
		coin:    coin,
		network: network,
		logger:  logger,
	}
	w.batcher = batcher.New[harvestedBlock](
		logger.Named("blockBatcher"),
		w.flush,
		batcher.Options{
			FlushSize:     blockWriterFlushSize,
			FlushInterval: blockWriterFlushInterval,
			RPS:           blockWriterRPS,
		},
	)
	return w
}

func (w *blockWriter) Start(ctx context.Context) {
	w.batcher.Start(ctx)
}

func (w *blockWriter) Stop() error {
	return w.batcher.Stop()
}

func (w *blockWriter) WriteBlock(ctx context.Context, block model.HarvestedBlock, txs []model.NulldataTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.batcher.Add(ctx, harvestedBlock{block: block, txs: txs})
}

func (w *blockWriter) flush(ctx context.Context, items []harvestedBlock) error {
	blocks := make([]model.HarvestedBlock, 0, len(items))
	var txs []model.NulldataTransaction
	for _, item := range items {
		blocks = append(blocks, item.block)
		txs = append(txs, item.txs...)
	}

	if err := w.repo.InsertNulldataTransactions(ctx, w.coin, w.network, txs); err != nil {
		return fmt.Errorf("store operations: %w", err)
	}
	if err := w.repo.InsertHarvestedBlocks(ctx, blocks); err != nil {
		return fmt.Errorf("store harvested blocks: %w", err)
	}

	w.logger.Debug("stored harvested blocks",
		zap.Int("blocks", len(blocks)),
		zap.Int("operations", len(txs)),
		zap.Uint64("last_height", blocks[len(blocks)-1].Height),
	)
	return nil
}
