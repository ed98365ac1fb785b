package follower

import (
	"context"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	TipSource interface {
		BlockCount(ctx context.Context, p bitcoin.ClientProvider) (int64, error)
	}
	Harvester interface {
		HarvestWithBlocks(ctx context.Context, heights []uint64) ([]model.BlockOperations, []model.HarvestedBlock, error)
	}
	BlockWriter interface {
		Start(ctx context.Context)
		Stop() error
		WriteBlock(ctx context.Context, block model.HarvestedBlock, txs []model.NulldataTransaction) error
	}
	ClickhouseRepository interface {
		InsertNulldataTransactions(ctx context.Context, coin model.Coin, network model.Network, txs []model.NulldataTransaction) error
		InsertHarvestedBlocks(ctx context.Context, blocks []model.HarvestedBlock) error
		ContiguousHarvestedHeight(ctx context.Context, coin model.Coin, network model.Network, from uint64) (uint64, bool, error)
	}
	Metrics interface {
		ObserveFetchTip(err error, started time.Time)
		ObserveProcessChunk(err error, heights int, started time.Time)
		SetHeights(tip, harvested uint64)
	}
	HealthReporter interface {
		SetServing(serving bool)
	}
)
