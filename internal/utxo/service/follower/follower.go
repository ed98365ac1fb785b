// Package follower keeps the operations store in step with the node's chain tip.
package follower

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/clock"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/safe"
	"go.uber.org/zap"
)

// Config controls which heights the follower harvests.
type Config struct {
	// FirstBlock is the first height worth harvesting.
	FirstBlock uint64
	// ChunkSize caps the heights handed to one harvest call.
	ChunkSize int
	// Confirmations keeps the follower that many blocks behind the tip.
	Confirmations uint64
}

// Service harvests new blocks in chunks and stores their operations.
type Service struct {
	logger            *zap.Logger
	coin              model.Coin
	network           model.Network
	cfg               Config
	metrics           Metrics
	tips              TipSource
	provider          bitcoin.ClientProvider
	harvester         Harvester
	repo              ClickhouseRepository
	writer            BlockWriter
	health            HealthReporter
	wait              func(context.Context, time.Duration) error
	sleepDuration     time.Duration
	longSleepDuration time.Duration

	next    uint64
	resumed bool
}

// NewService builds a Service. A nil blockSignal leaves the follower on its timers.
func NewService(
	repo ClickhouseRepository,
	tips TipSource,
	provider bitcoin.ClientProvider,
	harvester Harvester,
	health HealthReporter,
	metrics Metrics,
	coin model.Coin,
	network model.Network,
	cfg Config,
	logger *zap.Logger,
	blockSignal <-chan struct{},
) (*Service, error) {
	switch {
	case repo == nil:
		return nil, errors.New("follower repository is required")
	case tips == nil || provider == nil:
		return nil, errors.New("follower tip source is required")
	case harvester == nil:
		return nil, errors.New("follower harvester is required")
	case health == nil:
		return nil, errors.New("follower health reporter is required")
	case metrics == nil:
		return nil, errors.New("follower metrics is required")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}

	logger = logger.With(
		zap.String("coin", string(coin)),
		zap.String("network", string(network)),
	)

	return &Service{
		logger:    logger,
		coin:      coin,
		network:   network,
		cfg:       cfg,
		metrics:   metrics,
		tips:      tips,
		provider:  provider,
		harvester: harvester,
		repo:      repo,
		writer:    newBlockWriter(repo, coin, network, logger.Named("blockWriter")),
		health:    health,
		wait: func(ctx context.Context, d time.Duration) error {
			return clock.Wait(ctx, d, blockSignal)
		},
		sleepDuration:     sleepDuration,
		longSleepDuration: longSleepDuration,
	}, nil
}

// Run follows the chain until ctx is canceled. Buffered writes are flushed on exit.
func (s *Service) Run(ctx context.Context) error {
	s.writer.Start(ctx)
	defer func() {
		if err := s.writer.Stop(); err != nil {
			s.logger.Error("final flush failed", zap.Error(err))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			s.health.SetServing(false)
			return err
		}
		if err := s.run(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.health.SetServing(false)
			s.logger.Warn("run iteration failed, backing off", zap.Error(err), zap.Duration("sleep", s.sleepDuration))
			// cancellation is picked up at the top of the loop
			_ = s.wait(ctx, s.sleepDuration)
		}
	}
}

func (s *Service) run(ctx context.Context) error {
	if !s.resumed {
		if err := s.resume(ctx); err != nil {
			return err
		}
	}

	tip, err := s.fetchTip(ctx)
	if err != nil {
		return err
	}
	s.health.SetServing(true)
	s.metrics.SetHeights(tip, s.harvested())

	heights := s.nextHeights(tip)
	if len(heights) == 0 {
		s.logger.Debug("no new heights; sleeping", zap.Uint64("tip", tip), zap.Duration("sleep", s.longSleepDuration))
		return s.wait(ctx, s.longSleepDuration)
	}

	started := time.Now()
	err = s.process(ctx, heights)
	s.metrics.ObserveProcessChunk(err, len(heights), started)
	if err != nil {
		return err
	}

	s.next = heights[len(heights)-1] + 1
	s.metrics.SetHeights(tip, s.harvested())
	s.logger.Info("harvested chunk",
		zap.Uint64("from", heights[0]),
		zap.Uint64("to", heights[len(heights)-1]),
		zap.Uint64("tip", tip),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (s *Service) resume(ctx context.Context) error {
	height, ok, err := s.repo.ContiguousHarvestedHeight(ctx, s.coin, s.network, s.cfg.FirstBlock)
	if err != nil {
		return fmt.Errorf("resume point: %w", err)
	}

	s.next = s.cfg.FirstBlock
	if ok {
		s.next = height + 1
	}
	s.resumed = true
	s.logger.Info("resuming", zap.Uint64("next_height", s.next))
	return nil
}

func (s *Service) fetchTip(ctx context.Context) (uint64, error) {
	started := time.Now()
	count, err := s.tips.BlockCount(ctx, s.provider)
	var tip uint64
	if err == nil {
		tip, err = safe.Uint64(count)
	}
	s.metrics.ObserveFetchTip(err, started)
	if err != nil {
		return 0, fmt.Errorf("fetch tip: %w", err)
	}
	return tip, nil
}

func (s *Service) nextHeights(tip uint64) []uint64 {
	if tip < s.cfg.Confirmations {
		return nil
	}
	target := tip - s.cfg.Confirmations
	if s.next > target {
		return nil
	}

	last := min(target, s.next+uint64(s.cfg.ChunkSize)-1)
	heights := make([]uint64, 0, last-s.next+1)
	for h := s.next; h <= last; h++ {
		heights = append(heights, h)
	}
	return heights
}

func (s *Service) process(ctx context.Context, heights []uint64) error {
	ops, blocks, err := s.harvester.HarvestWithBlocks(ctx, heights)
	if err != nil {
		return fmt.Errorf("harvest heights %d..%d: %w", heights[0], heights[len(heights)-1], err)
	}

	txs := make(map[uint64][]model.NulldataTransaction, len(ops))
	for _, op := range ops {
		txs[op.Height] = op.Txs
	}
	for _, block := range blocks {
		if err := s.writer.WriteBlock(ctx, block, txs[block.Height]); err != nil {
			// an earlier batch may be lost; pick up again from the store
			s.resumed = false
			return fmt.Errorf("write block %d: %w", block.Height, err)
		}
	}
	return nil
}

func (s *Service) harvested() uint64 {
	if s.next == 0 {
		return 0
	}
	return s.next - 1
}
