package harvest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/coalesce"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/safe"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/workerpool"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ErrMissingTransactions aborts a pipelined harvest when the node returns a block
// without its transaction id list.
var ErrMissingTransactions = errors.New("block has no transaction list")

// Config tunes the pipelined harvester.
type Config struct {
	// SliceLength is how many blocks are in flight at once.
	SliceLength int
	// SourceCacheSize bounds the per-slice cache of transaction lookups. Zero disables it.
	SourceCacheSize int
}

type txFuture = workerpool.Future[*btcjson.TxRawResult]

type (
	hashRecord struct {
		height uint64
		future *workerpool.Future[*chainhash.Hash]
	}
	blockRecord struct {
		height uint64
		future *workerpool.Future[*btcjson.GetBlockVerboseResult]
	}
	txRecord struct {
		height uint64
		index  int
		future *txFuture
	}
	inputRecord struct {
		pending *pendingTx
		input   inputRef
		future  *txFuture
	}
)

// pendingTx is a nulldata transaction waiting for its inputs to resolve.
type pendingTx struct {
	tracker   *blockTracker
	index     int
	tx        *btcjson.TxRawResult
	senders   []indexedSender
	remaining int
}

// Harvester collects nulldata transactions from blocks. Node calls run on the worker
// pool; a single goroutine drains their results and restores block and transaction
// order.
type Harvester struct {
	pool     *workerpool.Pool[bitcoin.ClientProvider]
	node     NodeCaller
	enricher *Enricher
	coin     model.Coin
	network  model.Network
	cfg      Config
	metrics  Metrics
	logger   *zap.Logger
}

// NewHarvester builds a Harvester running node calls on pool.
func NewHarvester(
	pool *workerpool.Pool[bitcoin.ClientProvider],
	node NodeCaller,
	enricher *Enricher,
	coin model.Coin,
	network model.Network,
	cfg Config,
	metrics Metrics,
	logger *zap.Logger,
) (*Harvester, error) {
	if pool == nil {
		return nil, errors.New("worker pool is required")
	}
	if metrics == nil {
		return nil, errors.New("harvester metrics is required")
	}
	if cfg.SliceLength <= 0 {
		return nil, fmt.Errorf("slice length must be positive, got %d", cfg.SliceLength)
	}
	if cfg.SourceCacheSize < 0 {
		return nil, fmt.Errorf("source cache size must not be negative, got %d", cfg.SourceCacheSize)
	}

	return &Harvester{
		pool:     pool,
		node:     node,
		enricher: enricher,
		coin:     coin,
		network:  network,
		cfg:      cfg,
		metrics:  metrics,
		logger: logger.With(
			zap.String("coin", string(coin)),
			zap.String("network", string(network)),
		),
	}, nil
}

// Harvest returns the nulldata transactions of every requested block, in request order.
func (h *Harvester) Harvest(ctx context.Context, heights []uint64) ([]model.BlockOperations, error) {
	ops, _, err := h.HarvestWithBlocks(ctx, heights)
	return ops, err
}

// HarvestWithBlocks is Harvest that also returns one HarvestedBlock per distinct
// height. Heights are processed in slices of Config.SliceLength; a slice is fully
// resolved before the next one starts. Any failure aborts the whole call and no
// partial result is returned. Repeated heights are fetched once; every occurrence
// gets its own copy of the transaction and sender slices, while the decoded raw
// transactions stay shared.
func (h *Harvester) HarvestWithBlocks(
	ctx context.Context,
	heights []uint64,
) ([]model.BlockOperations, []model.HarvestedBlock, error) {
	distinct := uniqueHeights(heights)
	for _, height := range distinct {
		if _, err := safe.Int64(height); err != nil {
			return nil, nil, fmt.Errorf("block height %d: %w", height, err)
		}
	}

	started := time.Now()
	trackers := make(map[uint64]*blockTracker, len(distinct))
	for start := 0; start < len(distinct); start += h.cfg.SliceLength {
		end := min(start+h.cfg.SliceLength, len(distinct))
		if err := h.harvestSlice(ctx, distinct[start:end], trackers); err != nil {
			return nil, nil, err
		}
	}

	ops := make([]model.BlockOperations, 0, len(heights))
	seen := make(map[uint64]struct{}, len(distinct))
	for _, height := range heights {
		txs := trackers[height].ops
		if _, ok := seen[height]; ok {
			txs = cloneTxs(txs)
		}
		seen[height] = struct{}{}
		ops = append(ops, model.BlockOperations{Height: height, Txs: txs})
	}
	records := make([]model.HarvestedBlock, 0, len(distinct))
	for _, height := range distinct {
		records = append(records, *trackers[height].record)
	}

	h.logger.Info("harvest finished",
		zap.Int("blocks", len(distinct)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return ops, records, nil
}

func (h *Harvester) harvestSlice(ctx context.Context, heights []uint64, trackers map[uint64]*blockTracker) (err error) {
	started := time.Now()
	defer func() {
		h.metrics.ObserveSlice(len(heights), err, started)
	}()

	run := &sliceRun{harvester: h, trackers: trackers}
	if h.cfg.SourceCacheSize > 0 {
		run.cache, err = lru.New[string, *txFuture](h.cfg.SourceCacheSize)
		if err != nil {
			return fmt.Errorf("create source cache: %w", err)
		}
	}

	hashes := run.dispatchHashes(ctx, heights)
	defer hashes.Close()
	blocks := coalesce.New[blockRecord]()
	defer blocks.Close()
	txs := coalesce.New[txRecord]()
	defer txs.Close()
	inputs := coalesce.New[inputRecord]()
	defer inputs.Close()

	if err = drain(ctx, hashes, func(rec hashRecord) error {
		return run.resolveHash(ctx, rec, blocks)
	}); err != nil {
		return err
	}
	if err = drain(ctx, blocks, func(rec blockRecord) error {
		return run.resolveBlock(ctx, rec, txs)
	}); err != nil {
		return err
	}
	if err = drain(ctx, txs, func(rec txRecord) error {
		return run.resolveTransaction(ctx, rec, inputs)
	}); err != nil {
		return err
	}
	if err = drain(ctx, inputs, run.resolveInput); err != nil {
		return err
	}

	for _, height := range heights {
		if !trackers[height].finalized() {
			return fmt.Errorf("block %d left unresolved", height)
		}
	}
	h.logger.Debug("slice harvested",
		zap.Uint64("from", heights[0]),
		zap.Int("blocks", len(heights)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// sliceRun holds the state of one slice. Its methods run on the orchestrating
// goroutine only.
type sliceRun struct {
	harvester *Harvester
	trackers  map[uint64]*blockTracker
	cache     *lru.Cache[string, *txFuture]
}

func (r *sliceRun) dispatchHashes(ctx context.Context, heights []uint64) *coalesce.Set[hashRecord] {
	h := r.harvester
	set := coalesce.New[hashRecord]()
	for _, height := range heights {
		r.trackers[height] = newBlockTracker(height, time.Now())
		arg := int64(height)
		future := workerpool.Submit(ctx, h.pool, func(ctx context.Context, p bitcoin.ClientProvider) (*chainhash.Hash, error) {
			return h.node.BlockHash(ctx, p, arg)
		})
		set.Add(hashRecord{height: height, future: future}, future.Done())
	}
	return set
}

func (r *sliceRun) resolveHash(ctx context.Context, rec hashRecord, blocks *coalesce.Set[blockRecord]) error {
	hash, err := rec.future.Result()
	if err != nil {
		return fmt.Errorf("resolve hash of block %d: %w", rec.height, err)
	}
	r.trackers[rec.height].ref.Hash = hash.String()

	h := r.harvester
	future := workerpool.Submit(ctx, h.pool, func(ctx context.Context, p bitcoin.ClientProvider) (*btcjson.GetBlockVerboseResult, error) {
		return h.node.Block(ctx, p, hash)
	})
	blocks.Add(blockRecord{height: rec.height, future: future}, future.Done())
	return nil
}

func (r *sliceRun) resolveBlock(ctx context.Context, rec blockRecord, txs *coalesce.Set[txRecord]) error {
	tracker := r.trackers[rec.height]
	block, err := rec.future.Result()
	if err != nil {
		return fmt.Errorf("fetch block %d: %w", rec.height, err)
	}
	if block.Tx == nil {
		return fmt.Errorf("block %d (%s): %w", rec.height, tracker.ref.Hash, ErrMissingTransactions)
	}

	if tracker.expect(len(block.Tx)) {
		return r.finalize(tracker)
	}
	for i, txid := range block.Tx {
		future := r.transaction(ctx, txid)
		txs.Add(txRecord{height: rec.height, index: i, future: future}, future.Done())
	}
	return nil
}

func (r *sliceRun) resolveTransaction(ctx context.Context, rec txRecord, inputs *coalesce.Set[inputRecord]) error {
	tracker := r.trackers[rec.height]
	tx, err := rec.future.Result()
	if err != nil {
		return fmt.Errorf("fetch tx %d of block %d: %w", rec.index, rec.height, err)
	}

	enricher := r.harvester.enricher
	if !enricher.HasPayload(tx) || !wellFormed(tx) {
		if tracker.resolve(nil) {
			return r.finalize(tracker)
		}
		return nil
	}

	refs := inputRefs(tx)
	pending := &pendingTx{
		tracker:   tracker,
		index:     rec.index,
		tx:        tx,
		senders:   make([]indexedSender, 0, len(refs)),
		remaining: len(refs),
	}
	if len(refs) == 0 {
		return r.complete(pending)
	}
	for _, ref := range refs {
		future := r.source(ctx, ref.TxID)
		inputs.Add(inputRecord{pending: pending, input: ref, future: future}, future.Done())
	}
	return nil
}

func (r *sliceRun) resolveInput(rec inputRecord) error {
	pending := rec.pending
	src, err := rec.future.Result()
	if err != nil {
		return fmt.Errorf("resolve input %d of tx %s: %w", rec.input.Index, pending.tx.Txid, err)
	}
	if sender, ok := r.harvester.enricher.senderFromOutput(src, rec.input.Vout); ok {
		pending.senders = append(pending.senders, indexedSender{input: rec.input.Index, sender: sender})
	}
	pending.remaining--
	if pending.remaining > 0 {
		return nil
	}
	return r.complete(pending)
}

func (r *sliceRun) complete(pending *pendingTx) error {
	op := r.harvester.enricher.assemble(pending.tracker.ref, pending.index, pending.tx, pending.senders)
	if pending.tracker.resolve(&op) {
		return r.finalize(pending.tracker)
	}
	return nil
}

func (r *sliceRun) finalize(tracker *blockTracker) error {
	h := r.harvester
	record, err := tracker.finalize(h.coin, h.network, time.Now())
	if err != nil {
		return err
	}
	h.metrics.ObserveBlock(record)
	h.logger.Debug("block harvested",
		zap.Uint64("height", record.Height),
		zap.Uint32("txs", record.TxCount),
		zap.Uint32("operations", record.OperationCount),
		zap.Duration("elapsed", record.Duration),
	)
	return nil
}

// transaction returns the lookup of one of the slice's own transactions.
func (r *sliceRun) transaction(ctx context.Context, txid string) *txFuture {
	if r.cache != nil {
		if future, ok := r.cache.Get(txid); ok {
			return future
		}
	}
	future := r.submitTransaction(ctx, txid)
	if r.cache != nil {
		r.cache.Add(txid, future)
	}
	return future
}

// source returns the lookup of a transaction spent by an input, sharing an earlier
// lookup of the same slice when the cache still holds it.
func (r *sliceRun) source(ctx context.Context, txid string) *txFuture {
	h := r.harvester
	if r.cache != nil {
		if future, ok := r.cache.Get(txid); ok {
			h.metrics.ObserveSourceLookup(true)
			return future
		}
	}
	h.metrics.ObserveSourceLookup(false)
	future := r.submitTransaction(ctx, txid)
	if r.cache != nil {
		r.cache.Add(txid, future)
	}
	return future
}

func (r *sliceRun) submitTransaction(ctx context.Context, txid string) *txFuture {
	h := r.harvester
	return workerpool.Submit(ctx, h.pool, func(ctx context.Context, p bitcoin.ClientProvider) (*btcjson.TxRawResult, error) {
		return h.node.RawTransaction(ctx, p, txid)
	})
}

// HarvestBlock harvests a single block on the calling goroutine using p for every
// node call. Unlike the pipelined path, a block without a transaction list yields
// an empty result instead of an error.
func (h *Harvester) HarvestBlock(ctx context.Context, p bitcoin.ClientProvider, height uint64) (model.BlockOperations, error) {
	result := model.BlockOperations{Height: height, Txs: []model.NulldataTransaction{}}

	arg, err := safe.Int64(height)
	if err != nil {
		return model.BlockOperations{}, fmt.Errorf("block height %d: %w", height, err)
	}
	hash, err := h.node.BlockHash(ctx, p, arg)
	if err != nil {
		return model.BlockOperations{}, fmt.Errorf("resolve hash of block %d: %w", height, err)
	}
	block, err := h.node.Block(ctx, p, hash)
	if err != nil {
		return model.BlockOperations{}, fmt.Errorf("fetch block %d: %w", height, err)
	}
	if block.Tx == nil {
		h.logger.Warn("block has no transaction list", zap.Uint64("height", height), zap.Stringer("hash", hash))
		return result, nil
	}

	ref := model.BlockRef{Height: height, Hash: hash.String()}
	for i, txid := range block.Tx {
		tx, err := h.node.RawTransaction(ctx, p, txid)
		if err != nil {
			return model.BlockOperations{}, fmt.Errorf("fetch tx %d of block %d: %w", i, height, err)
		}
		if !h.enricher.HasPayload(tx) {
			continue
		}
		op, err := h.enricher.Enrich(ctx, p, ref, i, tx)
		if err != nil {
			return model.BlockOperations{}, err
		}
		if op != nil {
			result.Txs = append(result.Txs, *op)
		}
	}
	return result, nil
}

func drain[R any](ctx context.Context, set *coalesce.Set[R], handle func(R) error) error {
	for {
		rec, ok, err := set.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := handle(rec); err != nil {
			return err
		}
	}
}

func uniqueHeights(heights []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(heights))
	out := make([]uint64, 0, len(heights))
	for _, height := range heights {
		if _, ok := seen[height]; ok {
			continue
		}
		seen[height] = struct{}{}
		out = append(out, height)
	}
	return out
}

func cloneTxs(txs []model.NulldataTransaction) []model.NulldataTransaction {
	out := slices.Clone(txs)
	for i := range out {
		out[i].Nulldata = slices.Clone(out[i].Nulldata)
		out[i].Senders = slices.Clone(out[i].Senders)
		for j := range out[i].Senders {
			out[i].Senders[j].Addresses = slices.Clone(out[i].Senders[j].Addresses)
		}
	}
	return out
}
