package bitcoin

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned when a call never succeeded and no fault was recorded.
var ErrRetriesExhausted = errors.New("rpc retries exhausted")

// Fault classifies a failed attempt.
type Fault string

const (
	// FaultProtocol is an error reported by the node itself; the client is kept.
	FaultProtocol Fault = "protocol"
	// FaultTransport is any other failure; the client is reset before the next attempt.
	FaultTransport Fault = "transport"
)

// Retrier runs node calls with a fixed attempt budget.
type Retrier struct {
	retries int
	metrics RetryMetrics
	logger  *zap.Logger
}

// NewRetrier builds a Retrier allowing up to retries attempts per call.
func NewRetrier(retries int, metrics RetryMetrics, logger *zap.Logger) *Retrier {
	return &Retrier{
		retries: retries,
		metrics: metrics,
		logger:  logger,
	}
}

// BlockCount returns the node's block count.
func (r *Retrier) BlockCount(ctx context.Context, p ClientProvider) (int64, error) {
	return call(ctx, r, p, "get_block_count", func(c NodeClient) (int64, error) {
		return c.GetBlockCount()
	})
}

// BlockHash resolves the hash of the block at height.
func (r *Retrier) BlockHash(ctx context.Context, p ClientProvider, height int64) (*chainhash.Hash, error) {
	return call(ctx, r, p, "get_block_hash", func(c NodeClient) (*chainhash.Hash, error) {
		return c.GetBlockHash(height)
	})
}

// Block fetches block data including its transaction ids.
func (r *Retrier) Block(ctx context.Context, p ClientProvider, hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	return call(ctx, r, p, "get_block_verbose", func(c NodeClient) (*btcjson.GetBlockVerboseResult, error) {
		return c.GetBlockVerbose(hash)
	})
}

// RawTransaction fetches a decoded transaction by id.
func (r *Retrier) RawTransaction(ctx context.Context, p ClientProvider, txid string) (*btcjson.TxRawResult, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("parse txid %q: %w", txid, err)
	}
	return call(ctx, r, p, "get_raw_transaction_verbose", func(c NodeClient) (*btcjson.TxRawResult, error) {
		return c.GetRawTransactionVerbose(hash)
	})
}

func call[T any](ctx context.Context, r *Retrier, p ClientProvider, op string, fn func(NodeClient) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		client, err := p.Client()
		if err == nil {
			var res T
			res, err = fn(client)
			if err == nil {
				return res, nil
			}
		}
		lastErr = err

		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) {
			r.observe(op, FaultProtocol)
			r.logger.Warn("node rejected call",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		r.observe(op, FaultTransport)
		r.logger.Warn("node call failed, resetting client",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		p.Reset()
	}

	if lastErr != nil {
		return zero, fmt.Errorf("%s failed after %d attempts: %w", op, r.retries, lastErr)
	}
	return zero, fmt.Errorf("%s: %w", op, ErrRetriesExhausted)
}

func (r *Retrier) observe(op string, fault Fault) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveRetry(op, fault)
}
