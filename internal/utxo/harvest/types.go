// Package harvest extracts nulldata transactions from ranges of blocks and enriches
// them with their senders and fees.
package harvest

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// NodeCaller performs node queries on the client supplied by a provider.
	// *bitcoin.Retrier satisfies it.
	NodeCaller interface {
		BlockHash(ctx context.Context, p bitcoin.ClientProvider, height int64) (*chainhash.Hash, error)
		Block(ctx context.Context, p bitcoin.ClientProvider, hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error)
		RawTransaction(ctx context.Context, p bitcoin.ClientProvider, txid string) (*btcjson.TxRawResult, error)
	}

	// AddressDecoder resolves the addresses paid by an output script.
	AddressDecoder interface {
		Addresses(spk btcjson.ScriptPubKeyResult) []string
	}

	// Metrics records harvesting progress.
	Metrics interface {
		ObserveSlice(blocks int, err error, started time.Time)
		ObserveBlock(block model.HarvestedBlock)
		ObserveSourceLookup(cached bool)
	}
)
