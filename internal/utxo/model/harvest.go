// Package model defines domain models for nulldata harvesting.
package model

import (
	"time"

	"github.com/btcsuite/btcd/btcjson"
)

// BlockRef identifies a block by height; Hash is filled once resolved.
type BlockRef struct {
	Height uint64
	Hash   string
}

// Sender is a paying party derived from one resolved transaction input.
type Sender struct {
	ScriptPubKeyHex string   `json:"script_pubkey"`
	AmountSatoshis  int64    `json:"amount"`
	Addresses       []string `json:"addresses"`
}

// NulldataTransaction is a raw transaction carrying a nulldata payload, enriched with
// its senders (in input order) and the net fee it paid.
type NulldataTransaction struct {
	Raw         *btcjson.TxRawResult `json:"tx"`
	TxID        string               `json:"txid"`
	BlockHeight uint64               `json:"block_height"`
	BlockHash   string               `json:"block_hash"`
	Index       int                  `json:"index"`
	Nulldata    []byte               `json:"nulldata"`
	Senders     []Sender             `json:"senders"`
	FeeSatoshis int64                `json:"fee"`
}

// BlockOperations lists the nulldata transactions of one block in in-block order.
type BlockOperations struct {
	Height uint64                `json:"block_height"`
	Txs    []NulldataTransaction `json:"txs"`
}

// HarvestedBlock is the per-block record produced once a block is fully resolved.
type HarvestedBlock struct {
	Coin           Coin
	Network        Network
	Height         uint64
	Hash           string
	TxCount        uint32
	OperationCount uint32
	Duration       time.Duration
}
