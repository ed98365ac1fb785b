// Package chain defines the collaborator surface shared between harvesting components
// and the state machine consuming harvested operations.
package chain

import (
	"github.com/btcsuite/btcd/btcjson"
)

type (
	// Profile describes the virtual chain whose operations are harvested.
	Profile interface {
		ChainID() string
		FirstBlock() uint64
		MagicBytes() []byte
		OpCodes() []byte
	}

	// PayloadExtractor detects and extracts the nulldata payload of a transaction.
	PayloadExtractor interface {
		HasPayload(tx *btcjson.TxRawResult) bool
		Payload(tx *btcjson.TxRawResult) []byte
	}
)
