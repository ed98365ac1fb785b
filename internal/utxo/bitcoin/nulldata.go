package bitcoin

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/txscript"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/chain"
)

// NulldataExtractor finds OP_RETURN payloads addressed to a virtual chain.
type NulldataExtractor struct {
	magic   []byte
	opCodes []byte
}

// NewNulldataExtractor builds an extractor matching the profile's magic prefix and
// operation codes.
func NewNulldataExtractor(profile chain.Profile) *NulldataExtractor {
	return &NulldataExtractor{
		magic:   profile.MagicBytes(),
		opCodes: profile.OpCodes(),
	}
}

// HasPayload reports whether tx carries a nulldata payload for this chain.
func (e *NulldataExtractor) HasPayload(tx *btcjson.TxRawResult) bool {
	if tx == nil {
		return false
	}
	data, ok := nulldata(tx.Vout)
	if !ok || len(data) == 0 {
		return false
	}
	if !bytes.HasPrefix(data, e.magic) {
		return false
	}
	if len(e.opCodes) == 0 {
		return true
	}
	if len(data) <= len(e.magic) {
		return false
	}
	return bytes.IndexByte(e.opCodes, data[len(e.magic)]) >= 0
}

// Payload returns the data pushed by the first OP_RETURN output, or nil.
func (e *NulldataExtractor) Payload(tx *btcjson.TxRawResult) []byte {
	if tx == nil {
		return nil
	}
	data, _ := nulldata(tx.Vout)
	return data
}

func nulldata(outputs []btcjson.Vout) ([]byte, bool) {
	for _, vout := range outputs {
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil || len(script) == 0 || script[0] != txscript.OP_RETURN {
			continue
		}

		var data []byte
		tokenizer := txscript.MakeScriptTokenizer(0, script[1:])
		for tokenizer.Next() {
			data = append(data, tokenizer.Data()...)
		}
		if tokenizer.Err() != nil {
			continue
		}
		return data, true
	}
	return nil, false
}
