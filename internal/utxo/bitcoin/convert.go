// Package bitcoin implements node access and transaction decoding for Bitcoin-style chains.
package bitcoin

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
)

// Satoshis converts a decimal coin value to minor units, truncating toward zero.
func Satoshis(value float64) int64 {
	return int64(value * btcutil.SatoshiPerBitcoin)
}

// TotalOut sums all output values of a transaction in satoshis.
func TotalOut(outputs []btcjson.Vout) int64 {
	var total int64
	for _, vout := range outputs {
		total += Satoshis(vout.Value)
	}
	return total
}
