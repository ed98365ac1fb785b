package bitcoin

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
)

// AddressDecoder extracts human-readable addresses from a script.
type AddressDecoder struct {
	params *chaincfg.Params
}

// NewAddressDecoder initializes a decoder using the params of the provided network.
func NewAddressDecoder(network model.Network) (*AddressDecoder, error) {
	params, err := chainParamsForNetwork(network)
	if err != nil {
		return nil, err
	}
	return &AddressDecoder{params: params}, nil
}

// Addresses prefers what the node reported and falls back to parsing the script.
// Scripts without recognizable addresses yield nil.
func (d *AddressDecoder) Addresses(spk btcjson.ScriptPubKeyResult) []string {
	if len(spk.Addresses) > 0 {
		return append([]string(nil), spk.Addresses...)
	}
	if spk.Address != "" {
		return []string{spk.Address}
	}
	if spk.Hex == "" || d == nil {
		return nil
	}

	script, err := hex.DecodeString(spk.Hex)
	if err != nil {
		return nil
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, d.params)
	if err != nil || len(addrs) == 0 {
		return nil
	}

	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.EncodeAddress())
	}
	return result
}

func chainParamsForNetwork(network model.Network) (*chaincfg.Params, error) {
	switch strings.ToLower(string(network)) {
	case "main", "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}
