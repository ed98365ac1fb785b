// Package metrics exposes application metrics collectors.
package metrics

import "github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"

const namespace = "nulldata_harvester"

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func labels(coin model.Coin, network model.Network) (model.Coin, model.Network) {
	if coin == "" {
		coin = "unknown"
	}
	if network == "" {
		network = "unknown"
	}
	return coin, network
}
