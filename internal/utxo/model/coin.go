package model

// Coin names the ledger a harvester runs against.
type Coin string

// Network names the chain network (mainnet, testnet, ...).
type Network string

var (
	BTC Coin = "BTC"
	LTC Coin = "LTC"
)

var (
	Testnet Network = "testnet"
	Mainnet Network = "mainnet"
	Regtest Network = "regtest"
)
