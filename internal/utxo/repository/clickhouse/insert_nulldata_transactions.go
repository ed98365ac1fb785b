package clickhouse

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/safe"
	"github.com/sugawarayuuta/sonnet"
)

const insertNulldataTransactionsQuery = `
INSERT INTO nulldata_transactions (
	coin,
	network,
	block_height,
	block_hash,
	tx_index,
	txid,
	nulldata,
	sender_scripts,
	sender_amounts,
	sender_addresses,
	fee,
	raw
) VALUES`

// InsertNulldataTransactions stores harvested operations.
func (r *Repository) InsertNulldataTransactions(
	ctx context.Context,
	coin model.Coin,
	network model.Network,
	txs []model.NulldataTransaction,
) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_nulldata_transactions", coin, network, err, start)
	}()

	if len(txs) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, insertNulldataTransactionsQuery)
	if err != nil {
		return fmt.Errorf("prepare nulldata transactions batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = batch.Abort()
		}
	}()

	for _, tx := range txs {
		var index uint32
		if index, err = safe.Uint32(tx.Index); err != nil {
			return fmt.Errorf("tx %s index: %w", tx.TxID, err)
		}
		var raw []byte
		if raw, err = sonnet.Marshal(tx.Raw); err != nil {
			return fmt.Errorf("encode tx %s: %w", tx.TxID, err)
		}

		scripts := make([]string, 0, len(tx.Senders))
		amounts := make([]int64, 0, len(tx.Senders))
		addresses := make([][]string, 0, len(tx.Senders))
		for _, s := range tx.Senders {
			scripts = append(scripts, s.ScriptPubKeyHex)
			amounts = append(amounts, s.AmountSatoshis)
			addresses = append(addresses, nonNil(s.Addresses))
		}

		if err = batch.Append(
			string(coin),
			string(network),
			tx.BlockHeight,
			tx.BlockHash,
			index,
			tx.TxID,
			hex.EncodeToString(tx.Nulldata),
			scripts,
			amounts,
			addresses,
			tx.FeeSatoshis,
			string(raw),
		); err != nil {
			return fmt.Errorf("append nulldata transaction: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert nulldata transactions: %w", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
