package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
)

const contiguousHarvestedHeightQuery = `WITH data AS (
    SELECT
        height,
        row_number() OVER (ORDER BY height) - 1 AS rn
    FROM harvested_blocks
    WHERE coin = ? AND network = ? AND height >= ?
    GROUP BY height
)
SELECT count() AS blocks, coalesce(max(height), toUInt64(0)) AS max_height
FROM data
WHERE height - ? = rn`

// ContiguousHarvestedHeight returns the last height of the gap-free run of harvested
// blocks starting at from. ok is false when from itself is not harvested.
func (r *Repository) ContiguousHarvestedHeight(
	ctx context.Context,
	coin model.Coin,
	network model.Network,
	from uint64,
) (height uint64, ok bool, err error) {
	start := time.Now()
	defer func() {
		r.metrics.Observe("contiguous_harvested_height", coin, network, err, start)
	}()

	rows, err := r.conn.Query(ctx, contiguousHarvestedHeightQuery, string(coin), string(network), from, from)
	if err != nil {
		return 0, false, fmt.Errorf("query contiguous harvested height: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", closeErr)
		}
	}()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return 0, false, fmt.Errorf("iterate contiguous harvested height: %w", err)
		}
		return 0, false, nil
	}

	var blocks uint64
	if err = rows.Scan(&blocks, &height); err != nil {
		return 0, false, fmt.Errorf("scan contiguous harvested height: %w", err)
	}
	if err = rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterate contiguous harvested height: %w", err)
	}
	if blocks == 0 {
		return 0, false, nil
	}
	return height, true, nil
}
