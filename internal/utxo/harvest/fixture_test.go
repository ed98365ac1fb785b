package harvest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/chain"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
)

const testMagicHex = "6964"

var testMagic = []byte("id")

// fakeNode serves a fixed chain. Lookups sleep for a per-txid delay plus random
// jitter so that completion order differs from dispatch order.
type fakeNode struct {
	hashes map[int64]*chainhash.Hash
	blocks map[chainhash.Hash]*btcjson.GetBlockVerboseResult
	txs    map[string]*btcjson.TxRawResult
	delays map[string]time.Duration
	fail   map[string]error
	jitter time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		hashes: make(map[int64]*chainhash.Hash),
		blocks: make(map[chainhash.Hash]*btcjson.GetBlockVerboseResult),
		txs:    make(map[string]*btcjson.TxRawResult),
		delays: make(map[string]time.Duration),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (n *fakeNode) pause(key string) {
	d := n.delays[key]
	if n.jitter > 0 {
		d += rand.N(n.jitter)
	}
	if d > 0 {
		time.Sleep(d)
	}
}

func (n *fakeNode) BlockHash(_ context.Context, _ bitcoin.ClientProvider, height int64) (*chainhash.Hash, error) {
	n.pause("")
	hash, ok := n.hashes[height]
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	return hash, nil
}

func (n *fakeNode) Block(_ context.Context, _ bitcoin.ClientProvider, hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	n.pause("")
	block, ok := n.blocks[*hash]
	if !ok {
		return nil, fmt.Errorf("unknown block %s", hash)
	}
	return block, nil
}

func (n *fakeNode) RawTransaction(_ context.Context, _ bitcoin.ClientProvider, txid string) (*btcjson.TxRawResult, error) {
	n.mu.Lock()
	n.calls[txid]++
	n.mu.Unlock()

	n.pause(txid)
	if err := n.fail[txid]; err != nil {
		return nil, err
	}
	tx, ok := n.txs[txid]
	if !ok {
		return nil, fmt.Errorf("unknown tx %s", txid)
	}
	return tx, nil
}

func (n *fakeNode) callsFor(txid string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[txid]
}

type outpoint struct {
	txid string
	vout uint32
}

// chainBuilder assembles a fakeNode chain and remembers which transactions a harvest
// must return for every block.
type chainBuilder struct {
	t        *testing.T
	node     *fakeNode
	seq      int
	expected map[uint64][]string
}

func newChainBuilder(t *testing.T) *chainBuilder {
	t.Helper()
	return &chainBuilder{
		t:        t,
		node:     newFakeNode(),
		expected: make(map[uint64][]string),
	}
}

func (b *chainBuilder) nextID(kind string) string {
	b.seq++
	return chainhash.DoubleHashH([]byte(fmt.Sprintf("%s-%d", kind, b.seq))).String()
}

func (b *chainBuilder) payTo(value float64) btcjson.Vout {
	b.seq++
	return btcjson.Vout{
		Value: value,
		ScriptPubKey: btcjson.ScriptPubKeyResult{
			Hex:     fmt.Sprintf("76a914%040x88ac", b.seq),
			Address: fmt.Sprintf("addr-%d", b.seq),
			Type:    "pubkeyhash",
		},
	}
}

func (b *chainBuilder) nulldataOut(payload []byte) btcjson.Vout {
	b.t.Helper()
	script, err := txscript.NullDataScript(payload)
	if err != nil {
		b.t.Fatalf("build nulldata script: %v", err)
	}
	return btcjson.Vout{ScriptPubKey: btcjson.ScriptPubKeyResult{Hex: hex.EncodeToString(script), Type: "nulldata"}}
}

// funding registers a transaction outside of any harvested block.
func (b *chainBuilder) funding(values ...float64) string {
	tx := &btcjson.TxRawResult{
		Txid: b.nextID("funding"),
		Vin:  []btcjson.Vin{{Coinbase: "01"}},
	}
	for _, v := range values {
		tx.Vout = append(tx.Vout, b.payTo(v))
	}
	b.node.txs[tx.Txid] = tx
	return tx.Txid
}

func (b *chainBuilder) spend(tx *btcjson.TxRawResult, spends []outpoint) {
	for _, s := range spends {
		tx.Vin = append(tx.Vin, btcjson.Vin{Txid: s.txid, Vout: s.vout})
	}
}

func (b *chainBuilder) operation(spends []outpoint, payload string, values ...float64) *btcjson.TxRawResult {
	tx := &btcjson.TxRawResult{Txid: b.nextID("op")}
	b.spend(tx, spends)
	tx.Vout = append(tx.Vout, b.nulldataOut(append(append([]byte{}, testMagic...), payload...)))
	for _, v := range values {
		tx.Vout = append(tx.Vout, b.payTo(v))
	}
	return tx
}

func (b *chainBuilder) plain(spends []outpoint, values ...float64) *btcjson.TxRawResult {
	tx := &btcjson.TxRawResult{Txid: b.nextID("plain")}
	b.spend(tx, spends)
	for _, v := range values {
		tx.Vout = append(tx.Vout, b.payTo(v))
	}
	return tx
}

func (b *chainBuilder) coinbase() *btcjson.TxRawResult {
	return &btcjson.TxRawResult{
		Txid: b.nextID("coinbase"),
		Vin:  []btcjson.Vin{{Coinbase: "03a08601"}},
		Vout: []btcjson.Vout{b.payTo(3.125)},
	}
}

// block registers txs at height. A transaction without an id is stored under a
// generated one.
func (b *chainBuilder) block(height uint64, txs ...*btcjson.TxRawResult) {
	hash := chainhash.DoubleHashH([]byte(fmt.Sprintf("block-%d", height)))
	ids := make([]string, 0, len(txs))
	expected := make([]string, 0)
	for _, tx := range txs {
		id := tx.Txid
		if id == "" {
			id = b.nextID("malformed")
		}
		ids = append(ids, id)
		b.node.txs[id] = tx
		if tx.Txid != "" && len(tx.Vin) > 0 && len(tx.Vout) > 0 && b.carriesPayload(tx) {
			expected = append(expected, id)
		}
	}
	b.node.hashes[int64(height)] = &hash
	b.node.blocks[hash] = &btcjson.GetBlockVerboseResult{Hash: hash.String(), Height: int64(height), Tx: ids}
	b.expected[height] = expected
}

// blockWithoutTxList registers a block whose transaction id list is missing.
func (b *chainBuilder) blockWithoutTxList(height uint64) {
	hash := chainhash.DoubleHashH([]byte(fmt.Sprintf("block-%d", height)))
	b.node.hashes[int64(height)] = &hash
	b.node.blocks[hash] = &btcjson.GetBlockVerboseResult{Hash: hash.String(), Height: int64(height)}
}

func (b *chainBuilder) carriesPayload(tx *btcjson.TxRawResult) bool {
	return testExtractor(b.t).HasPayload(tx)
}

// randomChain builds blocks [first, first+count) with a random mix of coinbase,
// plain and operation transactions. Operations spend funding outputs and outputs of
// earlier transactions of the same chain.
func randomChain(t *testing.T, seed uint64, first uint64, count int) *chainBuilder {
	t.Helper()
	rnd := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := newChainBuilder(t)

	var unspent []outpoint
	for i := 0; i < 12; i++ {
		id := b.funding(0.5, 1.25, 0.0001)
		for vout := uint32(0); vout < 3; vout++ {
			unspent = append(unspent, outpoint{txid: id, vout: vout})
		}
	}
	pick := func() outpoint {
		return unspent[rnd.IntN(len(unspent))]
	}

	for height := first; height < first+uint64(count); height++ {
		if rnd.IntN(7) == 0 {
			b.block(height)
			continue
		}
		txs := []*btcjson.TxRawResult{b.coinbase()}
		for n := rnd.IntN(6); n > 0; n-- {
			spends := make([]outpoint, 0, 3)
			for k := 1 + rnd.IntN(3); k > 0; k-- {
				spends = append(spends, pick())
			}
			if rnd.IntN(3) == 0 {
				txs = append(txs, b.plain(spends, 0.3))
				continue
			}
			// out-of-range spends contribute no sender
			if rnd.IntN(5) == 0 {
				spends = append(spends, outpoint{txid: spends[0].txid, vout: 9})
			}
			tx := b.operation(spends, fmt.Sprintf("+op-%d", height), 0.25, 0.1)
			txs = append(txs, tx)
			unspent = append(unspent, outpoint{txid: tx.Txid, vout: 1}, outpoint{txid: tx.Txid, vout: 2})
		}
		b.block(height, txs...)
	}
	return b
}

func testExtractor(t *testing.T) *bitcoin.NulldataExtractor {
	t.Helper()
	profile, err := chain.NewStaticProfile("test", 0, testMagicHex, "")
	if err != nil {
		t.Fatalf("build profile: %v", err)
	}
	return bitcoin.NewNulldataExtractor(profile)
}

func testDecoder(t *testing.T) *bitcoin.AddressDecoder {
	t.Helper()
	decoder, err := bitcoin.NewAddressDecoder(model.Regtest)
	if err != nil {
		t.Fatalf("build decoder: %v", err)
	}
	return decoder
}

func heightRange(first uint64, count int) []uint64 {
	heights := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		heights = append(heights, first+uint64(i))
	}
	return heights
}
