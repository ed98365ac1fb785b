package harvest

import (
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/chain"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
)

// inputRef points at the output spent by input Index of a transaction.
type inputRef struct {
	Index int
	TxID  string
	Vout  uint32
}

type indexedSender struct {
	input  int
	sender model.Sender
}

// Enricher derives senders, fee and payload of nulldata transactions.
type Enricher struct {
	node      NodeCaller
	decoder   AddressDecoder
	extractor chain.PayloadExtractor
}

// NewEnricher constructs an Enricher.
func NewEnricher(node NodeCaller, decoder AddressDecoder, extractor chain.PayloadExtractor) *Enricher {
	return &Enricher{
		node:      node,
		decoder:   decoder,
		extractor: extractor,
	}
}

// HasPayload reports whether tx carries a payload for the configured chain.
func (e *Enricher) HasPayload(tx *btcjson.TxRawResult) bool {
	return e.extractor.HasPayload(tx)
}

// Enrich resolves the source transaction of every input one after another and returns
// the enriched transaction. A transaction without an id, inputs or outputs yields nil.
func (e *Enricher) Enrich(
	ctx context.Context,
	p bitcoin.ClientProvider,
	ref model.BlockRef,
	index int,
	tx *btcjson.TxRawResult,
) (*model.NulldataTransaction, error) {
	if !wellFormed(tx) {
		return nil, nil
	}

	refs := inputRefs(tx)
	senders := make([]indexedSender, 0, len(refs))
	for _, in := range refs {
		src, err := e.node.RawTransaction(ctx, p, in.TxID)
		if err != nil {
			return nil, fmt.Errorf("resolve input %d of tx %s: %w", in.Index, tx.Txid, err)
		}
		if sender, ok := e.senderFromOutput(src, in.Vout); ok {
			senders = append(senders, indexedSender{input: in.Index, sender: sender})
		}
	}

	enriched := e.assemble(ref, index, tx, senders)
	return &enriched, nil
}

// senderFromOutput builds the sender paying through output vout of src. Outputs that
// do not exist or carry no script contribute no sender.
func (e *Enricher) senderFromOutput(src *btcjson.TxRawResult, vout uint32) (model.Sender, bool) {
	if src == nil || uint64(vout) >= uint64(len(src.Vout)) {
		return model.Sender{}, false
	}
	out := src.Vout[vout]
	if out.ScriptPubKey.Hex == "" {
		return model.Sender{}, false
	}
	return model.Sender{
		ScriptPubKeyHex: out.ScriptPubKey.Hex,
		AmountSatoshis:  bitcoin.Satoshis(out.Value),
		Addresses:       e.decoder.Addresses(out.ScriptPubKey),
	}, true
}

// assemble orders senders by input position and computes the fee. senders is sorted
// in place.
func (e *Enricher) assemble(
	ref model.BlockRef,
	index int,
	tx *btcjson.TxRawResult,
	senders []indexedSender,
) model.NulldataTransaction {
	sort.SliceStable(senders, func(i, j int) bool {
		return senders[i].input < senders[j].input
	})

	ordered := make([]model.Sender, 0, len(senders))
	var totalIn int64
	for _, s := range senders {
		ordered = append(ordered, s.sender)
		totalIn += s.sender.AmountSatoshis
	}

	return model.NulldataTransaction{
		Raw:         tx,
		TxID:        tx.Txid,
		BlockHeight: ref.Height,
		BlockHash:   ref.Hash,
		Index:       index,
		Nulldata:    e.extractor.Payload(tx),
		Senders:     ordered,
		FeeSatoshis: totalIn - bitcoin.TotalOut(tx.Vout),
	}
}

func wellFormed(tx *btcjson.TxRawResult) bool {
	return tx != nil && tx.Txid != "" && len(tx.Vin) > 0 && len(tx.Vout) > 0
}

// inputRefs lists the spent outputs of tx in input order. Coinbase inputs spend
// nothing and are left out.
func inputRefs(tx *btcjson.TxRawResult) []inputRef {
	refs := make([]inputRef, 0, len(tx.Vin))
	for i, in := range tx.Vin {
		if in.IsCoinBase() || in.Txid == "" {
			continue
		}
		refs = append(refs, inputRef{Index: i, TxID: in.Txid, Vout: in.Vout})
	}
	return refs
}
