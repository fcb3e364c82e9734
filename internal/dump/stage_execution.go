package dump

import (
	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/stages"
	"github.com/freeeve/stagedump/internal/tables"
)

// executionDump copies headers and transactions for the slice, and the plain
// state as it was after block From.
type executionDump struct{}

func (executionDump) forward(log zerolog.Logger) stages.Stage {
	return &stages.Execution{Log: log}
}

func (executionDump) copyAuxiliary(d *Dumper, dst *kv.DB, r blockRange, res *Result) error {
	blocks := tables.BlockRange(r.From, r.Tip)
	for _, t := range []kv.Table{tables.Headers, tables.CanonicalHeaders} {
		if err := d.importRange(dst, t, blocks, res); err != nil {
			return err
		}
	}

	txs, err := transactionRange(dst, r)
	if err != nil {
		return &Error{Kind: ErrCopyFailed, Table: tables.Transactions.Name, Err: err}
	}
	if err := d.importRange(dst, tables.Transactions, txs, res); err != nil {
		return err
	}

	if err := d.copyStateAt(dst, plainAccounts, r.From, res); err != nil {
		return err
	}
	return d.copyStateAt(dst, plainStorage, r.From, res)
}

// transactionRange resolves the transaction numbers of blocks From..Tip from
// the primary index already copied into dst.
func transactionRange(dst *kv.DB, r blockRange) (kv.Range, error) {
	out := kv.Range{From: tables.TxNumKey(0), To: tables.TxNumKey(0)}
	err := dst.View(func(tx *kv.Tx) error {
		c, err := tx.CursorRange(tables.BlockBodyIndices, tables.BlockRange(r.From, r.Tip))
		if err != nil {
			return err
		}
		defer c.Close()

		_, first, err := c.First()
		if err != nil || first == nil {
			return err
		}
		lo, err := chain.DecodeBodyIndices(first)
		if err != nil {
			return err
		}
		_, last, err := c.Last()
		if err != nil {
			return err
		}
		hi, err := chain.DecodeBodyIndices(last)
		if err != nil {
			return err
		}
		out = kv.Range{From: tables.TxNumKey(lo.FirstTxNum), To: tables.TxNumKey(hi.NextTxNum())}
		return nil
	})
	return out, err
}
