package dump

import (
	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/stages"
	"github.com/freeeve/stagedump/internal/tables"
)

// merkleDump copies headers and change sets of the slice, and the hashed
// state as of Tip, so the root the stage computes can be checked against the
// Tip header.
type merkleDump struct{}

func (merkleDump) forward(log zerolog.Logger) stages.Stage {
	return &stages.Merkle{Log: log}
}

func (merkleDump) copyAuxiliary(d *Dumper, dst *kv.DB, r blockRange, res *Result) error {
	blocks := tables.BlockRange(r.From, r.Tip)
	for _, t := range []kv.Table{tables.Headers, tables.AccountChangeSet, tables.StorageChangeSet} {
		if err := d.importRange(dst, t, blocks, res); err != nil {
			return err
		}
	}
	if err := d.copyStateAt(dst, hashedAccounts, r.Tip, res); err != nil {
		return err
	}
	return d.copyStateAt(dst, hashedStorage, r.Tip, res)
}
