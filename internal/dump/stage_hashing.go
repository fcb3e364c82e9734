package dump

import (
	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/stages"
	"github.com/freeeve/stagedump/internal/tables"
)

// accountHashingDump copies the account change sets of the slice and the plain
// account state as of Tip.
type accountHashingDump struct{}

func (accountHashingDump) forward(log zerolog.Logger) stages.Stage {
	return &stages.AccountHashing{Log: log}
}

func (accountHashingDump) copyAuxiliary(d *Dumper, dst *kv.DB, r blockRange, res *Result) error {
	if err := d.importRange(dst, tables.AccountChangeSet, tables.BlockRange(r.From, r.Tip), res); err != nil {
		return err
	}
	return d.copyStateAt(dst, plainAccounts, r.Tip, res)
}

type storageHashingDump struct{}

func (storageHashingDump) forward(log zerolog.Logger) stages.Stage {
	return &stages.StorageHashing{Log: log}
}

func (storageHashingDump) copyAuxiliary(d *Dumper, dst *kv.DB, r blockRange, res *Result) error {
	if err := d.importRange(dst, tables.StorageChangeSet, tables.BlockRange(r.From, r.Tip), res); err != nil {
		return err
	}
	return d.copyStateAt(dst, plainStorage, r.Tip, res)
}
