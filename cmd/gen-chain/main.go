// Command gen-chain writes a deterministic synthetic chain into a new store at
// <datadir>/<chain>/db, for use as a dump-stage source.
package main

import (
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"

	"github.com/freeeve/stagedump/internal/chaingen"
	"github.com/freeeve/stagedump/internal/config"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/logx"
)

var args struct {
	Datadir      string `arg:"--datadir" default:"./data" help:"node data directory"`
	Chain        string `arg:"--chain" default:"dev" help:"chain name"`
	Config       string `arg:"--config" help:"YAML config file"`
	Blocks       uint64 `arg:"-n,--blocks" default:"1000" help:"blocks after genesis"`
	Accounts     int    `arg:"--accounts" default:"16" help:"funded genesis accounts"`
	TxPerBlock   int    `arg:"--tx-per-block" default:"4"`
	StorageEvery int    `arg:"--storage-every" default:"3" help:"every Nth transaction writes storage, -1 disables"`
	Seed         uint64 `arg:"--seed" default:"1"`
}

func main() {
	p := arg.MustParse(&args)

	cfg, err := config.LoadConfig(args.Config)
	if err != nil {
		p.Fail(err.Error())
	}
	logger, err := logx.Configure(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		p.Fail(err.Error())
	}

	path := filepath.Join(args.Datadir, args.Chain, "db")
	db, err := kv.Create(path, cfg.StoreOptions(logger))
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("create store")
	}

	res, err := chaingen.Generate(db, chaingen.Config{
		Blocks:       args.Blocks,
		Accounts:     args.Accounts,
		TxPerBlock:   args.TxPerBlock,
		StorageEvery: args.StorageEvery,
		Seed:         args.Seed,
		Log:          logger,
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("generate chain")
	}
	logger.Info().
		Str("path", path).
		Uint64("head", res.Head).
		Uint64("txs", res.Transactions).
		Str("state_root", res.StateRoot.String()).
		Msg("done")
}
