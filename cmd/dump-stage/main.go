// Command dump-stage copies a block range of a chain store into a new store
// holding only what one pipeline stage needs, and can dry-run the stage on it.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/archive"
	"github.com/freeeve/stagedump/internal/config"
	"github.com/freeeve/stagedump/internal/dump"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/logx"
)

type stageArgs struct {
	OutputDB string `arg:"--output-db,required" help:"directory of the new store (must not exist or be empty)"`
	From     uint64 `arg:"-f,--from" default:"0" help:"first block of the range"`
	To       uint64 `arg:"-t,--to,required" help:"last block of the range, above --from"`
	DryRun   bool   `arg:"-d,--dry-run" help:"execute the stage against the new store after copying"`
	Archive  string `arg:"--archive" help:"also write the slice as a zstd archive to this file"`
}

var args struct {
	Datadir  string `arg:"--datadir" default:"./data" help:"node data directory"`
	Chain    string `arg:"--chain" default:"mainnet" help:"chain name; the source store is <datadir>/<chain>/db"`
	Config   string `arg:"--config" help:"YAML config file"`
	LogLevel string `arg:"--log-level" help:"overrides log.level"`

	Execution      *stageArgs `arg:"subcommand:execution" help:"dump the execution stage"`
	StorageHashing *stageArgs `arg:"subcommand:storage-hashing" help:"dump the storage hashing stage"`
	AccountHashing *stageArgs `arg:"subcommand:account-hashing" help:"dump the account hashing stage"`
	Merkle         *stageArgs `arg:"subcommand:merkle" help:"dump the merkle stage"`
}

func main() {
	p := arg.MustParse(&args)
	names := p.SubcommandNames()
	if len(names) == 0 {
		p.Fail("missing stage: execution, storage-hashing, account-hashing or merkle")
	}
	stage, err := dump.ParseStage(names[0])
	if err != nil {
		p.Fail(err.Error())
	}
	sa := p.Subcommand().(*stageArgs)
	if sa.From >= sa.To {
		p.Fail("--from must be below --to")
	}

	cfg, err := config.LoadConfig(args.Config)
	if err != nil {
		p.Fail(err.Error())
	}
	level := cfg.Log.Level
	if args.LogLevel != "" {
		level = args.LogLevel
	}
	logger, err := logx.Configure(os.Stdout, level, cfg.Log.Format)
	if err != nil {
		p.Fail(err.Error())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, stage, sa); err != nil {
		ev := logger.Fatal().Err(err)
		var de *dump.Error
		if errors.As(err, &de) {
			ev = ev.Str("kind", de.Kind.Error()).
				Str("stage", de.Stage.String()).
				Uint64("from", de.From).
				Uint64("to", de.To).
				Str("output", de.Path).
				Str("phase", de.Phase.String())
			if de.Table != "" {
				ev = ev.Str("table", de.Table)
			}
		}
		cancel()
		ev.Msg("dump failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, stage dump.Stage, sa *stageArgs) error {
	srcPath := filepath.Join(args.Datadir, args.Chain, "db")
	srcOpts := cfg.StoreOptions(logger)
	srcOpts.ReadOnly = true
	src, err := kv.Open(srcPath, srcOpts)
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Info().
		Str("source", srcPath).
		Str("stage", stage.String()).
		Uint64("from", sa.From).
		Uint64("to", sa.To).
		Str("output", sa.OutputDB).
		Bool("dry_run", sa.DryRun).
		Msg("starting dump")

	d := dump.New(src, dump.Config{
		Store:     cfg.StoreOptions(logger),
		BatchSize: cfg.Dump.CopyBatchSize,
		Log:       logger,
	})
	res, err := d.Dump(ctx, dump.Request{
		Stage:      stage,
		From:       sa.From,
		To:         sa.To,
		OutputPath: sa.OutputDB,
		DryRun:     sa.DryRun,
	})
	if err != nil {
		return err
	}

	for _, tc := range res.Tables {
		logger.Info().
			Str("table", tc.Table).
			Uint64("records", tc.Records).
			Uint64("reverted", tc.Reverted).
			Msg("copied")
	}
	logger.Info().
		Str("output", res.OutputPath).
		Uint64("tip", res.Tip).
		Uint64("blocks", res.Blocks).
		Bool("dry_run", res.DryRun).
		Dur("took", res.Took).
		Msg("dump succeeded")

	if sa.Archive == "" {
		return nil
	}
	dstOpts := cfg.StoreOptions(logger)
	dstOpts.ReadOnly = true
	dst, err := kv.Open(res.OutputPath, dstOpts)
	if err != nil {
		return err
	}
	defer dst.Close()
	stats, err := archive.ExportFile(dst, sa.Archive, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Str("archive", sa.Archive).
		Uint64("records", stats.Total()).
		Dur("took", stats.Took).
		Msg("archive written")
	return nil
}
