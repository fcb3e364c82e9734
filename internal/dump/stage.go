package dump

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/stages"
)

// stageDumper is the per-stage part of a dump: which auxiliary data the stage
// reads, and the stage itself.
type stageDumper interface {
	copyAuxiliary(d *Dumper, dst *kv.DB, r blockRange, res *Result) error
	forward(log zerolog.Logger) stages.Stage
}

func dumperFor(s Stage) (stageDumper, error) {
	switch s {
	case StageExecution:
		return executionDump{}, nil
	case StageStorageHashing:
		return storageHashingDump{}, nil
	case StageAccountHashing:
		return accountHashingDump{}, nil
	case StageMerkle:
		return merkleDump{}, nil
	}
	return nil, ErrUnknownStage
}

// DryRun executes stage forward over blocks from+1 through tip against dst
// and commits the result to dst.
func DryRun(ctx context.Context, dst *kv.DB, stage Stage, from, tip uint64, log zerolog.Logger) error {
	fail := func(kind, err error) error {
		return &Error{Kind: kind, Stage: stage, From: from, To: tip, Path: dst.Path(), Err: err}
	}
	sd, err := dumperFor(stage)
	if err != nil {
		return fail(ErrUnknownStage, nil)
	}
	if err := ctx.Err(); err != nil {
		return fail(err, nil)
	}

	st := sd.forward(log)
	in := stages.Input{Checkpoint: from, Target: tip}
	log.Info().
		Str("pipeline_stage", st.Name()).
		Uint64("checkpoint", in.Checkpoint).
		Uint64("target", in.Target).
		Msg("executing stage [dry-run]")

	start := time.Now()
	if err := dst.Update(func(tx *kv.RwTx) error {
		return st.Execute(tx, in)
	}); err != nil {
		return fail(ErrStageExecutionFailed, err)
	}
	log.Info().Dur("took", time.Since(start)).Msg("dry-run succeeded")
	return nil
}
