// Package dump extracts a bounded block range of a chain store into a new,
// isolated store and optionally dry-runs one pipeline stage against it.
//
// A dump never writes to the source store. The destination store is created
// fresh for every dump and is left on disk whatever the outcome.
package dump

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/kv"
)

// Stage identifies the pipeline stage a dump targets.
type Stage uint8

const (
	StageExecution Stage = iota + 1
	StageStorageHashing
	StageAccountHashing
	StageMerkle
)

var stageNames = map[Stage]string{
	StageExecution:      "execution",
	StageStorageHashing: "storage-hashing",
	StageAccountHashing: "account-hashing",
	StageMerkle:         "merkle",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// ParseStage maps a CLI name onto a Stage.
func ParseStage(name string) (Stage, error) {
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// Stages lists every supported stage.
func Stages() []Stage {
	return []Stage{StageExecution, StageStorageHashing, StageAccountHashing, StageMerkle}
}

// Phase tracks how far a dump got.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSliceBuilt
	PhaseAuxiliaryCopied
	PhaseDryRunExecuted
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSliceBuilt:
		return "slice-built"
	case PhaseAuxiliaryCopied:
		return "auxiliary-copied"
	case PhaseDryRunExecuted:
		return "dry-run-executed"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Request is one dump invocation.
type Request struct {
	Stage      Stage
	From       uint64
	To         uint64
	OutputPath string
	DryRun     bool
}

// TableCopy reports what was copied into one destination table.
type TableCopy struct {
	Table    string
	Records  uint64
	Reverted uint64 // change-set entries applied while unwinding state
}

// Result describes a completed dump.
type Result struct {
	Request
	Tip    uint64
	Blocks uint64 // primary index records in the slice
	Phase  Phase
	Tables []TableCopy
	Took   time.Duration
}

func (r *Result) addTable(tc TableCopy) {
	r.Tables = append(r.Tables, tc)
}

// Config configures a Dumper.
type Config struct {
	Store     kv.Options // options for destination stores
	BatchSize int        // records per read/write batch, default 10000
	Log       zerolog.Logger
}

// Dumper extracts slices from one source store.
type Dumper struct {
	src *kv.DB
	cfg Config
	log zerolog.Logger
}

// New returns a Dumper reading from src, which should be opened read-only.
func New(src *kv.DB, cfg Config) *Dumper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	cfg.Store.ReadOnly = false
	cfg.Store.Logger = cfg.Log
	if !src.IsReadOnly() {
		cfg.Log.Warn().Str("source", src.Path()).Msg("source store opened read-write")
	}
	return &Dumper{src: src, cfg: cfg, log: cfg.Log}
}

// Dump builds the slice for req, copies the auxiliary tables the stage
// reads, and dry-runs the stage when req.DryRun is set.
func (d *Dumper) Dump(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{Request: req, Phase: PhaseIdle}

	sd, err := dumperFor(req.Stage)
	if err != nil {
		return nil, withContext(&Error{Kind: ErrUnknownStage}, req, res.Phase)
	}

	log := d.log.With().
		Str("stage", req.Stage.String()).
		Uint64("from", req.From).
		Uint64("to", req.To).
		Str("output", req.OutputPath).
		Logger()

	dst, slice, err := d.buildSlice(ctx, req, res)
	if err != nil {
		return nil, withContext(err, req, res.Phase)
	}
	defer dst.Close()
	res.Tip = slice.Tip
	res.Blocks = slice.Blocks.GetCardinality()
	res.Phase = PhaseSliceBuilt
	log.Info().Uint64("tip", res.Tip).Uint64("blocks", res.Blocks).Msg("slice built")

	if err := ctx.Err(); err != nil {
		return nil, withContext(err, req, res.Phase)
	}
	r := blockRange{From: req.From, Tip: slice.Tip}
	if err := sd.copyAuxiliary(d, dst, r, res); err != nil {
		return nil, withContext(err, req, res.Phase)
	}
	res.Phase = PhaseAuxiliaryCopied
	log.Info().Int("tables", len(res.Tables)).Msg("auxiliary tables copied")

	if req.DryRun {
		if err := ctx.Err(); err != nil {
			return nil, withContext(err, req, res.Phase)
		}
		if err := DryRun(ctx, dst, req.Stage, req.From, slice.Tip, log); err != nil {
			return nil, withContext(err, req, res.Phase)
		}
		res.Phase = PhaseDryRunExecuted
	}

	res.Phase = PhaseDone
	res.Took = time.Since(start)
	log.Info().
		Uint64("tip", res.Tip).
		Bool("dry_run", req.DryRun).
		Dur("took", res.Took).
		Msg("dump complete")
	return res, nil
}
