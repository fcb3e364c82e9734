package dump

import (
	"context"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

// Slice describes the primary index records copied into a destination store.
type Slice struct {
	Tip    uint64 // highest block present in the destination
	Blocks *roaring64.Bitmap
}

// blockRange is the inclusive block interval [From, Tip] a stage routine
// copies auxiliary data for.
type blockRange struct {
	From uint64
	Tip  uint64
}

// BuildSlice creates a fresh store at path and copies the primary index
// records for blocks from-1 through to+1 into it, saturating at both ends.
// The returned store is open; the caller closes it.
func (d *Dumper) BuildSlice(ctx context.Context, from, to uint64, path string) (*kv.DB, *Slice, error) {
	res := &Result{Request: Request{From: from, To: to, OutputPath: path}}
	dst, slice, err := d.buildSlice(ctx, res.Request, res)
	if err != nil {
		return nil, nil, withContext(err, res.Request, PhaseIdle)
	}
	return dst, slice, nil
}

func (d *Dumper) buildSlice(ctx context.Context, req Request, res *Result) (*kv.DB, *Slice, error) {
	if req.From >= req.To {
		return nil, nil, &Error{Kind: ErrInvalidRange, Err: fmt.Errorf("from %d must be below to %d", req.From, req.To)}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	d.log.Info().Str("output", req.OutputPath).Msg("creating separate db")
	dst, err := kv.Create(req.OutputPath, d.cfg.Store)
	if err != nil {
		return nil, nil, &Error{Kind: ErrStoreCreationFailed, Err: err}
	}

	lo, hi := req.From, req.To
	if lo > 0 {
		lo--
	}
	if hi < math.MaxUint64 {
		hi++
	}
	if err := d.importRange(dst, tables.BlockBodyIndices, tables.BlockRange(lo, hi), res); err != nil {
		dst.Close()
		return nil, nil, err
	}

	slice, err := readSlice(dst)
	if err != nil {
		dst.Close()
		return nil, nil, &Error{Kind: ErrCopyFailed, Table: tables.BlockBodyIndices.Name, Err: err}
	}
	if slice.Blocks.IsEmpty() || slice.Tip < req.From {
		dst.Close()
		return nil, nil, &Error{
			Kind:  ErrEmptySlice,
			Table: tables.BlockBodyIndices.Name,
			Err:   fmt.Errorf("no blocks in %d..%d", req.From, hi),
		}
	}
	return dst, slice, nil
}

// readSlice scans the primary index of dst.
func readSlice(dst *kv.DB) (*Slice, error) {
	s := &Slice{Blocks: roaring64.New()}
	err := dst.View(func(tx *kv.Tx) error {
		c, err := tx.Cursor(tables.BlockBodyIndices)
		if err != nil {
			return err
		}
		defer c.Close()
		for k, _, err := c.First(); ; k, _, err = c.Next() {
			if err != nil {
				return err
			}
			if k == nil {
				break
			}
			n, err := chain.DecodeBlockKey(k)
			if err != nil {
				return err
			}
			s.Blocks.Add(n)
		}
		last, _, err := c.Last()
		if err != nil || last == nil {
			return err
		}
		s.Tip, err = chain.DecodeBlockKey(last)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
