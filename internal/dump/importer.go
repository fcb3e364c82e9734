package dump

import (
	"time"

	"github.com/freeeve/stagedump/internal/kv"
)

type record struct {
	key, value []byte
}

// importTableRange copies every record of t within r from src into dst, in
// key order, reading batchSize records before writing them out. Records in
// dst with the same keys are overwritten.
func importTableRange(src *kv.Tx, dst *kv.RwTx, t kv.Table, r kv.Range, batchSize int) (uint64, error) {
	c, err := src.CursorRange(t, r)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	buf := make([]record, 0, batchSize)
	flush := func() error {
		for _, rec := range buf {
			if err := dst.Put(t, rec.key, rec.value); err != nil {
				return err
			}
		}
		buf = buf[:0]
		return nil
	}

	var copied uint64
	for k, v, err := c.First(); ; k, v, err = c.Next() {
		if err != nil {
			return copied, err
		}
		if k == nil {
			break
		}
		buf = append(buf, record{key: append([]byte(nil), k...), value: append([]byte(nil), v...)})
		if len(buf) == batchSize {
			copied += uint64(len(buf))
			if err := flush(); err != nil {
				return copied, err
			}
		}
	}
	copied += uint64(len(buf))
	return copied, flush()
}

// importRange copies one table range from the source store into dst in a
// single destination write transaction.
func (d *Dumper) importRange(dst *kv.DB, t kv.Table, r kv.Range, res *Result) error {
	start := time.Now()
	var n uint64
	err := d.src.View(func(src *kv.Tx) error {
		return dst.Update(func(tx *kv.RwTx) error {
			var err error
			n, err = importTableRange(src, tx, t, r, d.cfg.BatchSize)
			return err
		})
	})
	if err != nil {
		return &Error{Kind: ErrCopyFailed, Table: t.Name, Err: err}
	}
	res.addTable(TableCopy{Table: t.Name, Records: n})
	d.log.Debug().
		Str("table", t.Name).
		Str("range", r.String()).
		Uint64("records", n).
		Dur("took", time.Since(start)).
		Msg("table copied")
	return nil
}
