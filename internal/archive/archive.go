// Package archive serialises every record of a store into a single zstd
// stream and materialises such a stream back into an empty store, so a dumped
// slice can be shared as one file.
//
// Stream layout (inside zstd):
//
//	magic "STGSLICE" | version byte
//	repeated: table id (1 byte, never 0) | uvarint key len | key | uvarint value len | value
//	0x00 end marker
//	roaring64 bitmap of the blocks in BlockBodyIndices
package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/chain"
	"github.com/freeeve/stagedump/internal/kv"
	"github.com/freeeve/stagedump/internal/tables"
)

const (
	magic   = "STGSLICE"
	version = 1

	// maxField bounds a single key or value; larger lengths mean corruption.
	maxField = 64 << 20
)

var (
	// ErrBadMagic means the stream does not start with the archive header.
	ErrBadMagic = errors.New("not a slice archive")
	// ErrVersion means the archive was written by an unknown format version.
	ErrVersion = errors.New("unsupported archive version")
	// ErrUnknownTable means a record names a table id outside the schema.
	ErrUnknownTable = errors.New("unknown table id")
	// ErrCorrupt means the stream is truncated or inconsistent with its block set.
	ErrCorrupt = errors.New("corrupt archive")
)

// Stats summarises an exported or imported archive.
type Stats struct {
	Records map[string]uint64 // per table name
	Blocks  *roaring64.Bitmap
	Took    time.Duration
}

// Total returns the number of records over all tables.
func (s *Stats) Total() uint64 {
	var n uint64
	for _, c := range s.Records {
		n += c
	}
	return n
}

// TableCount is one table's record count.
type TableCount struct {
	Table   string
	Records uint64
}

// Tables returns the non-empty per-table counts in schema order.
func (s *Stats) Tables() []TableCount {
	var out []TableCount
	for _, t := range tables.All {
		if n := s.Records[t.Name]; n > 0 {
			out = append(out, TableCount{Table: t.Name, Records: n})
		}
	}
	return out
}

func newStats() *Stats {
	return &Stats{Records: make(map[string]uint64), Blocks: roaring64.New()}
}

// Export writes every record of db to w.
func Export(db *kv.DB, w io.Writer, log zerolog.Logger) (*Stats, error) {
	start := time.Now()
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 1<<20)

	stats := newStats()
	if _, err := bw.WriteString(magic); err != nil {
		enc.Close()
		return nil, err
	}
	if err := bw.WriteByte(version); err != nil {
		enc.Close()
		return nil, err
	}

	err = db.View(func(tx *kv.Tx) error {
		for _, t := range tables.All {
			n, err := exportTable(tx, t, bw, stats.Blocks)
			if err != nil {
				return fmt.Errorf("export %s: %w", t, err)
			}
			if n > 0 {
				stats.Records[t.Name] = n
				log.Debug().Str("table", t.Name).Uint64("records", n).Msg("table exported")
			}
		}
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, err
	}
	if err := bw.WriteByte(0); err != nil {
		enc.Close()
		return nil, err
	}
	if _, err := stats.Blocks.WriteTo(bw); err != nil {
		enc.Close()
		return nil, fmt.Errorf("write block set: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close zstd writer: %w", err)
	}
	stats.Took = time.Since(start)
	return stats, nil
}

func exportTable(tx *kv.Tx, t kv.Table, w *bufio.Writer, blocks *roaring64.Bitmap) (uint64, error) {
	c, err := tx.Cursor(t)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	var n uint64
	var lenBuf [binary.MaxVarintLen64]byte
	for k, v, err := c.First(); ; k, v, err = c.Next() {
		if err != nil {
			return n, err
		}
		if k == nil {
			return n, nil
		}
		if t == tables.BlockBodyIndices {
			b, err := chain.DecodeBlockKey(k)
			if err != nil {
				return n, err
			}
			blocks.Add(b)
		}
		if err := w.WriteByte(t.ID); err != nil {
			return n, err
		}
		for _, field := range [][]byte{k, v} {
			m := binary.PutUvarint(lenBuf[:], uint64(len(field)))
			if _, err := w.Write(lenBuf[:m]); err != nil {
				return n, err
			}
			if _, err := w.Write(field); err != nil {
				return n, err
			}
		}
		n++
	}
}

// Import reads an archive from r into db, committing every batchSize
// records. db should be empty; existing keys are overwritten.
func Import(db *kv.DB, r io.Reader, batchSize int, log zerolog.Logger) (*Stats, error) {
	start := time.Now()
	if batchSize <= 0 {
		batchSize = 10000
	}
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 1<<20)

	head := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(head[:len(magic)]) != magic {
		return nil, ErrBadMagic
	}
	if head[len(magic)] != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, head[len(magic)])
	}

	stats := newStats()
	type rec struct {
		t    kv.Table
		k, v []byte
	}
	pending := make([]rec, 0, batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := db.Update(func(tx *kv.RwTx) error {
			for _, p := range pending {
				if err := tx.Put(p.t, p.k, p.v); err != nil {
					return err
				}
			}
			return nil
		})
		pending = pending[:0]
		return err
	}

	for {
		id, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if id == 0 {
			break
		}
		t, ok := tables.ByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: %#x", ErrUnknownTable, id)
		}
		k, err := readField(br)
		if err != nil {
			return nil, err
		}
		v, err := readField(br)
		if err != nil {
			return nil, err
		}
		if t == tables.BlockBodyIndices {
			b, err := chain.DecodeBlockKey(k)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			stats.Blocks.Add(b)
		}
		pending = append(pending, rec{t: t, k: k, v: v})
		stats.Records[t.Name]++
		if len(pending) == batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	want := roaring64.New()
	if _, err := want.ReadFrom(br); err != nil {
		return nil, fmt.Errorf("%w: block set: %v", ErrCorrupt, err)
	}
	if !want.Equals(stats.Blocks) {
		return nil, fmt.Errorf("%w: archive lists %d blocks, imported %d",
			ErrCorrupt, want.GetCardinality(), stats.Blocks.GetCardinality())
	}
	stats.Took = time.Since(start)
	log.Debug().Uint64("records", stats.Total()).Dur("took", stats.Took).Msg("archive imported")
	return stats, nil
}

func readField(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n > maxField {
		return nil, fmt.Errorf("%w: field of %d bytes", ErrCorrupt, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return buf, nil
}

// ExportFile writes db to a new archive file at path.
func ExportFile(db *kv.DB, path string, log zerolog.Logger) (*Stats, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	stats, err := Export(db, f, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return stats, nil
}

// ImportFile materialises the archive at path into db.
func ImportFile(db *kv.DB, path string, batchSize int, log zerolog.Logger) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Import(db, f, batchSize, log)
}
