package kv

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/rs/zerolog"
)

// Options configures how a store is opened.
type Options struct {
	ReadOnly     bool
	CacheSize    int64  // block cache bytes, default 64MB
	MemTableSize uint64 // 0 keeps the pebble default
	Sync         bool   // fsync on commit
	Logger       zerolog.Logger
}

// Stats counts record-level traffic through a store handle.
type Stats struct {
	Reads   uint64
	Writes  uint64
	Commits uint64
}

// DB is an open store.
type DB struct {
	db       *pebble.DB
	path     string
	readOnly bool
	commit   *pebble.WriteOptions
	log      zerolog.Logger

	reads   atomic.Uint64
	writes  atomic.Uint64
	commits atomic.Uint64
}

// Create initialises a new, empty store at path. It fails with ErrStoreExists
// when path already contains anything.
func Create(path string, opts Options) (*DB, error) {
	entries, err := os.ReadDir(path)
	switch {
	case err == nil && len(entries) > 0:
		return nil, fmt.Errorf("%s: %w", path, ErrStoreExists)
	case err != nil && !os.IsNotExist(err):
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	opts.ReadOnly = false
	return open(path, opts, true)
}

// Open opens an existing store at path.
func Open(path string, opts Options) (*DB, error) {
	return open(path, opts, false)
}

func open(path string, opts Options, create bool) (*DB, error) {
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = 64 << 20
	}
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	listener := eventListener(opts.Logger)
	popts := &pebble.Options{
		Cache:            cache,
		Logger:           pebbleLogger{log: opts.Logger},
		EventListener:    &listener,
		ReadOnly:         opts.ReadOnly,
		ErrorIfExists:    create,
		ErrorIfNotExists: !create,
	}
	if opts.MemTableSize > 0 {
		popts.MemTableSize = opts.MemTableSize
	}

	start := time.Now()
	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	opts.Logger.Debug().
		Str("path", path).
		Bool("read_only", opts.ReadOnly).
		Bool("created", create).
		Dur("took", time.Since(start)).
		Msg("store opened")

	commit := pebble.NoSync
	if opts.Sync {
		commit = pebble.Sync
	}
	return &DB{
		db:       db,
		path:     path,
		readOnly: opts.ReadOnly,
		commit:   commit,
		log:      opts.Logger,
	}, nil
}

// Path returns the directory the store lives in.
func (d *DB) Path() string {
	return d.path
}

// IsReadOnly reports whether the store rejects write transactions.
func (d *DB) IsReadOnly() bool {
	return d.readOnly
}

// Stats returns the traffic counters of this handle.
func (d *DB) Stats() Stats {
	return Stats{
		Reads:   d.reads.Load(),
		Writes:  d.writes.Load(),
		Commits: d.commits.Load(),
	}
}

// Close closes the store.
func (d *DB) Close() error {
	return d.db.Close()
}

// View runs fn against a consistent snapshot of the store.
func (d *DB) View(fn func(tx *Tx) error) error {
	snap := d.db.NewSnapshot()
	defer snap.Close()
	return fn(&Tx{r: snap, db: d})
}

// Update runs fn in a write transaction. The transaction commits only when fn
// returns nil; otherwise every write made by fn is discarded.
func (d *DB) Update(fn func(tx *RwTx) error) error {
	if d.readOnly {
		return fmt.Errorf("%s: %w", d.path, ErrReadOnly)
	}
	b := d.db.NewIndexedBatch()
	defer b.Close()

	tx := &RwTx{Tx: Tx{r: b, db: d}, b: b}
	if err := fn(tx); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	if err := b.Commit(d.commit); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	d.writes.Add(tx.ops)
	d.commits.Add(1)
	return nil
}
