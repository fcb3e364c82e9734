package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/freeeve/stagedump/internal/archive"
	"github.com/freeeve/stagedump/internal/kv"
)

func main() {
	var (
		storeDir  = flag.String("store", "", "Directory of the store to create")
		inputPath = flag.String("input", "slice.zst", "Input archive file")
		batchSize = flag.Int("batch", 10000, "Records per write batch")
	)
	flag.Parse()

	if *storeDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: import-slice --store <dir> [--input slice.zst]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	db, err := kv.Create(*storeDir, kv.Options{Sync: true, Logger: zerolog.Nop()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Importing slice from %s...\n", *inputPath)
	stats, err := archive.ImportFile(db, *inputPath, *batchSize, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		db.Close()
		os.Exit(1)
	}

	for _, tc := range stats.Tables() {
		fmt.Printf("  %-20s %d\n", tc.Table, tc.Records)
	}
	fmt.Printf("\nDone! Imported %d records into %s in %s\n", stats.Total(), *storeDir, stats.Took)
}
