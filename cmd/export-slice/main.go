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
		storeDir   = flag.String("store", "", "Slice store directory (output of dump-stage)")
		outputPath = flag.String("output", "slice.zst", "Output archive file")
	)
	flag.Parse()

	if *storeDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: export-slice --store <dir> [--output slice.zst]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Printf("Opening slice store: %s\n", *storeDir)
	db, err := kv.Open(*storeDir, kv.Options{ReadOnly: true, Logger: zerolog.Nop()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	stats, err := archive.ExportFile(db, *outputPath, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}

	for _, tc := range stats.Tables() {
		fmt.Printf("  %-20s %d\n", tc.Table, tc.Records)
	}
	if !stats.Blocks.IsEmpty() {
		fmt.Printf("Blocks %d..%d (%d)\n", stats.Blocks.Minimum(), stats.Blocks.Maximum(), stats.Blocks.GetCardinality())
	}
	fmt.Printf("\nDone! Exported %d records to %s in %s\n", stats.Total(), *outputPath, stats.Took)
}
