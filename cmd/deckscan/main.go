package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/anthropics/deckmix/pkg/analysis"
	"github.com/anthropics/deckmix/pkg/deck"
)

var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".oga": true,
}

func collect(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && audioExts[strings.ToLower(filepath.Ext(p))] {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func main() {
	workers := flag.Int("workers", 2, "Concurrent analyzers")
	withKey := flag.Bool("key", true, "Detect musical key")
	withPeaks := flag.Bool("peaks", false, "Write waveform peak sidecars")
	libPath := flag.String("library", "", "SQLite library path (empty = sidecars only)")
	cleanup := flag.Bool("cleanup", false, "Remove library rows for missing files, then exit")
	verbose := flag.Bool("v", false, "Log to stderr")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}

	var lib *analysis.Library
	if *libPath != "" {
		var err error
		lib, err = analysis.OpenLibrary(*libPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening library: %v\n", err)
			os.Exit(1)
		}
		defer lib.Close()
	}

	if *cleanup {
		if lib == nil {
			fmt.Fprintln(os.Stderr, "-cleanup needs -library")
			os.Exit(1)
		}
		fmt.Printf("Removed %d stale entries\n", lib.Cleanup())
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: deckscan [flags] <file-or-dir>...")
		os.Exit(1)
	}
	paths, err := collect(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Analyzing %d files with %d workers\n", len(paths), *workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b := analysis.NewBatch(deck.DecodeMonoForAnalysis, analysis.NewCache(logger), logger)
	err = b.Run(ctx, paths, analysis.BatchOptions{
		Workers:   *workers,
		WithKey:   *withKey,
		WithPeaks: *withPeaks,
		Library:   lib,
		Progress: func(r analysis.BatchReport) {
			name := filepath.Base(r.Path)
			switch {
			case r.Err != nil:
				fmt.Printf("  %-40s FAILED: %v\n", name, r.Err)
			case r.Cached:
				fmt.Printf("  %-40s cached  %.1f BPM %s\n", name, r.Result.BPM, r.Result.Camelot)
			default:
				fmt.Printf("  %-40s %.1f BPM (conf %.2f) %s [%s]\n",
					name, r.Result.BPM, r.Result.Confidence, r.Result.Camelot, r.Elapsed.Round(1e7))
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	processed, failed, skipped := b.Stats()
	fmt.Printf("Done: %d analyzed, %d cached, %d failed\n", processed, skipped, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
