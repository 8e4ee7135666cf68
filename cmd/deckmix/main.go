package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/anthropics/deckmix/pkg/audio"
	"github.com/anthropics/deckmix/pkg/tui"
)

func main() {
	sampleRate := flag.Int("rate", 48000, "Output sample rate in Hz")
	blockSize := flag.Int("block", 4096, "Audio block size in frames")
	latency := flag.Float64("latency", 120, "Requested output latency in ms")
	verbose := flag.Bool("v", false, "Log to stderr")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}

	engine := audio.NewEngine(audio.Config{
		SampleRate: *sampleRate,
		BlockSize:  *blockSize,
		LatencyMS:  *latency,
		Logger:     logger,
	})

	if err := engine.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting audio: %v\n", err)
		os.Exit(1)
	}

	// Load up to two tracks from the command line.
	if flag.NArg() > 0 {
		if err := engine.DeckA().LoadTrack(flag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Deck A: %v\n", err)
		}
	}
	if flag.NArg() > 1 {
		if err := engine.DeckB().LoadTrack(flag.Arg(1)); err != nil {
			fmt.Fprintf(os.Stderr, "Deck B: %v\n", err)
		}
	}

	model := tui.NewModel(engine)
	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
