package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/anthropics/deckmix/pkg/audio"
)

func main() {
	bpm := flag.Float64("bpm", 120, "Click tempo")
	seconds := flag.Float64("len", 60, "Length in seconds")
	rate := flag.Int("rate", 48000, "Sample rate")
	bar := flag.Int("bar", 4, "Beats per bar (accented downbeat)")
	out := flag.String("o", "", "Output WAV path (default click_<bpm>.wav)")
	flag.Parse()

	path := *out
	if path == "" {
		path = fmt.Sprintf("click_%g.wav", *bpm)
	}

	samples := audio.GenerateClickTrack(audio.ClickOptions{
		BPM:         *bpm,
		Seconds:     *seconds,
		SampleRate:  *rate,
		BeatsPerBar: *bar,
	})
	if err := audio.WriteWAVFile(path, samples, *rate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s: %.0f s at %g BPM, %d Hz\n", path, *seconds, *bpm, *rate)
}
