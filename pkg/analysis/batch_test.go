package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDummyFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("stub"), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func clickDecode(path string) ([]float32, int, error) {
	return clickTrack(128, 15, AnalysisRate), AnalysisRate, nil
}

func TestBatchAnalyzesAndCaches(t *testing.T) {
	dir := t.TempDir()
	paths := writeDummyFiles(t, dir, "one.wav", "two.wav")

	lib, err := OpenLibrary(filepath.Join(dir, "library.db"), nil)
	require.NoError(t, err)
	defer lib.Close()

	cache := NewCache(nil)
	b := NewBatch(clickDecode, cache, nil)

	var reports []BatchReport
	err = b.Run(context.Background(), paths, BatchOptions{
		Workers:   2,
		WithPeaks: true,
		Library:   lib,
		Progress:  func(r BatchReport) { reports = append(reports, r) },
	})
	require.NoError(t, err)

	processed, failed, skipped := b.Stats()
	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, skipped)
	assert.Len(t, reports, 2)

	for _, p := range paths {
		sc, err := ReadBPMSidecar(p)
		require.NoError(t, err, "bpm sidecar written for %s", p)
		assert.InDelta(t, 128.0, sc.BPM, 3.0)

		_, err = os.Stat(p + PeaksSidecarSuffix)
		assert.NoError(t, err, "peaks sidecar written")

		info, _ := os.Stat(p)
		entry, ok := lib.Get(p, info.ModTime().Unix())
		require.True(t, ok, "library row written")
		assert.InDelta(t, 128.0, entry.BPM, 3.0)
	}
	assert.Equal(t, 2, cache.Len())

	// A second run finds everything cached and analyzes nothing.
	b2 := NewBatch(clickDecode, NewCache(nil), nil)
	require.NoError(t, b2.Run(context.Background(), paths, BatchOptions{Library: lib}))
	processed, failed, skipped = b2.Stats()
	assert.Equal(t, 0, processed)
	assert.Equal(t, 2, skipped)
}

func TestBatchCancellation(t *testing.T) {
	dir := t.TempDir()
	paths := writeDummyFiles(t, dir, "a.wav", "b.wav", "c.wav", "d.wav")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatch(clickDecode, nil, nil)
	require.NoError(t, b.Run(ctx, paths, BatchOptions{Workers: 1}))
	processed, _, _ := b.Stats()
	assert.Equal(t, 0, processed, "cancelled run analyzes nothing")
}

func TestLibraryUpsertAndCleanup(t *testing.T) {
	dir := t.TempDir()
	lib, err := OpenLibrary(filepath.Join(dir, "library.db"), nil)
	require.NoError(t, err)
	defer lib.Close()

	existing := filepath.Join(dir, "keep.wav")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	require.NoError(t, lib.Put(LibraryEntry{Path: existing, ModTime: 10, Size: 1, UID: "u1", BPM: 120}))
	require.NoError(t, lib.Put(LibraryEntry{Path: existing, ModTime: 10, Size: 1, UID: "u1", BPM: 121}))
	require.NoError(t, lib.Put(LibraryEntry{Path: filepath.Join(dir, "gone.wav"), ModTime: 10, Size: 1, UID: "u2", BPM: 90}))

	e, ok := lib.Get(existing, 10)
	require.True(t, ok)
	assert.Equal(t, 121.0, e.BPM, "upsert replaces")

	_, ok = lib.Get(existing, 11)
	assert.False(t, ok, "stale mtime misses")

	all, err := lib.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed := lib.Cleanup()
	assert.Equal(t, 1, removed)
	all, _ = lib.All()
	assert.Len(t, all, 1)
}
