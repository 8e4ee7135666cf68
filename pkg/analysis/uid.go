package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

// TrackUID fingerprints a track as 128 bits of hex from its absolute path,
// size and modification time. It is the primary key of the analysis caches.
func TrackUID(path string, size int64, modTime time.Time) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	ident := fmt.Sprintf("%s:%d:%d", abs, size, modTime.UnixNano())
	hi := xxhash.Sum64String(ident)
	lo := xxhash.Sum64String("deckmix/" + ident)
	return fmt.Sprintf("%016x%016x", hi, lo)
}

// TrackUIDForFile stats the file and returns its UID.
func TrackUIDForFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return TrackUID(path, info.Size(), info.ModTime()), nil
}
