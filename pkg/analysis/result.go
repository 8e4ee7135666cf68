package analysis

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/deckmix/pkg/tempo"
)

// Result is the merged outcome of the analyzers for one track.
type Result struct {
	UID             string
	BPM             float64 // 0 when unknown
	Confidence      float64
	KeyName         string // e.g. "A minor"
	Camelot         string // e.g. "8A"
	KeyConfidence   float64
	Method          string
	Timestamp       time.Time
	TempoMap        *tempo.Map
	GridOffsetBeats float64
}

// HasBPM reports whether a usable BPM is present.
func (r Result) HasBPM() bool { return r.BPM > 0 }

// HasKey reports whether a detected key is present.
func (r Result) HasKey() bool { return r.KeyName != "" }

// Cache is the process-wide in-memory store of analysis results, keyed by
// track UID. Writes are field-wise merges: a key-only update preserves a
// previously stored BPM and vice versa.
type Cache struct {
	mu      sync.RWMutex
	results map[string]Result
	log     *zap.Logger
}

// NewCache creates an empty cache.
func NewCache(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{results: make(map[string]Result), log: log}
}

// Get returns the cached result for a UID.
func (c *Cache) Get(uid string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[uid]
	return r, ok
}

// GetByPath stats the file, derives its UID and looks that up.
func (c *Cache) GetByPath(path string) (Result, bool) {
	uid, err := TrackUIDForFile(path)
	if err != nil {
		return Result{}, false
	}
	return c.Get(uid)
}

// Store merges the given result into the cache.
func (c *Cache) Store(r Result) {
	if r.UID == "" {
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	c.mu.Lock()
	prev, ok := c.results[r.UID]
	if ok {
		if r.BPM <= 0 {
			r.BPM = prev.BPM
			r.Confidence = prev.Confidence
		}
		if r.KeyName == "" {
			r.KeyName = prev.KeyName
			r.Camelot = prev.Camelot
			r.KeyConfidence = prev.KeyConfidence
		}
		if r.TempoMap == nil {
			r.TempoMap = prev.TempoMap
		}
		if r.GridOffsetBeats == 0 {
			r.GridOffsetBeats = prev.GridOffsetBeats
		}
		if r.Method == "" {
			r.Method = prev.Method
		}
	}
	c.results[r.UID] = r
	c.mu.Unlock()
	c.log.Debug("analysis cached",
		zap.String("uid", shortUID(r.UID)),
		zap.Float64("bpm", r.BPM),
		zap.String("key", r.Camelot))
}

// SetGridOffset records a manual grid correction for a cached track.
func (c *Cache) SetGridOffset(uid string, offsetBeats float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[uid]
	if !ok {
		return
	}
	r.GridOffsetBeats = offsetBeats
	c.results[uid] = r
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Clear drops all cached entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.results = make(map[string]Result)
	c.mu.Unlock()
}

func shortUID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}
