package analysis

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DecodeFunc decodes an audio file to mono PCM for analysis. Supplied by
// the caller so the batch runner stays independent of the playback decoder.
type DecodeFunc func(path string) (mono []float32, sampleRate int, err error)

// BatchReport is the per-file outcome delivered to the progress callback.
type BatchReport struct {
	Path    string
	Result  Result
	Cached  bool
	Err     error
	Elapsed time.Duration
}

// BatchOptions configures a batch run.
type BatchOptions struct {
	Workers     int           // concurrent analyzers, default 2
	FileTimeout time.Duration // per-file wall clock budget, default 30s
	WithKey     bool          // also run key detection
	WithPeaks   bool          // also write the peaks sidecar
	Library     *Library      // optional SQLite store
	Progress    func(BatchReport)
}

// Batch analyzes a list of files with a bounded worker pool, cooperative
// cancellation and pause. Results land in the in-memory cache, the sidecars
// and (when configured) the library.
type Batch struct {
	decode DecodeFunc
	cache  *Cache
	log    *zap.Logger

	paused atomic.Bool

	mu        sync.Mutex
	processed int
	failed    int
	skipped   int
}

// NewBatch creates a batch runner.
func NewBatch(decode DecodeFunc, cache *Cache, log *zap.Logger) *Batch {
	if log == nil {
		log = zap.NewNop()
	}
	if cache == nil {
		cache = NewCache(log)
	}
	return &Batch{decode: decode, cache: cache, log: log}
}

// SetPaused pauses or resumes the run; workers finish their current file
// and then idle.
func (b *Batch) SetPaused(p bool) { b.paused.Store(p) }

// Stats returns processed/failed/skipped counts so far.
func (b *Batch) Stats() (processed, failed, skipped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processed, b.failed, b.skipped
}

// Run processes the given paths. Cancelling ctx stops the run after the
// in-flight files complete.
func (b *Batch) Run(ctx context.Context, paths []string, opts BatchOptions) error {
	workers := opts.Workers
	if workers < 1 {
		workers = 2
	}
	timeout := opts.FileTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			break
		}
		path := path
		g.Go(func() error {
			b.waitWhilePaused(ctx)
			if err := ctx.Err(); err != nil {
				return nil
			}
			report := b.analyzeOne(ctx, path, timeout, opts)
			b.mu.Lock()
			switch {
			case report.Err != nil:
				b.failed++
			case report.Cached:
				b.skipped++
			default:
				b.processed++
			}
			b.mu.Unlock()
			if opts.Progress != nil {
				opts.Progress(report)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Batch) waitWhilePaused(ctx context.Context) {
	for b.paused.Load() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (b *Batch) analyzeOne(ctx context.Context, path string, timeout time.Duration, opts BatchOptions) BatchReport {
	start := time.Now()
	report := BatchReport{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		report.Err = err
		return report
	}
	uid := TrackUID(path, info.Size(), info.ModTime())

	// Library first, then sidecar: both count as cache hits.
	if opts.Library != nil {
		if e, ok := opts.Library.Get(path, info.ModTime().Unix()); ok && e.BPM > 0 {
			report.Cached = true
			report.Result = Result{
				UID: uid, BPM: e.BPM, Confidence: e.Confidence,
				KeyName: e.KeyName, Camelot: e.Camelot, Method: e.Method,
			}
			b.cache.Store(report.Result)
			report.Elapsed = time.Since(start)
			return report
		}
	}
	if sc, err := ReadBPMSidecar(path); err == nil {
		report.Cached = true
		report.Result = Result{UID: uid, BPM: sc.BPM, Confidence: sc.Confidence, Method: sc.Method}
		if key, err := ReadKeySidecar(path); err == nil {
			report.Result.KeyName = key.KeyName
			report.Result.Camelot = key.Camelot
			report.Result.KeyConfidence = key.Confidence
		}
		b.cache.Store(report.Result)
		report.Elapsed = time.Since(start)
		return report
	}

	fileCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mono, sr, err := b.decode(path)
	if err != nil {
		report.Err = err
		return report
	}

	bpmRes, err := DetectBPM(fileCtx, mono, sr)
	if err != nil {
		if errors.Is(fileCtx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
		}
		report.Err = err
		report.Elapsed = time.Since(start)
		return report
	}
	bpm, conf, ok := NormalizeBPM(bpmRes.BPM, bpmRes.Confidence)
	if !ok {
		report.Err = ErrNoCandidates
		report.Elapsed = time.Since(start)
		return report
	}

	result := Result{UID: uid, BPM: bpm, Confidence: conf, Method: bpmRes.Method}

	if opts.WithKey {
		if key, err := DetectKey(fileCtx, mono, sr); err == nil {
			result.KeyName = key.KeyName
			result.Camelot = key.Camelot
			result.KeyConfidence = key.Confidence
			_ = WriteKeySidecar(path, KeySidecar{
				KeyName: key.KeyName, Camelot: key.Camelot,
				Confidence: key.Confidence, Method: key.Method,
			})
		} else {
			b.log.Warn("key detection failed", zap.String("path", path), zap.Error(err))
		}
	}
	if opts.WithPeaks {
		_ = WritePeaksSidecar(path, ComputePeaks(mono, sr, DefaultPeakBlock))
	}

	if err := WriteBPMSidecar(path, BPMSidecar{
		BPM: bpm, Confidence: conf, Method: bpmRes.Method, SampleRate: AnalysisRate,
	}); err != nil {
		b.log.Warn("sidecar write failed", zap.String("path", path), zap.Error(err))
	}

	if opts.Library != nil {
		if err := opts.Library.Put(LibraryEntry{
			Path: path, ModTime: info.ModTime().Unix(), Size: info.Size(), UID: uid,
			BPM: bpm, Confidence: conf, KeyName: result.KeyName, Camelot: result.Camelot,
			Method: bpmRes.Method,
		}); err != nil {
			b.log.Warn("library write failed", zap.String("path", path), zap.Error(err))
		}
	}

	b.cache.Store(result)
	report.Result = result
	report.Elapsed = time.Since(start)
	return report
}
