package deck

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/deckmix/pkg/analysis"
	"github.com/anthropics/deckmix/pkg/clock"
	"github.com/anthropics/deckmix/pkg/ring"
	"github.com/anthropics/deckmix/pkg/stretch"
	"github.com/anthropics/deckmix/pkg/tempo"
)

// Status is the deck transport state.
type Status int32

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusReady
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	}
	return "unknown"
}

// PitchRange is a pitch-slider limit preset.
type PitchRange string

const (
	PitchRange8  PitchRange = "±8"
	PitchRange16 PitchRange = "±16"
	PitchRange50 PitchRange = "±50"
)

// PitchRangeBounds maps each preset to its ratio limits.
var PitchRangeBounds = map[PitchRange][2]float64{
	PitchRange8:  {0.92, 1.08},
	PitchRange16: {0.84, 1.16},
	PitchRange50: {0.50, 1.50},
}

const (
	// ringHighWater is the fill ratio above which the worker idles.
	ringHighWater = 0.5
	// fillChunkFrames is the worker's render granularity.
	fillChunkFrames = 4096
)

// Options configures a deck.
type Options struct {
	RingCapacitySeconds  float64
	AutoNormalizeRMSDBFS float64
	DisableAnalysis      bool // skip background analyzers (tests, batch tools)
	StretchOptions       []stretch.Option
}

func (o *Options) fill() {
	if o.RingCapacitySeconds <= 0 {
		o.RingCapacitySeconds = 3
	}
	if o.AutoNormalizeRMSDBFS == 0 {
		o.AutoNormalizeRMSDBFS = -14
	}
}

// Deck owns one track and everything needed to play it: the decoded
// buffer, the render cursor, the SPSC ring to the mixer, the fill worker
// and the tempo controls. Mixer-facing methods never block or allocate.
type Deck struct {
	ID         string
	sampleRate int

	master  *clock.MasterClock
	clk     *clock.AudioClock
	Stretch *stretch.Engine
	cache   *analysis.Cache
	log     *zap.Logger
	opts    Options

	buf *ring.Buffer

	trk    atomic.Pointer[Track]
	status atomic.Int32
	token  atomic.Uint32

	// fillMu orders the producer side of the ring against clears.
	fillMu  sync.Mutex
	fillPos float64

	posSamples  atomic.Uint64
	playing     atomic.Bool
	underruns   atomic.Uint64
	tempoBits   atomic.Uint64
	nudgeBits   atomic.Uint64
	volumeBits  atomic.Uint64
	bpmBits     atomic.Uint64
	bpmConfBits atomic.Uint64
	targetBits  atomic.Uint64 // bpm target, 0 = unset

	mu         sync.Mutex // control-path state below
	pitchRange PitchRange
	keyResult  analysis.KeyResult
	grid       *tempo.BeatGrid

	workerOnce    sync.Once
	closeOnce     sync.Once
	workerStarted atomic.Bool
	workerStop    chan struct{}
	workerDone    chan struct{}
	fillBuf       []float32
}

// New creates an empty deck wired to the master clock and analysis cache.
func New(id string, master *clock.MasterClock, cache *analysis.Cache, log *zap.Logger, opts Options) *Deck {
	opts.fill()
	if log == nil {
		log = zap.NewNop()
	}
	if cache == nil {
		cache = analysis.NewCache(log)
	}
	sr := master.SampleRate()
	d := &Deck{
		ID:         id,
		sampleRate: sr,
		master:     master,
		clk:        clock.NewAudioClock(master),
		Stretch:    stretch.NewEngine(sr, opts.StretchOptions...),
		cache:      cache,
		log:        log.With(zap.String("deck", id)),
		opts:       opts,
		buf:        ring.New(int(opts.RingCapacitySeconds * float64(sr))),
		pitchRange: PitchRange8,
		workerStop: make(chan struct{}),
		workerDone: make(chan struct{}),
		fillBuf:    make([]float32, fillChunkFrames*2),
	}
	d.tempoBits.Store(math.Float64bits(1.0))
	d.nudgeBits.Store(math.Float64bits(1.0))
	d.volumeBits.Store(math.Float64bits(1.0))
	d.status.Store(int32(StatusEmpty))
	return d
}

// Close stops the fill worker. The deck is unusable afterwards.
func (d *Deck) Close() {
	d.playing.Store(false)
	d.closeOnce.Do(func() { close(d.workerStop) })
	if d.workerStarted.Load() {
		<-d.workerDone
	}
}

// Status returns the transport state.
func (d *Deck) Status() Status { return Status(d.status.Load()) }

// Track returns the loaded track, or nil.
func (d *Deck) Track() *Track { return d.trk.Load() }

// LoadToken returns the current load generation. Async analysis results
// carrying an older token are dropped.
func (d *Deck) LoadToken() uint32 { return d.token.Load() }

// LoadTrack decodes path and installs it. On failure the previous track,
// transport state and status are untouched.
func (d *Deck) LoadTrack(path string) error {
	token := d.token.Add(1)
	prevStatus := d.Status()
	d.status.Store(int32(StatusLoading))

	restore := func() { d.status.Store(int32(prevStatus)) }

	info, err := os.Stat(path)
	if err != nil {
		restore()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	samples, err := DecodeFile(path, d.sampleRate)
	if err != nil {
		restore()
		return err
	}
	uid := analysis.TrackUID(path, info.Size(), info.ModTime())
	trk, err := NewTrackFromBuffer(samples, d.sampleRate, path, uid, d.opts.AutoNormalizeRMSDBFS)
	if err != nil {
		restore()
		return err
	}

	d.installTrack(trk, token)
	d.log.Info("track loaded",
		zap.String("name", trk.Name),
		zap.Float64("duration", trk.Duration),
		zap.Float64("gain", trk.Gain))
	return nil
}

// installTrack swaps in a decoded track and resets the playback path.
func (d *Deck) installTrack(trk *Track, token uint32) {
	d.playing.Store(false)
	d.fillMu.Lock()
	d.trk.Store(trk)
	d.buf.Clear()
	d.fillPos = 0
	d.posSamples.Store(0)
	d.fillMu.Unlock()

	d.Stretch.Reset()
	d.Stretch.SetCorrection(1.0)
	d.clk.Reset()
	d.tempoBits.Store(math.Float64bits(1.0))
	d.nudgeBits.Store(math.Float64bits(1.0))
	d.targetBits.Store(0)
	d.Stretch.SetTempo(1.0)
	d.bpmBits.Store(0)
	d.bpmConfBits.Store(0)

	d.mu.Lock()
	d.keyResult = analysis.KeyResult{}
	d.grid = nil
	d.mu.Unlock()

	d.status.Store(int32(StatusReady))
	d.consultCachesAndAnalyze(trk, token)
}

// consultCachesAndAnalyze resolves BPM/key/tempo map from the in-memory
// cache and sidecars, spawning analyzers only for what is still missing.
func (d *Deck) consultCachesAndAnalyze(trk *Track, token uint32) {
	haveBPM, haveKey := false, false

	if res, ok := d.cache.Get(trk.UID); ok {
		if res.HasBPM() {
			d.setDetectedBPM(res.BPM, res.Confidence)
			haveBPM = true
		}
		if res.HasKey() {
			d.setKey(analysis.KeyResult{KeyName: res.KeyName, Camelot: res.Camelot, Confidence: res.KeyConfidence})
			haveKey = true
		}
		if res.TempoMap != nil {
			d.setGridFromMap(res.TempoMap, res.BPM)
		}
	}

	if !haveBPM {
		if sc, err := analysis.ReadBPMSidecar(trk.Path); err == nil {
			d.setDetectedBPM(sc.BPM, sc.Confidence)
			d.cache.Store(analysis.Result{UID: trk.UID, BPM: sc.BPM, Confidence: sc.Confidence, Method: sc.Method})
			haveBPM = true
		}
	}
	if !haveKey {
		if sc, err := analysis.ReadKeySidecar(trk.Path); err == nil {
			key := analysis.KeyResult{KeyName: sc.KeyName, Camelot: sc.Camelot, Confidence: sc.Confidence}
			d.setKey(key)
			d.cache.Store(analysis.Result{UID: trk.UID, KeyName: sc.KeyName, Camelot: sc.Camelot, KeyConfidence: sc.Confidence})
			haveKey = true
		}
	}
	if d.beatGrid() == nil {
		if tm, err := analysis.ReadTempoMapSidecar(trk.Path); err == nil {
			d.setGridFromMap(tm, tm.AverageBPM())
			d.cache.Store(analysis.Result{UID: trk.UID, TempoMap: tm})
		}
	}

	if d.opts.DisableAnalysis {
		return
	}
	if !haveBPM {
		go d.bpmWorker(trk, token)
	}
	if !haveKey {
		go d.keyWorker(trk, token)
	}
}

func (d *Deck) bpmWorker(trk *Track, token uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := analysis.DetectBPM(ctx, trk.Mono(), trk.SampleRate)
	if err != nil {
		d.log.Warn("bpm analysis failed", zap.String("name", trk.Name), zap.Error(err))
		return
	}
	bpm, conf, ok := analysis.NormalizeBPM(res.BPM, res.Confidence)
	if !ok {
		d.log.Warn("bpm rejected", zap.Float64("bpm", res.BPM))
		return
	}
	d.OnBPMDetected(bpm, conf, res.Method, token)
}

func (d *Deck) keyWorker(trk *Track, token uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := analysis.DetectKey(ctx, trk.Mono(), trk.SampleRate)
	if err != nil {
		d.log.Warn("key analysis failed", zap.String("name", trk.Name), zap.Error(err))
		return
	}
	d.OnKeyDetected(res, token)
}

// OnBPMDetected publishes a BPM analysis result. Results from a superseded
// load (stale token) are dropped.
func (d *Deck) OnBPMDetected(bpm, confidence float64, method string, token uint32) {
	if token != d.token.Load() {
		d.log.Debug("bpm result dropped", zap.Uint32("token", token))
		return
	}
	trk := d.trk.Load()
	if trk == nil {
		return
	}
	d.setDetectedBPM(bpm, confidence)
	d.cache.Store(analysis.Result{UID: trk.UID, BPM: bpm, Confidence: confidence, Method: method})
	if err := analysis.WriteBPMSidecar(trk.Path, analysis.BPMSidecar{
		BPM: bpm, Confidence: confidence, Method: method, SampleRate: analysis.AnalysisRate,
	}); err != nil {
		d.log.Warn("bpm sidecar write failed", zap.Error(err))
	}
	d.log.Info("bpm detected", zap.Float64("bpm", bpm), zap.Float64("confidence", confidence))
}

// OnKeyDetected publishes a key analysis result under the same token rule.
func (d *Deck) OnKeyDetected(key analysis.KeyResult, token uint32) {
	if token != d.token.Load() {
		d.log.Debug("key result dropped", zap.Uint32("token", token))
		return
	}
	trk := d.trk.Load()
	if trk == nil {
		return
	}
	d.setKey(key)
	d.cache.Store(analysis.Result{UID: trk.UID, KeyName: key.KeyName, Camelot: key.Camelot, KeyConfidence: key.Confidence})
	if err := analysis.WriteKeySidecar(trk.Path, analysis.KeySidecar{
		KeyName: key.KeyName, Camelot: key.Camelot, Confidence: key.Confidence, Method: key.Method,
	}); err != nil {
		d.log.Warn("key sidecar write failed", zap.Error(err))
	}
	d.log.Info("key detected", zap.String("key", key.KeyName), zap.String("camelot", key.Camelot))
}

func (d *Deck) setDetectedBPM(bpm, confidence float64) {
	d.bpmBits.Store(math.Float64bits(bpm))
	d.bpmConfBits.Store(math.Float64bits(confidence))
	if d.beatGrid() == nil && bpm > 0 {
		if tm, err := tempo.FromConstantBPM(bpm, d.sampleRate, 0); err == nil {
			d.setGridFromMap(tm, bpm)
		}
	}
}

func (d *Deck) setKey(key analysis.KeyResult) {
	d.mu.Lock()
	d.keyResult = key
	d.mu.Unlock()
}

func (d *Deck) setGridFromMap(tm *tempo.Map, bpm float64) {
	if bpm <= 0 {
		bpm = tm.AverageBPM()
	}
	grid, err := tempo.NewBeatGrid(bpm, 0, d.sampleRate, tm)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.grid = grid
	d.mu.Unlock()
}

func (d *Deck) beatGrid() *tempo.BeatGrid {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grid
}

// BeatGrid returns the deck's beat grid, or nil before BPM is known.
func (d *Deck) BeatGrid() *tempo.BeatGrid { return d.beatGrid() }

// Key returns the detected key result (zero value when unknown).
func (d *Deck) Key() analysis.KeyResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keyResult
}

// ---- transport ----

// Play starts or resumes playback.
func (d *Deck) Play() error {
	if d.trk.Load() == nil {
		return ErrNoTrack
	}
	d.startWorker()
	d.clk.SetRate(d.Stretch.EffectiveTempo())
	d.clk.PlayFromSamples(uint64(d.audiblePosition()))
	d.playing.Store(true)
	d.status.Store(int32(StatusPlaying))
	return nil
}

// Pause freezes playback, keeping the position.
func (d *Deck) Pause() {
	if d.Status() != StatusPlaying {
		return
	}
	d.playing.Store(false)
	d.clk.Pause()
	d.status.Store(int32(StatusPaused))
}

// Stop halts playback and rewinds to the start.
func (d *Deck) Stop() {
	if d.trk.Load() == nil {
		return
	}
	d.playing.Store(false)
	d.fillMu.Lock()
	d.buf.Clear()
	d.fillPos = 0
	d.posSamples.Store(0)
	d.fillMu.Unlock()
	d.Stretch.Reset()
	d.clk.Reset()
	d.status.Store(int32(StatusReady))
}

// Seek moves the playback cursor, clearing the ring and re-anchoring the
// audio clock.
func (d *Deck) Seek(seconds float64) {
	trk := d.trk.Load()
	if trk == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds > trk.Duration {
		seconds = trk.Duration
	}
	pos := seconds * float64(d.sampleRate)

	d.fillMu.Lock()
	d.buf.Clear()
	d.fillPos = pos
	d.posSamples.Store(uint64(pos))
	d.fillMu.Unlock()

	d.Stretch.Reset()
	d.clk.PlayFromSamples(uint64(pos))
	if !d.playing.Load() {
		d.clk.Pause()
	}
}

// ---- tempo control ----

// EffectiveRatio returns tempo x nudge, the user-controlled playback speed.
func (d *Deck) EffectiveRatio() float64 {
	return d.TempoRatio() * d.NudgeRatio()
}

// TempoRatio returns the tempo slider value.
func (d *Deck) TempoRatio() float64 { return math.Float64frombits(d.tempoBits.Load()) }

// NudgeRatio returns the transient nudge multiplier.
func (d *Deck) NudgeRatio() float64 { return math.Float64frombits(d.nudgeBits.Load()) }

// SetTempo sets the tempo ratio, clamped into the active pitch range.
func (d *Deck) SetTempo(ratio float64) {
	lo, hi := d.PitchRangeBounds()
	if ratio < lo {
		ratio = lo
	}
	if ratio > hi {
		ratio = hi
	}
	d.tempoBits.Store(math.Float64bits(ratio))
	d.applyRatio()
}

// SetNudge sets the nudge multiplier (1.0 = none).
func (d *Deck) SetNudge(ratio float64) {
	if ratio <= 0 {
		ratio = 1.0
	}
	d.nudgeBits.Store(math.Float64bits(ratio))
	d.applyRatio()
}

// SetBPMTarget drives the tempo ratio from a BPM knob: target/detected,
// or target/100 when no BPM was detected.
func (d *Deck) SetBPMTarget(bpm float64) {
	d.targetBits.Store(math.Float64bits(bpm))
	if det := d.DetectedBPM(); det > 0 {
		d.SetTempo(bpm / det)
	} else {
		d.SetTempo(bpm / 100.0)
	}
}

// BPMTarget returns the BPM knob value, 0 when unset.
func (d *Deck) BPMTarget() float64 { return math.Float64frombits(d.targetBits.Load()) }

func (d *Deck) applyRatio() {
	eff := d.EffectiveRatio()
	d.Stretch.SetTempo(eff)
	d.clk.SetRate(d.Stretch.EffectiveTempo())
}

// ApplySyncCorrection is the phase-sync hook: it multiplies the stretch
// engine's tempo without touching the user's tempo or nudge.
func (d *Deck) ApplySyncCorrection(c float64) {
	d.Stretch.SetCorrection(c)
	d.clk.SetRate(d.Stretch.EffectiveTempo())
}

// SetKeyLock toggles pitch-preserving stretch.
func (d *Deck) SetKeyLock(enabled bool) { d.Stretch.SetKeyLock(enabled) }

// KeyLock reports whether the stretch path is active.
func (d *Deck) KeyLock() bool { return d.Stretch.KeyLockEnabled() }

// SetPitchRange selects the pitch slider limits.
func (d *Deck) SetPitchRange(r PitchRange) {
	if _, ok := PitchRangeBounds[r]; !ok {
		return
	}
	d.mu.Lock()
	d.pitchRange = r
	d.mu.Unlock()
}

// PitchRange returns the active preset.
func (d *Deck) PitchRange() PitchRange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pitchRange
}

// PitchRangeBounds returns the active preset's ratio limits.
func (d *Deck) PitchRangeBounds() (float64, float64) {
	b := PitchRangeBounds[d.PitchRange()]
	return b[0], b[1]
}

// ---- sync ----

// chooseMultiplier picks the half/double-time variant of the raw ratio
// that needs the smallest tempo change.
func chooseMultiplier(raw float64) float64 {
	best := raw
	for _, c := range []float64{0.5 * raw, raw, 2.0 * raw} {
		if math.Abs(c-1.0) < math.Abs(best-1.0) {
			best = c
		}
	}
	return best
}

// SyncTo matches this deck's tempo to the master deck's playing BPM: the
// raw ratio is corrected for half/double time, clamped into the pitch
// range, and applied over an 80 ms linear ramp of 8 steps. Returns the
// applied ratio and whether the pitch range limited it.
func (d *Deck) SyncTo(master *Deck) (float64, bool, error) {
	myBPM := d.DetectedBPM()
	masterBPM := master.DetectedBPM()
	if myBPM <= 0 || masterBPM <= 0 {
		return 0, false, ErrMissingBPM
	}
	playing := masterBPM * master.EffectiveRatio()
	raw := playing / myBPM
	adjusted := chooseMultiplier(raw)

	lo, hi := d.PitchRangeBounds()
	clamped := adjusted
	if clamped < lo {
		clamped = lo
	}
	if clamped > hi {
		clamped = hi
	}
	hitLimit := clamped != adjusted
	clamped = math.Round(clamped*1000) / 1000

	const steps = 8
	start := d.TempoRatio()
	for i := 1; i <= steps; i++ {
		d.SetTempo(start + (clamped-start)*float64(i)/steps)
		time.Sleep(10 * time.Millisecond)
	}
	d.log.Info("synced",
		zap.String("master", master.ID),
		zap.Float64("ratio", clamped),
		zap.Bool("hit_limit", hitLimit))
	return clamped, hitLimit, nil
}

// ---- telemetry ----

// DetectedBPM returns the analyzed BPM, 0 when unknown.
func (d *Deck) DetectedBPM() float64 { return math.Float64frombits(d.bpmBits.Load()) }

// BPMConfidence returns the confidence of the BPM estimate.
func (d *Deck) BPMConfidence() float64 { return math.Float64frombits(d.bpmConfBits.Load()) }

// Playing reports whether the transport is running.
func (d *Deck) Playing() bool { return d.playing.Load() }

// Underruns returns the count of pulls that came up short.
func (d *Deck) Underruns() uint64 { return d.underruns.Load() }

// Volume returns the deck volume applied by the fill worker.
func (d *Deck) Volume() float64 { return math.Float64frombits(d.volumeBits.Load()) }

// SetVolume sets the deck volume in [0,1].
func (d *Deck) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	d.volumeBits.Store(math.Float64bits(v))
}

// RenderPositionSamples returns the fill worker's render cursor. It leads
// the audible position by whatever is buffered in the ring.
func (d *Deck) RenderPositionSamples() uint64 { return d.posSamples.Load() }

// PositionSamples returns the audible position in source samples, derived
// from the audio clock, clamped to the track length.
func (d *Deck) PositionSamples() uint64 {
	trk := d.trk.Load()
	if trk == nil {
		return 0
	}
	pos := d.clk.PositionSamples()
	if pos > uint64(trk.Frames) {
		pos = uint64(trk.Frames)
	}
	return pos
}

// PositionSeconds returns the audible position in seconds.
func (d *Deck) PositionSeconds() float64 {
	return float64(d.PositionSamples()) / float64(d.sampleRate)
}

// NowSeconds exposes the audio clock reading used by the phase sync.
func (d *Deck) NowSeconds() float64 { return d.clk.NowSeconds() }

// BeatOffsetSeconds returns the time of the first beat from the beat grid,
// 0 when no grid exists yet.
func (d *Deck) BeatOffsetSeconds() float64 {
	if g := d.beatGrid(); g != nil {
		return g.BeatOffset
	}
	return 0
}

// audiblePosition estimates the source position the listener currently
// hears: the render cursor minus what is still queued in the ring.
func (d *Deck) audiblePosition() float64 {
	d.fillMu.Lock()
	defer d.fillMu.Unlock()
	buffered := float64(d.buf.LenFrames()) * d.Stretch.EffectiveTempo()
	pos := d.fillPos - buffered
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Pull is the consumer side of the ring, called only by the audio
// callback. Missing frames are zero-filled and counted as an underrun.
// It never blocks and never allocates.
func (d *Deck) Pull(dst []float32, frames int) {
	want := frames * 2
	got := d.buf.Read(dst[:want]) * 2
	if got < want {
		for i := got; i < want; i++ {
			dst[i] = 0
		}
		if d.playing.Load() {
			d.underruns.Add(1)
		}
	}
}
