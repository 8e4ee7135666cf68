package audio

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/deckmix/pkg/analysis"
	"github.com/anthropics/deckmix/pkg/clock"
	"github.com/anthropics/deckmix/pkg/deck"
	"github.com/anthropics/deckmix/pkg/phasesync"
	"github.com/anthropics/deckmix/pkg/stretch"
)

var (
	// ErrDeviceUnavailable means the output device could not be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrSampleRateUnsupported means the device rejected the configured rate.
	ErrSampleRateUnsupported = errors.New("sample rate unsupported")
	// ErrAlreadyStarted means Start was called on a running engine.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrSyncActive means a sync session is already running.
	ErrSyncActive = errors.New("sync already enabled")
)

// Config holds the engine construction options.
type Config struct {
	SampleRate           int
	BlockSize            int
	LatencyMS            float64
	RingCapacitySeconds  float64
	AutoNormalizeRMSDBFS float64
	LimiterCeiling       float64
	SyncUpdateHz         float64
	PLLGains             phasesync.Gains
	MaxSyncCorrection    float64

	Logger          *zap.Logger
	DisableAnalysis bool
	StretchOptions  []stretch.Option
}

func (c *Config) fillDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 4096
	}
	if c.LatencyMS <= 0 {
		c.LatencyMS = 120
	}
	if c.RingCapacitySeconds <= 0 {
		c.RingCapacitySeconds = 3
	}
	if c.AutoNormalizeRMSDBFS == 0 {
		c.AutoNormalizeRMSDBFS = -14
	}
	if c.LimiterCeiling <= 0 {
		c.LimiterCeiling = 0.95
	}
	if c.SyncUpdateHz <= 0 {
		c.SyncUpdateHz = 20
	}
	if c.PLLGains == (phasesync.Gains{}) {
		c.PLLGains = phasesync.DefaultGains
	}
	if c.MaxSyncCorrection <= 0 {
		c.MaxSyncCorrection = phasesync.DefaultMaxCorrection
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Engine is the root object: it owns the master clock, both decks, the
// mixer and the output device, and runs the sync controller's timer.
type Engine struct {
	cfg   Config
	log   *zap.Logger
	clk   *clock.MasterClock
	cache *analysis.Cache
	deckA *deck.Deck
	deckB *deck.Deck
	mixer *Mixer

	mu       sync.Mutex
	device   *Device
	sync     *phasesync.Controller
	syncStop chan struct{}
	syncDone chan struct{}
}

// NewEngine builds a stopped engine from the config.
func NewEngine(cfg Config) *Engine {
	cfg.fillDefaults()
	log := cfg.Logger
	clk := clock.NewMasterClock(cfg.SampleRate)
	cache := analysis.NewCache(log)
	opts := deck.Options{
		RingCapacitySeconds:  cfg.RingCapacitySeconds,
		AutoNormalizeRMSDBFS: cfg.AutoNormalizeRMSDBFS,
		DisableAnalysis:      cfg.DisableAnalysis,
		StretchOptions:       cfg.StretchOptions,
	}
	a := deck.New("A", clk, cache, log, opts)
	b := deck.New("B", clk, cache, log, opts)
	return &Engine{
		cfg:   cfg,
		log:   log,
		clk:   clk,
		cache: cache,
		deckA: a,
		deckB: b,
		mixer: NewMixer(clk, a, b, cfg.BlockSize, cfg.LimiterCeiling),
	}
}

// DeckA returns the left deck.
func (e *Engine) DeckA() *deck.Deck { return e.deckA }

// DeckB returns the right deck.
func (e *Engine) DeckB() *deck.Deck { return e.deckB }

// Mixer returns the mixer.
func (e *Engine) Mixer() *Mixer { return e.mixer }

// Clock returns the master clock.
func (e *Engine) Clock() *clock.MasterClock { return e.clk }

// Cache returns the analysis cache shared by both decks.
func (e *Engine) Cache() *analysis.Cache { return e.cache }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start opens the output device and begins the master clock, propagating
// the device's actual latency into the clock's compensation.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device != nil {
		return ErrAlreadyStarted
	}
	dev, err := openDevice(e.mixer, e.cfg.SampleRate, e.cfg.BlockSize, e.cfg.LatencyMS)
	if err != nil {
		return err
	}
	e.clk.Start(dev.LatencyMS())
	dev.Play()
	e.device = dev
	e.log.Info("engine started",
		zap.Int("sample_rate", e.cfg.SampleRate),
		zap.Int("block_size", e.cfg.BlockSize),
		zap.Float64("latency_ms", dev.LatencyMS()))
	return nil
}

// Stop closes the output device and halts the master clock. Deck state is
// left intact.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device != nil {
		e.device.Close()
		e.device = nil
	}
	e.clk.Stop()
}

// Close stops everything, including the decks' fill workers.
func (e *Engine) Close() {
	e.DisableSync()
	e.Stop()
	e.deckA.Close()
	e.deckB.Close()
}

// EnableSync starts phase-locking slave to master at the configured update
// rate. Fails when either deck lacks a BPM.
func (e *Engine) EnableSync(master, slave *deck.Deck) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sync != nil {
		return ErrSyncActive
	}
	ctrl := phasesync.New(master, slave, e.cfg.PLLGains, e.cfg.MaxSyncCorrection)
	if err := ctrl.Enable(); err != nil {
		return err
	}
	e.sync = ctrl
	e.syncStop = make(chan struct{})
	e.syncDone = make(chan struct{})
	interval := time.Duration(float64(time.Second) / e.cfg.SyncUpdateHz)
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctrl.Update()
			}
		}
	}(e.syncStop, e.syncDone)
	e.log.Info("sync enabled", zap.String("master", master.ID), zap.String("slave", slave.ID))
	return nil
}

// DisableSync stops the sync session, releasing the slave's correction.
func (e *Engine) DisableSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sync == nil {
		return
	}
	close(e.syncStop)
	<-e.syncDone
	e.sync.Disable()
	e.sync = nil
}

// Sync returns the active controller, or nil.
func (e *Engine) Sync() *phasesync.Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sync
}
