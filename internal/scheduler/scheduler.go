// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package scheduler runs the detection loop: snapshot the buffer, window it,
// invoke the matched-filter engine, decluster and persist the results, then
// sleep until the next cycle. It owns the template collection and the running
// detection set; a mutex serializes detection cycles against runtime template
// mutation so neither ever observes the other mid-change.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtseis/rtseis/internal/buffer"
	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/metrics"
	"github.com/rtseis/rtseis/internal/streaming"
	"github.com/rtseis/rtseis/internal/template"
	"github.com/rtseis/rtseis/internal/wavebank"
	"github.com/rtseis/rtseis/internal/waveform"
)

// State names the scheduler's lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateWaitingData State = "waiting_for_data"
	StateDetecting   State = "detecting"
	StateSleeping    State = "sleeping"
	StateStopped     State = "stopped"
)

// ErrAlreadyRunning is returned when a background run is started twice.
var ErrAlreadyRunning = errors.New("scheduler: already running")

// intervalGrowthPad is added to a cycle's elapsed time when the cycle
// overruns the detection interval.
const intervalGrowthPad = 10 * time.Second

// shortChannelFraction is the minimum share of expected samples a channel
// must hold to take part in a cycle.
const shortChannelFraction = 0.8

// snippetPad extends the persisted waveform snippet before the detection
// time.
const snippetPad = 10 * time.Second

// Persister writes one handled detection and its waveform snippet.
// Satisfied by catalog.Store.
type Persister interface {
	Write(ctx context.Context, d *detect.Detection, snippet *waveform.Stream) (string, error)
}

// Notifier publishes detection and lifecycle alerts. Satisfied by
// notify.Notifier.
type Notifier interface {
	Detection(d *detect.Detection)
	Status(state, reason string)
}

// BulkSource serves historical multi-channel reads for template catch-up.
// Satisfied by wavebank.Bank.
type BulkSource interface {
	GetBulk(reqs []wavebank.Request) (waveform.Stream, error)
}

// Config carries the scheduler's tunables.
type Config struct {
	// DetectInterval is the starting cadence between cycles. It grows when
	// cycles overrun (never shrinks automatically).
	DetectInterval time.Duration

	// MaxRunLength stops the detector after this much run time. Zero means
	// run until stopped.
	MaxRunLength time.Duration

	// KeepDetections is how long a detection stays in the running set,
	// measured against the latest buffered data time.
	KeepDetections time.Duration

	// MinimumRate, in detections per hour, stops the detector when the
	// observed rate over the evaluation window drops below it. Zero
	// disables the check.
	MinimumRate float64

	// MaximumBackfill bounds the historical window fetched when templates
	// are added at runtime. Zero means from the beginning of the archive.
	MaximumBackfill time.Duration

	// BackfillTo, when set, triggers startup backfill: each buffered
	// channel is reconciled from this time up to its earliest buffered
	// sample.
	BackfillTo time.Time

	// SpeedUp scales every sleep for simulated replay. 1 (the default) is
	// live operation.
	SpeedUp float64

	// Params are handed to the engine on every invocation.
	Params detect.Params

	// DetectDir is created at startup for detection output.
	DetectDir string
}

// Deps are the scheduler's collaborators. Client and Engine are required;
// the rest degrade to no-ops when nil.
type Deps struct {
	Client   streaming.Client
	Engine   detect.Engine
	Backfill streaming.Source
	Bank     BulkSource
	Store    Persister
	Notifier Notifier
}

// Scheduler is the detection loop controller.
type Scheduler struct {
	cfg  Config
	deps Deps

	// cycleMu serializes a detection cycle against template mutation.
	cycleMu   sync.Mutex
	templates *template.Collection
	party     *detect.Party
	handled   map[*detect.Detection]struct{}

	mu            sync.Mutex
	state         State
	interval      time.Duration
	iteration     int
	runStart      time.Time
	firstData     time.Time
	templateNames []string

	detCount atomic.Int64

	running atomic.Bool
	cancel  context.CancelFunc
	runWG   sync.WaitGroup
}

// Status is a point-in-time view of the detector for the operational API.
type Status struct {
	State             State     `json:"state"`
	Running           bool      `json:"running"`
	IntervalSeconds   float64   `json:"interval_seconds"`
	Iteration         int       `json:"iteration"`
	RunStart          time.Time `json:"run_start"`
	FirstData         time.Time `json:"first_data"`
	Detections        int       `json:"detections"`
	Templates         []string  `json:"templates"`
	BufferChannels    int       `json:"buffer_channels"`
	BufferSpanSeconds float64   `json:"buffer_span_seconds"`
}

// Status reports the detector's current state. Safe to call from any
// goroutine; never blocks on an in-progress cycle.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		State:           s.state,
		IntervalSeconds: s.interval.Seconds(),
		Iteration:       s.iteration,
		RunStart:        s.runStart,
		FirstData:       s.firstData,
		Templates:       s.templateNames,
	}
	s.mu.Unlock()

	st.Running = s.running.Load()
	st.Detections = int(s.detCount.Load())
	buf := s.deps.Client.Buffer()
	st.BufferChannels = buf.ChannelCount()
	st.BufferSpanSeconds = buf.MaxSpan().Seconds()
	return st
}

// New creates a scheduler over the given collaborators and initial template
// set.
func New(cfg Config, deps Deps, templates ...template.Template) (*Scheduler, error) {
	if deps.Client == nil {
		return nil, errors.New("scheduler: client is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	if cfg.DetectInterval <= 0 {
		return nil, errors.New("scheduler: detect interval must be positive")
	}
	if cfg.KeepDetections <= 0 {
		cfg.KeepDetections = 24 * time.Hour
	}
	if cfg.SpeedUp <= 0 {
		cfg.SpeedUp = 1
	}

	for i := range templates {
		if err := templates[i].Validate(); err != nil {
			return nil, err
		}
	}
	coll := template.NewCollection(templates...)

	return &Scheduler{
		cfg:           cfg,
		deps:          deps,
		templates:     coll,
		party:         detect.NewParty(),
		handled:       make(map[*detect.Detection]struct{}),
		state:         StateIdle,
		interval:      cfg.DetectInterval,
		templateNames: coll.Names(),
	}, nil
}

// Background starts Run on a goroutine.
func (s *Scheduler) Background() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.setCancel(cancel)
	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer s.running.Store(false)
		if err := s.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Detector stopped with error")
		}
	}()
	return nil
}

// Stop halts a running detector and joins it, whether it was started by
// Background or by a direct Run call. Idempotent; no detection side effects
// fire after it returns.
func (s *Scheduler) Stop() {
	if !s.running.Load() {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.runWG.Wait()
}

// Run executes the detection loop until the context is cancelled, Stop is
// called, a stop condition fires, or the engine fails fatally. A fatal
// engine error is returned; orderly stops return nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)
	s.runWG.Add(1)
	defer func() {
		cancel()
		s.running.Store(false)
		s.runWG.Done()
	}()
	return s.run(ctx)
}

func (s *Scheduler) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) error {
	defer s.teardown()

	if err := s.startup(ctx); err != nil {
		return err
	}
	if err := s.waitForData(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.runStart = time.Now()
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cycleStart := time.Now()
		fatal, retryable := s.cycle(ctx)
		if fatal != nil {
			logging.Error().Err(fatal).Msg("Fatal engine failure, stopping detector")
			s.notifyStatus(string(StateStopped), fatal.Error())
			return fatal
		}
		elapsed := time.Since(cycleStart)
		metrics.DetectionCycleDuration.Observe(elapsed.Seconds())

		// A failed cycle sleeps one full interval and does not grow the
		// cadence; only completed cycles count against the interval.
		if retryable != nil {
			logging.Warn().Err(retryable).Dur("retry_in", s.currentInterval()).
				Msg("Detection cycle failed, retrying next interval")
			s.setState(StateSleeping)
			if err := s.sleep(ctx, s.currentInterval()); err != nil {
				return err
			}
			if reason := s.stopCondition(); reason != "" {
				logging.Info().Str("reason", reason).Msg("Stop condition met")
				s.notifyStatus(string(StateStopped), reason)
				return nil
			}
			continue
		}

		s.growInterval(elapsed)

		s.setState(StateSleeping)
		if err := s.sleep(ctx, s.currentInterval()-elapsed); err != nil {
			return err
		}

		if reason := s.stopCondition(); reason != "" {
			logging.Info().Str("reason", reason).Msg("Stop condition met")
			s.notifyStatus(string(StateStopped), reason)
			return nil
		}
	}
}

// startup creates the output directory, starts the ingestion client,
// subscribes template channels and reconciles pre-stream gaps.
func (s *Scheduler) startup(ctx context.Context) error {
	s.setState(StateStarting)
	s.notifyStatus(string(StateStarting), "")

	if s.cfg.DetectDir != "" {
		if err := os.MkdirAll(s.cfg.DetectDir, 0o755); err != nil {
			return fmt.Errorf("create detect dir: %w", err)
		}
	}

	if !s.deps.Client.Streaming() {
		if err := s.deps.Client.BackgroundRun(); err != nil && !errors.Is(err, streaming.ErrAlreadyStreaming) {
			return fmt.Errorf("start ingestion client: %w", err)
		}
	}

	s.cycleMu.Lock()
	channels := s.templates.Channels()
	s.cycleMu.Unlock()
	if s.deps.Client.CanAddChannels() {
		for _, id := range channels {
			if err := s.deps.Client.Select(id); err != nil {
				logging.Warn().Err(err).Str("channel", string(id)).Msg("Failed to subscribe channel")
			}
		}
	}

	s.backfillOnStart(ctx, channels)
	return nil
}

// backfillOnStart fills each buffered channel from BackfillTo up to its
// earliest buffered sample. Per-channel failures are logged and skipped.
func (s *Scheduler) backfillOnStart(ctx context.Context, channels []waveform.ChannelID) {
	if s.deps.Backfill == nil || s.cfg.BackfillTo.IsZero() {
		return
	}
	buf := s.deps.Client.Buffer()
	for _, id := range channels {
		if ctx.Err() != nil {
			return
		}
		earliest, ok := buf.Earliest(id)
		if !ok || !s.cfg.BackfillTo.Before(earliest) {
			continue
		}
		packets, err := s.deps.Backfill.GetWaveform(id, s.cfg.BackfillTo, earliest)
		if err != nil {
			metrics.BackfillErrors.WithLabelValues(string(id)).Inc()
			logging.Warn().Err(err).Str("channel", string(id)).
				Time("from", s.cfg.BackfillTo).Time("to", earliest).
				Msg("Backfill failed, continuing without")
			continue
		}
		for _, p := range packets {
			if err := buf.Append(p); err != nil {
				logging.Warn().Err(err).Str("channel", string(id)).Msg("Dropped malformed backfill packet")
			}
		}
		logging.Info().Str("channel", string(id)).Int("packets", len(packets)).Msg("Backfilled channel")
	}
}

// waitForData blocks until the buffer covers the template channel set and
// the longest process length. Channel coverage is bounded by a ceiling of
// min(60s, capacity), after which the loop proceeds with the channels it
// has; accumulating the process length is not bounded and polls until the
// buffer spans enough data for a first pass.
func (s *Scheduler) waitForData(ctx context.Context) error {
	s.setState(StateWaitingData)

	buf := s.deps.Client.Buffer()
	ceiling := 60 * time.Second
	if c := buf.Capacity(); c < ceiling {
		ceiling = c
	}

	deadline := time.Now().Add(s.scaled(ceiling))
	for !s.channelsPresent(buf) {
		if time.Now().After(deadline) {
			logging.Warn().Dur("waited", ceiling).Int("channels", buf.ChannelCount()).
				Msg("Wait-for-data ceiling reached, proceeding with partial channel coverage")
			break
		}
		if err := s.sleep(ctx, time.Second); err != nil {
			return err
		}
	}

	for buf.MaxSpan() < s.requiredSpan() {
		if err := s.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) channelsPresent(buf *buffer.Buffer) bool {
	s.cycleMu.Lock()
	channels := s.templates.Channels()
	s.cycleMu.Unlock()

	for _, id := range channels {
		if _, ok := buf.Earliest(id); !ok {
			return false
		}
	}
	return true
}

func (s *Scheduler) requiredSpan() time.Duration {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.templates.MaxProcessLength()
}

// cycle runs one snapshot-detect-handle pass. It returns a fatal error, a
// retryable error, or neither.
func (s *Scheduler) cycle(ctx context.Context) (fatal, retryable error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.setState(StateDetecting)

	st := s.deps.Client.Buffer().Snapshot()
	if len(st.Traces) == 0 {
		return nil, errors.New("buffer empty, no data to scan")
	}
	latest := st.Latest()
	s.captureFirstData(st.Earliest())

	processLength := s.templates.MaxProcessLength()

	// The first cycle scans the full available history; later cycles trim
	// to the most recent process-length window.
	if s.iterationCount() > 0 && processLength > 0 {
		st = st.Trim(latest.Add(-processLength+time.Nanosecond), latest)
	}

	st = dropShortChannels(st, processLength)
	if len(st.Traces) == 0 {
		return nil, errors.New("all channels below required data length")
	}

	groups, err := s.deps.Engine.Detect(ctx, st, s.templates.Templates(), s.cfg.Params)
	if err != nil {
		class := detect.Classify(err)
		metrics.EngineFailures.WithLabelValues(class.String()).Inc()
		if class == detect.Fatal {
			return err, nil
		}
		return nil, err
	}

	s.handleDetections(ctx, groups, &st, latest)

	s.mu.Lock()
	s.iteration++
	s.mu.Unlock()
	return nil, nil
}

// dropShortChannels removes traces holding fewer than the required share of
// expected samples for the process window.
func dropShortChannels(st waveform.Stream, processLength time.Duration) waveform.Stream {
	if processLength <= 0 {
		return st
	}
	return st.Filter(func(p *waveform.Packet) bool {
		expected := int(processLength / p.Delta)
		if expected == 0 {
			return true
		}
		ok := float64(p.SampleCount()) >= shortChannelFraction*float64(expected)
		if !ok {
			logging.Debug().Str("channel", string(p.Channel)).
				Int("samples", p.SampleCount()).Int("expected", expected).
				Msg("Channel below required data length, skipping this cycle")
		}
		return ok
	})
}

// handleDetections folds engine output into the running set: attach event
// summaries, merge, decluster, evict stale entries, then fire the
// persistence and notification side effects exactly once per new detection.
// Callers hold cycleMu.
func (s *Scheduler) handleDetections(ctx context.Context, groups []detect.Group, source *waveform.Stream, latest time.Time) {
	for gi := range groups {
		for _, d := range groups[gi].Detections {
			d.Event = d.Summarize()
		}
	}

	s.party.Merge(groups)

	before := s.party.Len()
	s.party.Decluster(s.cfg.Params.TrigInterval)
	if suppressed := before - s.party.Len(); suppressed > 0 {
		metrics.DetectionsDeclustered.Add(float64(suppressed))
	}

	cutoff := latest.Add(-s.cfg.KeepDetections)
	s.party.TrimBefore(cutoff)

	// Handled membership is by identity: a detection object fires its side
	// effects once, however many cycles it survives in the set.
	live := make(map[*detect.Detection]struct{}, s.party.Len())
	for _, d := range s.party.All() {
		live[d] = struct{}{}
		if _, done := s.handled[d]; done {
			continue
		}
		s.persist(ctx, d, source)
		if s.deps.Notifier != nil {
			s.deps.Notifier.Detection(d)
		}
		metrics.DetectionsTotal.WithLabelValues(d.Template).Inc()
		s.handled[d] = struct{}{}
		logging.Info().Str("template", d.Template).Time("at", d.Time).
			Float64("cor_sum", d.CorSum).Msg("New detection")
	}
	// Evicted detections cannot be re-handled, so forget them.
	for d := range s.handled {
		if _, ok := live[d]; !ok {
			delete(s.handled, d)
		}
	}

	s.detCount.Store(int64(s.party.Len()))
	metrics.DetectionSetSize.Set(float64(s.party.Len()))
}

func (s *Scheduler) persist(ctx context.Context, d *detect.Detection, source *waveform.Stream) {
	if s.deps.Store == nil {
		return
	}
	var snippet *waveform.Stream
	if source != nil {
		end := d.Time.Add(s.templates.MaxProcessLength())
		trimmed := source.Trim(d.Time.Add(-snippetPad), end)
		if len(trimmed.Traces) > 0 {
			snippet = &trimmed
		}
	}
	if _, err := s.deps.Store.Write(ctx, d, snippet); err != nil {
		logging.Error().Err(err).Str("template", d.Template).Time("at", d.Time).
			Msg("Failed to persist detection")
	}
}

// AddTemplates adds templates to a running detector. It waits for any
// in-progress cycle, extends subscriptions, and — when an archive is
// available — scans historical data for the new templates through the same
// dedup path as a live cycle. Returns the full active template name set.
func (s *Scheduler) AddTemplates(ctx context.Context, tmpls ...template.Template) ([]string, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	fresh := make([]template.Template, 0, len(tmpls))
	for i := range tmpls {
		if err := tmpls[i].Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.templates.Get(tmpls[i].Name); !ok {
			fresh = append(fresh, tmpls[i])
		}
	}
	s.templates.Add(tmpls...)
	if len(fresh) == 0 {
		return s.templates.Names(), nil
	}

	if s.deps.Client.CanAddChannels() {
		for _, t := range fresh {
			for _, id := range t.Channels {
				if err := s.deps.Client.Select(id); err != nil {
					logging.Warn().Err(err).Str("channel", string(id)).Msg("Failed to subscribe channel")
				}
			}
		}
	}

	s.catchUp(ctx, fresh)

	names := s.templates.Names()
	s.mu.Lock()
	s.templateNames = names
	s.mu.Unlock()

	logging.Info().Int("added", len(fresh)).Int("total", s.templates.Len()).Msg("Templates added")
	return names, nil
}

// catchUp runs one historical detection pass for newly added templates from
// endtime-MaximumBackfill to the latest buffered data. Callers hold cycleMu.
func (s *Scheduler) catchUp(ctx context.Context, fresh []template.Template) {
	if s.deps.Bank == nil {
		return
	}

	end := s.deps.Client.Buffer().Snapshot().Latest()
	if end.IsZero() {
		end = time.Now()
	}
	var start time.Time
	if s.cfg.MaximumBackfill > 0 {
		start = end.Add(-s.cfg.MaximumBackfill)
	}

	seen := make(map[waveform.ChannelID]struct{})
	var reqs []wavebank.Request
	for _, t := range fresh {
		for _, id := range t.Channels {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			reqs = append(reqs, wavebank.Request{Channel: id, Start: start, End: end})
		}
	}

	st, err := s.deps.Bank.GetBulk(reqs)
	if err != nil {
		logging.Warn().Err(err).Msg("Historical catch-up fetch failed, templates added without backfill")
		return
	}
	if len(st.Traces) == 0 {
		return
	}

	groups, err := s.deps.Engine.Detect(ctx, st, fresh, s.cfg.Params)
	if err != nil {
		metrics.EngineFailures.WithLabelValues(detect.Classify(err).String()).Inc()
		logging.Warn().Err(err).Msg("Historical catch-up detection failed")
		return
	}

	latest := st.Latest()
	if bufLatest := s.deps.Client.Buffer().Snapshot().Latest(); bufLatest.After(latest) {
		latest = bufLatest
	}
	s.handleDetections(ctx, groups, &st, latest)
}

// stopCondition evaluates max-run-length and minimum-rate after each sleep.
// Returns the reason to stop, or empty to continue.
func (s *Scheduler) stopCondition() string {
	s.mu.Lock()
	runStart := s.runStart
	firstData := s.firstData
	s.mu.Unlock()

	if s.cfg.MaxRunLength > 0 && time.Now().After(runStart.Add(s.cfg.MaxRunLength)) {
		return "maximum run length reached"
	}

	if s.cfg.MinimumRate > 0 {
		s.cycleMu.Lock()
		dets := s.party.All()
		s.cycleMu.Unlock()
		if len(dets) > 0 {
			latest := s.deps.Client.Buffer().Snapshot().Latest()
			windowStart := latest.Add(-s.cfg.KeepDetections)
			// firstData is captured once at the first cycle and never
			// refreshed; the rate is measured against the run so far.
			if firstData.After(windowStart) {
				windowStart = firstData
			}
			rate := detect.Rate(dets, windowStart, latest)
			if rate < s.cfg.MinimumRate {
				return fmt.Sprintf("detection rate %.2f/hour below minimum %.2f/hour", rate, s.cfg.MinimumRate)
			}
		}
	}
	return ""
}

// growInterval raises the cadence to elapsed+pad when a cycle overruns it.
// The interval never shrinks automatically.
func (s *Scheduler) growInterval(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elapsed > s.interval {
		grown := elapsed + intervalGrowthPad
		logging.Warn().Dur("elapsed", elapsed).Dur("old_interval", s.interval).
			Dur("new_interval", grown).Msg("Cycle overran detection interval, growing cadence")
		s.interval = grown
	}
	metrics.DetectIntervalSeconds.Set(s.interval.Seconds())
}

func (s *Scheduler) teardown() {
	s.deps.Client.BackgroundStop()
	s.setState(StateStopped)
}

// sleep pauses for d scaled by the replay speed-up, or until cancellation.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	d = s.scaled(d)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) / s.cfg.SpeedUp)
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) notifyStatus(state, reason string) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Status(state, reason)
	}
}

func (s *Scheduler) captureFirstData(earliest time.Time) {
	if earliest.IsZero() {
		return
	}
	s.mu.Lock()
	if s.firstData.IsZero() {
		s.firstData = earliest
	}
	s.mu.Unlock()
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) iterationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}
