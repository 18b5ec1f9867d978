// Package engine owns the two realtime audio callbacks, the shared
// lock-minimal state between them, and the ~10Hz analyze() tick that
// drains their event queues into the latency matcher, loss decoder, and
// stats store (§4.6). Grounded on the teacher's AudioEngine
// (client/audio.go): the same Start/Stop lifecycle, atomic running flag,
// and dedicated capture/playback goroutines around blocking driver calls,
// generalized from Opus voice chat to the two-channel probe signal.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"audiotester/internal/detector"
	"audiotester/internal/driver"
	"audiotester/internal/latency"
	"audiotester/internal/lossdecoder"
	"audiotester/internal/probe"
	"audiotester/internal/recorder"
	"audiotester/internal/ring"
	"audiotester/internal/stats"
)

// framesPerBuffer is the driver callback granularity. The spec allows
// buffer size to vary between invocations; a fixed size keeps the
// reference implementation simple while still exercising the full
// per-frame logic the variable-size contract requires.
const framesPerBuffer = 256

// counterRingMinSeconds sizes the counter ring to half a second of samples
// at the session's sample rate (the ring rounds it up to a power of two),
// per §4.6 ("capacity >= 0.5s").
const counterRingMinSeconds = 0.5

// eventQueueCapacity bounds the burst/detection event queues (§5: bounded,
// drop-oldest for freshness).
const eventQueueCapacity = 256

// recordQueueCapacity bounds the channels feeding the optional recorder
// (§4.8). Sized generously since the recorder goroutine only does file I/O,
// never blocking an audio callback; a full queue just drops the sample.
const recordQueueCapacity = 4096

// State is the coarse engine lifecycle state exposed to callers (§6
// status()).
type State int

const (
	StateStopped State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateError:
		return "Error"
	default:
		return "Stopped"
	}
}

// Config selects the device, rate, and channel layout for a session.
type Config struct {
	DeviceName string
	SampleRate uint32
	// SignalChannel and CounterChannel are 1-based channel indices.
	SignalChannel  int
	CounterChannel int
	// RecordDir, if non-empty, enables the raw-sample recorder (§4.8):
	// rotating {counter, frame_index} binary logs for both the emitted and
	// received sides. Left empty, no recorder is created.
	RecordDir string
}

// Validate enforces §6's channel-pair rule (S != C, both >= 1).
func (c Config) Validate() error {
	if c.SignalChannel < 1 || c.CounterChannel < 1 {
		return driver.ErrChannelPairInvalid
	}
	if c.SignalChannel == c.CounterChannel {
		return driver.ErrChannelPairInvalid
	}
	return nil
}

func (c Config) numChannels() int {
	if c.SignalChannel > c.CounterChannel {
		return c.SignalChannel
	}
	return c.CounterChannel
}

// burstEvent and onsetEvent are what the two callbacks hand to analyze().
type burstEvent struct {
	startFrame uint64
}

type onsetEvent struct {
	inputFrame         uint64
	concurrentOutFrame uint64 // output frame counter read at the same instant, for matcher calibration
	snrConfidence      float32
}

// Result is the composed per-tick output of analyze(), matching the
// "composes latency, loss, health fields" shape from §6.
type Result struct {
	Latency        *latency.Result
	LostSamples    uint64
	SilenceEvents  int
	CounterDropped uint64
	SignalLost     bool
}

// Engine orchestrates one monitoring session: the two realtime callback
// loops, the shared atomic frame counters, and the analysis tick.
type Engine struct {
	cfg    Config
	driver driver.Driver

	out driver.OutputStream
	in  driver.InputStream

	running  atomic.Bool
	outFrame atomic.Uint64
	inFrame  atomic.Uint64

	streamInvalidated atomic.Bool
	stateMu           sync.Mutex
	state             State
	invalidatedAtMu   sync.Mutex
	invalidatedAt     time.Time // zero when not currently in a disconnection

	gen      *probe.Burst
	det      *detector.Envelope
	matcher  *latency.Matcher
	decoder  *lossdecoder.Decoder
	store    *stats.Store
	counters *ring.DropNewest[uint16]

	bursts     *ring.DropOldest[burstEvent]
	detections *ring.DropOldest[onsetEvent]

	rec       *recorder.Recorder
	recSentCh chan recorder.Record
	recRecvCh chan recorder.Record
	recDone   chan struct{}

	startedAt time.Time

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New returns an Engine bound to d and cfg, with its algorithmic
// components freshly constructed. Call Start to open streams.
func New(d driver.Driver, cfg Config, store *stats.Store) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ringCapacity := int(float64(cfg.SampleRate) * counterRingMinSeconds)
	e := &Engine{
		cfg:        cfg,
		driver:     d,
		gen:        probe.NewBurst(cfg.SampleRate),
		det:        detector.New(cfg.SampleRate),
		matcher:    latency.New(cfg.SampleRate),
		decoder:    lossdecoder.New(cfg.SampleRate),
		store:      store,
		counters:   ring.NewDropNewest[uint16](ringCapacity),
		bursts:     ring.NewDropOldest[burstEvent](eventQueueCapacity),
		detections: ring.NewDropOldest[onsetEvent](eventQueueCapacity),
	}
	return e, nil
}

// Start opens the output and input streams and launches the two realtime
// callback loops. Returns DeviceNotSelected/DeviceUnavailable/
// UnsupportedRate/NoChannels/ChannelPairInvalid per §4.6.
func (e *Engine) Start(ctx context.Context) error {
	if e.running.Load() {
		return nil
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	if e.cfg.DeviceName == "" {
		return driver.ErrDeviceNotSelected
	}

	params := driver.StreamParams{
		DeviceName:      e.cfg.DeviceName,
		SampleRate:      float64(e.cfg.SampleRate),
		Channels:        e.cfg.numChannels(),
		FramesPerBuffer: framesPerBuffer,
	}

	out, err := e.driver.OpenOutputStream(params)
	if err != nil {
		return err
	}
	in, err := e.driver.OpenInputStream(params)
	if err != nil {
		out.Close()
		return err
	}
	if err := out.Start(); err != nil {
		out.Close()
		in.Close()
		return err
	}
	if err := in.Start(); err != nil {
		out.Stop()
		out.Close()
		in.Close()
		return err
	}

	e.out = out
	e.in = in
	e.outFrame.Store(0)
	e.inFrame.Store(0)
	e.recordReconnection()
	e.gen.Reset()
	e.det.Reset()
	e.matcher.Reset()
	e.decoder.Reset()
	e.startedAt = time.Now()
	e.setState(StateRunning)
	e.running.Store(true)

	if e.cfg.RecordDir != "" {
		rec, err := recorder.New(e.cfg.RecordDir)
		if err != nil {
			out.Stop()
			out.Close()
			in.Stop()
			in.Close()
			return fmt.Errorf("open recorder: %w", err)
		}
		e.rec = rec
		e.recSentCh = make(chan recorder.Record, recordQueueCapacity)
		e.recRecvCh = make(chan recorder.Record, recordQueueCapacity)
		e.recDone = make(chan struct{})
		go rec.Run(e.recDone, e.recSentCh, e.recRecvCh)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	e.group = g
	g.Go(func() error { return e.outputLoop(gctx) })
	g.Go(func() error { return e.inputLoop(gctx) })

	return nil
}

// Stop is cooperative (§5): it flips running false, which makes the
// callback loops fill silence / no-op and return, then tears down the
// streams once both goroutines have exited.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	var groupErr error
	if e.group != nil {
		groupErr = e.group.Wait()
	}

	if e.out != nil {
		e.out.Stop()
		e.out.Close()
		e.out = nil
	}
	if e.in != nil {
		e.in.Stop()
		e.in.Close()
		e.in = nil
	}
	if e.recDone != nil {
		close(e.recDone)
		e.rec = nil
		e.recSentCh = nil
		e.recRecvCh = nil
		e.recDone = nil
	}
	e.setState(StateStopped)
	return groupErr
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Status reports the engine's current coarse state (§6 status()).
func (e *Engine) Status() (State, string, uint32) {
	e.stateMu.Lock()
	s := e.state
	e.stateMu.Unlock()
	return s, e.cfg.DeviceName, e.cfg.SampleRate
}

// SampleCounts returns the cumulative output/input frame counters.
func (e *Engine) SampleCounts() (out, in uint64) {
	return e.outFrame.Load(), e.inFrame.Load()
}

// IsStreamInvalidated reports whether the driver asynchronously reset a
// stream (§7 StreamInvalidated); the caller is expected to Stop and
// restart.
func (e *Engine) IsStreamInvalidated() bool {
	return e.streamInvalidated.Load()
}

func (e *Engine) outputLoop(ctx context.Context) error {
	buf := make([]float32, framesPerBuffer*e.cfg.numChannels())
	channels := e.cfg.numChannels()
	sigIdx := e.cfg.SignalChannel - 1
	ctrIdx := e.cfg.CounterChannel - 1

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !e.running.Load() {
			zero(buf)
			if err := e.out.Write(buf); err != nil {
				return e.invalidate(err)
			}
			continue
		}

		base := e.outFrame.Load()
		for i := 0; i < framesPerBuffer; i++ {
			sample, isStart := e.gen.NextSample()
			frame := base + uint64(i)
			for c := 0; c < channels; c++ {
				buf[i*channels+c] = 0
			}
			buf[i*channels+sigIdx] = sample
			buf[i*channels+ctrIdx] = probe.EncodeCounter(frame)
			if isStart {
				e.bursts.Push(burstEvent{startFrame: frame})
			}
			if e.recSentCh != nil {
				select {
				case e.recSentCh <- recorder.Record{Counter: uint16(frame & probe.CounterMask), FrameIndex: frame}:
				default:
				}
			}
		}
		e.outFrame.Add(uint64(framesPerBuffer))

		if err := e.out.Write(buf); err != nil {
			return e.invalidate(err)
		}
	}
}

func (e *Engine) inputLoop(ctx context.Context) error {
	buf := make([]float32, framesPerBuffer*e.cfg.numChannels())
	channels := e.cfg.numChannels()
	sigIdx := e.cfg.SignalChannel - 1
	ctrIdx := e.cfg.CounterChannel - 1

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := e.in.Read(buf); err != nil {
			return e.invalidate(err)
		}

		if !e.running.Load() {
			continue
		}

		base := e.inFrame.Load()
		for i := 0; i < framesPerBuffer; i++ {
			frame := base + uint64(i)
			if onset := e.det.Process(buf[i*channels+sigIdx]); onset != nil {
				e.detections.Push(onsetEvent{
					inputFrame:         frame,
					concurrentOutFrame: e.outFrame.Load(),
					snrConfidence:      e.det.SNRConfidence(),
				})
			}
			counterSample := decodeCounter(buf[i*channels+ctrIdx])
			if !e.counters.Push(counterSample) {
				// observability only; analyze() surfaces this via
				// CounterDropped, not a hard failure.
			}
			if e.recRecvCh != nil {
				select {
				case e.recRecvCh <- recorder.Record{Counter: counterSample, FrameIndex: frame}:
				default:
				}
			}
		}
		e.inFrame.Add(uint64(framesPerBuffer))
	}
}

// recordReconnection clears streamInvalidated and, if this Start follows a
// prior invalidation, records the matching reconnected disconnection event
// with the elapsed downtime (§7/§C).
func (e *Engine) recordReconnection() {
	e.invalidatedAtMu.Lock()
	invalidatedAt := e.invalidatedAt
	e.invalidatedAt = time.Time{}
	e.invalidatedAtMu.Unlock()

	e.streamInvalidated.Store(false)

	if !invalidatedAt.IsZero() {
		now := time.Now()
		e.store.RecordDisconnection(now, uint64(now.Sub(invalidatedAt).Milliseconds()), true)
	}
}

// invalidate marks the stream as asynchronously reset by the driver (§7
// StreamInvalidated) and records a disconnection event in the stats store
// (§7/§C: "a stream invalidation triggers an explicit disconnection event
// ... with a duration"). Only the first of potentially two concurrent
// callers (the output and input loops can both fail around the same
// moment) records the event, so a restart's matching "reconnected" event
// in Start has an unambiguous start time to measure its duration from.
func (e *Engine) invalidate(cause error) error {
	if e.streamInvalidated.CompareAndSwap(false, true) {
		now := time.Now()
		e.invalidatedAtMu.Lock()
		e.invalidatedAt = now
		e.invalidatedAtMu.Unlock()
		e.store.RecordDisconnection(now, 0, false)
	}
	e.setState(StateError)
	return fmt.Errorf("%w: %v", driver.ErrStreamInvalidated, cause)
}

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

// decodeCounter inverts probe.EncodeCounter, recovering the 16-bit
// counter value carried on the auxiliary channel.
func decodeCounter(sample float32) uint16 {
	v := sample * 65536.0
	if v < 0 {
		v = 0
	}
	return uint16(v) & probe.CounterMask
}

// Analyze drains the burst/detection event queues and the counter ring,
// feeding the matcher, decoder, and stats store, and returns the composed
// result (§4.6). Returns nil if the engine is stopped.
func (e *Engine) Analyze(now time.Time) *Result {
	if !e.running.Load() {
		return nil
	}

	for {
		be, ok := e.bursts.Pop()
		if !ok {
			break
		}
		e.matcher.RegisterBurst(be.startFrame)
	}

	var latestLatency *latency.Result
	for {
		oe, ok := e.detections.Pop()
		if !ok {
			break
		}
		if res := e.matcher.MatchDetection(oe.inputFrame, oe.concurrentOutFrame, oe.snrConfidence); res != nil {
			latestLatency = res
		}
	}
	if latestLatency != nil {
		e.store.RecordLatency(now, latestLatency.LatencyMs)
		e.store.SetConfidence(latestLatency.Confidence)
	}

	// Drain up to half the ring per tick (§4.6) so analyze() cannot starve
	// the realtime producer indefinitely under sustained backlog.
	halfRing := e.counters.Len()/2 + 1
	batch := make([]uint16, 0, halfRing)
	for i := 0; i < halfRing; i++ {
		v, ok := e.counters.Pop()
		if !ok {
			break
		}
		batch = append(batch, v)
	}

	gaps, silences := e.decoder.ObserveBatch(batch)
	var totalLost uint64
	for _, g := range gaps {
		totalLost += g.Lost
		e.store.RecordLoss(now, g.Lost)
	}
	for _, s := range silences {
		e.store.SetCounterSilent(!s.Recovered)
		if s.Recovered {
			e.store.ResetEstimatedLoss()
		}
	}

	dropped := e.counters.Overflowed()
	out, in := e.SampleCounts()
	e.store.SetSamplesSent(out)
	e.store.SetSamplesReceived(in)
	e.store.SetUptime(uint64(now.Sub(e.startedAt).Seconds()))
	e.store.Tick(now)

	signalLost := latestLatency == nil && e.matcher.MeasurementCount() > 0 &&
		now.Sub(e.startedAt) > 2*time.Second
	e.store.SetSignalLost(signalLost)

	return &Result{
		Latency:        latestLatency,
		LostSamples:    totalLost,
		SilenceEvents:  len(silences),
		CounterDropped: dropped,
		SignalLost:     signalLost,
	}
}
