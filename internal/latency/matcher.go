// Package latency pairs emitted burst markers with detected onsets using
// shared sample-frame counters, per the frame-based redesign in spec §4.4:
// a prior wall-clock-timestamp approach produced readings that drifted
// across stream restarts because the two callback threads start at
// slightly different real moments. Matching on frame indices and
// calibrating a constant offset on the first match eliminates that drift.
//
// The offset must absorb only the frame-counter-origin skew between the
// output and input callback threads, never the measured path delay itself:
// it is derived from a concurrent reading of the output frame counter taken
// at the moment of the calibrating detection, against that same detection's
// input frame index. Once established, it is session-constant, so every
// match — the calibrating one included — resolves to the same physical
// delay.
package latency

import (
	"time"
)

const (
	// MaxPending is the largest number of un-matched bursts the matcher
	// tracks at once.
	MaxPending = 16

	// MaxBurstAge is how long an unmatched burst is kept before it is
	// assumed lost (loopback broken).
	MaxBurstAge = 500 * time.Millisecond

	emaAlpha = 0.3
)

type pendingBurst struct {
	startFrame uint64
	enqueuedAt time.Time
}

// Result is one completed latency measurement.
type Result struct {
	LatencySamples uint64
	LatencyMs      float64
	Confidence     float32
	At             time.Time
}

// Matcher pairs output-side burst-start markers with input-side detection
// markers, using each stream's own frame counter. Owned by exactly one
// thread (the analysis thread); not safe for concurrent use.
type Matcher struct {
	sampleRate uint32
	pending    []pendingBurst

	offset      int64 // initial_frame_offset; set on first match
	offsetKnown bool

	avgMs float64
	count uint64

	nowFn func() time.Time
}

// New returns a Matcher for the given sample rate.
func New(sampleRate uint32) *Matcher {
	return &Matcher{sampleRate: sampleRate, nowFn: time.Now}
}

// RegisterBurst enqueues a newly emitted burst-start marker, pruning any
// burst older than MaxBurstAge and evicting the oldest entry if the queue
// is already at MaxPending.
func (m *Matcher) RegisterBurst(startFrame uint64) {
	now := m.nowFn()
	m.prune(now)

	if len(m.pending) >= MaxPending {
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, pendingBurst{startFrame: startFrame, enqueuedAt: now})
}

func (m *Matcher) prune(now time.Time) {
	i := 0
	for ; i < len(m.pending); i++ {
		if now.Sub(m.pending[i].enqueuedAt) < MaxBurstAge {
			break
		}
	}
	if i > 0 {
		m.pending = m.pending[i:]
	}
}

// MatchDetection pairs a detection-side frame index with the oldest pending
// burst, if any. concurrentOutputFrame is the output frame counter read at
// the same instant as inputFrame (i.e. the moment the detector fired), used
// only to calibrate the frame-counter-origin offset on the first match; it
// plays no further role once the offset is known. snrConfidence is the
// detector's SNR-based confidence for the burst just matched. Returns nil
// when there is nothing pending (the detection is treated as spurious and
// silently dropped).
func (m *Matcher) MatchDetection(inputFrame, concurrentOutputFrame uint64, snrConfidence float32) *Result {
	now := m.nowFn()
	m.prune(now)

	if len(m.pending) == 0 {
		return nil
	}
	burst := m.pending[0]
	m.pending = m.pending[1:]

	if !m.offsetKnown {
		// The skew between the two frame counters, sampled concurrently:
		// unrelated to this (or any) burst's own path delay.
		m.offset = int64(concurrentOutputFrame) - int64(inputFrame)
		m.offsetKnown = true
	}

	delta := int64(inputFrame) - int64(burst.startFrame) + m.offset
	if delta < 0 {
		delta = 0
	}
	latencySamples := uint64(delta)
	latencyMs := 1000.0 * float64(delta) / float64(m.sampleRate)

	if m.count == 0 {
		m.avgMs = latencyMs
	} else {
		m.avgMs = m.avgMs*(1-emaAlpha) + latencyMs*emaAlpha
	}
	m.count++

	stability := float32(0.5)
	if m.count > 5 {
		denom := m.avgMs
		if denom < 1 {
			denom = 1
		}
		rel := absF64(latencyMs-m.avgMs) / denom
		if rel > 1 {
			rel = 1
		}
		stability = float32(1 - rel)
	}

	confidence := 0.7*snrConfidence + 0.3*stability
	if confidence > 1 {
		confidence = 1
	}

	return &Result{
		LatencySamples: latencySamples,
		LatencyMs:      latencyMs,
		Confidence:     confidence,
		At:             now,
	}
}

func absF64(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// PendingCount returns the number of currently unmatched bursts.
func (m *Matcher) PendingCount() int { return len(m.pending) }

// AverageLatencyMs returns the exponential moving average of latency.
func (m *Matcher) AverageLatencyMs() float64 { return m.avgMs }

// MeasurementCount returns the number of completed matches.
func (m *Matcher) MeasurementCount() uint64 { return m.count }

// FrameOffset returns the calibrated initial frame offset, and whether it
// has been established yet.
func (m *Matcher) FrameOffset() (int64, bool) { return m.offset, m.offsetKnown }

// Reset clears all state, including the calibrated frame offset — called
// whenever a stream is (re)opened so each stream instance recalibrates
// independently (spec §4.4: "re-established on every stream (re)start").
func (m *Matcher) Reset() {
	m.pending = nil
	m.offset = 0
	m.offsetKnown = false
	m.avgMs = 0
	m.count = 0
}
