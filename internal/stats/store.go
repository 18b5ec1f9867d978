// Package stats accumulates the time-series history and running counters
// the analysis thread produces each tick, grounded on the original
// implementation's stats store (history rings plus 10-second loss
// buckets), re-expressed as plain Go slices rather than a deque type the
// standard library doesn't have.
package stats

import (
	"time"

	"github.com/google/uuid"
)

const (
	// MaxHistorySize is how many full-resolution points are kept (1h at
	// 1 sample/sec).
	MaxHistorySize = 3600

	// MaxArchiveSize is how many down-sampled points are kept (24h at
	// 10s intervals).
	MaxArchiveSize = 8640

	// LossBucketDuration is the width of each loss/latency archive bucket.
	LossBucketDuration = 10 * time.Second

	// MaxLossArchiveSize mirrors MaxArchiveSize for the loss timeline.
	MaxLossArchiveSize = 8640

	// archiveEvery down-samples latency_history into latency_archive.
	archiveEvery = 10
)

// Measurement is a single timestamped value.
type Measurement struct {
	Timestamp time.Time
	Value     float64
}

// DisconnectionEvent records a loopback interruption, supplemented from
// the original implementation's DisconnectionEvent shape (spec §C).
type DisconnectionEvent struct {
	Timestamp   time.Time
	DurationMs  uint64
	Reconnected bool
}

// LossEvent records one discrete loss report.
type LossEvent struct {
	Timestamp time.Time
	Count     uint64
}

// Bucket aggregates counts over a fixed time window, used for both the
// loss and latency archive timelines. Min/Max are only meaningful for the
// latency timeline, where they hold pointwise reductions; the loss
// timeline leaves them at zero.
type Bucket struct {
	Timestamp time.Time
	Total     float64
	Count     uint32
	Min       float64
	Max       float64
}

// Running holds the current snapshot of derived counters, mirroring the
// original's RunningStats.
type Running struct {
	CurrentLatencyMs float64
	MinLatencyMs     float64
	MaxLatencyMs     float64
	AvgLatencyMs     float64

	TotalLost      uint64
	TotalCorrupted uint64

	MeasurementCount uint64
	UptimeSeconds    uint64

	DeviceName string
	SampleRate uint32
	BufferSize uint32

	SamplesSent     uint64
	SamplesReceived uint64

	SignalLost bool

	LastConfidence float32

	EstimatedLoss uint64
	CounterSilent bool
}

// Store accumulates history and running statistics for one monitoring
// session. Not safe for concurrent access; callers serialize access
// themselves (the analysis thread owns writes; Snapshot returns a copy of
// the running statistics but takes no lock).
type Store struct {
	SessionID string

	latencyHistory []Measurement
	latencyArchive []Measurement
	lossHistory    []Measurement
	corruptionHist []Measurement

	disconnectionEvents []DisconnectionEvent
	lossEvents          []LossEvent

	lossArchive    []Bucket
	latencyArchTl  []Bucket
	archiveCounter uint64

	running Running
}

// New returns an empty Store with a freshly generated session identifier.
func New() *Store {
	return &Store{
		SessionID: uuid.NewString(),
		running:   Running{MinLatencyMs: float64(^uint64(0) >> 1)},
	}
}

// RecordLatency appends a latency measurement, updates the running
// min/max/avg, and down-samples into the archive every 10th sample.
func (s *Store) RecordLatency(now time.Time, latencyMs float64) {
	m := Measurement{Timestamp: now, Value: latencyMs}

	s.latencyHistory = appendBounded(s.latencyHistory, m, MaxHistorySize)

	s.archiveCounter++
	if s.archiveCounter%archiveEvery == 0 {
		s.latencyArchive = appendBounded(s.latencyArchive, m, MaxArchiveSize)
	}

	s.running.CurrentLatencyMs = latencyMs
	if latencyMs < s.running.MinLatencyMs {
		s.running.MinLatencyMs = latencyMs
	}
	if latencyMs > s.running.MaxLatencyMs {
		s.running.MaxLatencyMs = latencyMs
	}
	s.running.MeasurementCount++

	var sum float64
	for _, v := range s.latencyHistory {
		sum += v.Value
	}
	s.running.AvgLatencyMs = sum / float64(len(s.latencyHistory))

	s.appendLatencyBucket(now, latencyMs)
}

// RecordLoss appends a loss measurement and event, and folds it into the
// current 10-second loss bucket.
func (s *Store) RecordLoss(now time.Time, count uint64) {
	s.lossHistory = appendBounded(s.lossHistory, Measurement{Timestamp: now, Value: float64(count)}, MaxHistorySize)
	s.lossEvents = append(s.lossEvents, LossEvent{Timestamp: now, Count: count})
	s.appendTimelineBucket(&s.lossArchive, now, float64(count))
	s.running.TotalLost += count
}

// RecordCorruption appends a corruption measurement.
func (s *Store) RecordCorruption(now time.Time, count uint64) {
	s.corruptionHist = appendBounded(s.corruptionHist, Measurement{Timestamp: now, Value: float64(count)}, MaxHistorySize)
	s.running.TotalCorrupted += count
}

// RecordDisconnection appends a disconnection event.
func (s *Store) RecordDisconnection(now time.Time, durationMs uint64, reconnected bool) {
	s.disconnectionEvents = append(s.disconnectionEvents, DisconnectionEvent{
		Timestamp:   now,
		DurationMs:  durationMs,
		Reconnected: reconnected,
	})
}

func truncateToBucket(ts time.Time) time.Time {
	return ts.Truncate(LossBucketDuration)
}

func (s *Store) appendTimelineBucket(archive *[]Bucket, now time.Time, value float64) {
	bucketTs := truncateToBucket(now)
	if n := len(*archive); n > 0 && (*archive)[n-1].Timestamp.Equal(bucketTs) {
		(*archive)[n-1].Total += value
		(*archive)[n-1].Count++
		return
	}
	*archive = appendBounded(*archive, Bucket{Timestamp: bucketTs, Total: value, Count: 1}, MaxLossArchiveSize)
}

// appendLatencyBucket folds a latency sample into the current 10-second
// bucket, tracking sum/count (for a count-weighted mean on re-aggregation)
// and pointwise min/max.
func (s *Store) appendLatencyBucket(now time.Time, latencyMs float64) {
	bucketTs := truncateToBucket(now)
	archive := &s.latencyArchTl
	if n := len(*archive); n > 0 && (*archive)[n-1].Timestamp.Equal(bucketTs) {
		b := &(*archive)[n-1]
		b.Total += latencyMs
		b.Count++
		if latencyMs < b.Min {
			b.Min = latencyMs
		}
		if latencyMs > b.Max {
			b.Max = latencyMs
		}
		return
	}
	*archive = appendBounded(*archive, Bucket{Timestamp: bucketTs, Total: latencyMs, Count: 1, Min: latencyMs, Max: latencyMs}, MaxLossArchiveSize)
}

// Tick is called roughly every 10 seconds from the analysis loop to keep
// the loss and latency timelines gap-free: if the most recent bucket is
// older than one bucket width, a zero bucket is appended so charts show
// the full monitored span without silently skipping idle windows.
func (s *Store) Tick(now time.Time) {
	s.tickTimeline(&s.lossArchive, now)
	s.tickTimeline(&s.latencyArchTl, now)
}

func (s *Store) tickTimeline(archive *[]Bucket, now time.Time) {
	if len(*archive) == 0 {
		return // no zero buckets before any real data has arrived
	}
	bucketTs := truncateToBucket(now)
	last := (*archive)[len(*archive)-1]
	if last.Timestamp.Before(bucketTs) {
		*archive = appendBounded(*archive, Bucket{Timestamp: bucketTs}, MaxLossArchiveSize)
	}
}

// LossTimeline re-aggregates the loss archive into bucketSize windows
// covering the last rangeSecs.
func (s *Store) LossTimeline(now time.Time, rangeSecs, bucketSizeSecs int64) []Bucket {
	return reaggregate(s.lossArchive, now, rangeSecs, bucketSizeSecs)
}

// LatencyTimeline re-aggregates the latency archive the same way.
func (s *Store) LatencyTimeline(now time.Time, rangeSecs, bucketSizeSecs int64) []Bucket {
	return reaggregate(s.latencyArchTl, now, rangeSecs, bucketSizeSecs)
}

func reaggregate(archive []Bucket, now time.Time, rangeSecs, bucketSizeSecs int64) []Bucket {
	if bucketSizeSecs < int64(LossBucketDuration.Seconds()) {
		bucketSizeSecs = int64(LossBucketDuration.Seconds())
	}
	cutoff := now.Add(-time.Duration(rangeSecs) * time.Second)
	bucketSize := time.Duration(bucketSizeSecs) * time.Second

	var out []Bucket
	// minSet tracks, per output bucket, whether Min has been assigned from a
	// real sample yet — merged.Min == 0 can't be used as that sentinel since
	// 0.0ms is a legitimate minimum latency.
	var minSet []bool
	for _, b := range archive {
		if b.Timestamp.Before(cutoff) {
			continue
		}
		aligned := b.Timestamp.Truncate(bucketSize)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(aligned) {
			merged := &out[n-1]
			merged.Total += b.Total
			merged.Count += b.Count
			if b.Count > 0 && (!minSet[n-1] || b.Min < merged.Min) {
				merged.Min = b.Min
				minSet[n-1] = true
			}
			if b.Max > merged.Max {
				merged.Max = b.Max
			}
			continue
		}
		out = append(out, Bucket{Timestamp: aligned, Total: b.Total, Count: b.Count, Min: b.Min, Max: b.Max})
		minSet = append(minSet, b.Count > 0)
	}
	return out
}

// Mean returns the count-weighted mean of a re-aggregated latency bucket
// (Σsum / Σcount).
func (b Bucket) Mean() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.Total / float64(b.Count)
}

// LatencyPlotData returns the last count points as (secondsAgo, valueMs)
// pairs, newest first converted to negative offsets.
func (s *Store) LatencyPlotData(now time.Time, count int) [][2]float64 {
	return plotData(s.latencyHistory, now, count)
}

// LossPlotData mirrors LatencyPlotData for the loss history.
func (s *Store) LossPlotData(now time.Time, count int) [][2]float64 {
	return plotData(s.lossHistory, now, count)
}

func plotData(history []Measurement, now time.Time, count int) [][2]float64 {
	n := len(history)
	if count > n {
		count = n
	}
	out := make([][2]float64, 0, count)
	for i := n - 1; i >= n-count; i-- {
		offset := now.Sub(history[i].Timestamp).Seconds()
		out = append(out, [2]float64{-offset, history[i].Value})
	}
	return out
}

// Snapshot returns a copy of the current running statistics.
func (s *Store) Snapshot() Running { return s.running }

// DisconnectionEvents returns the recorded disconnection log.
func (s *Store) DisconnectionEvents() []DisconnectionEvent { return s.disconnectionEvents }

// LossEvents returns the recorded loss event log.
func (s *Store) LossEvents() []LossEvent { return s.lossEvents }

// LatencyHistory returns the full-resolution latency history.
func (s *Store) LatencyHistory() []Measurement { return s.latencyHistory }

// SetUptime records the session uptime in seconds.
func (s *Store) SetUptime(seconds uint64) { s.running.UptimeSeconds = seconds }

// SetDeviceInfo caches device identity for the snapshot.
func (s *Store) SetDeviceInfo(name string, sampleRate, bufferSize uint32) {
	s.running.DeviceName = name
	s.running.SampleRate = sampleRate
	s.running.BufferSize = bufferSize
}

// AddSamplesSent increments the cumulative sent counter.
func (s *Store) AddSamplesSent(n uint64) { s.running.SamplesSent += n }

// AddSamplesReceived increments the cumulative received counter.
func (s *Store) AddSamplesReceived(n uint64) { s.running.SamplesReceived += n }

// SetSamplesSent overwrites the cumulative sent counter (engine reports
// a running total rather than deltas).
func (s *Store) SetSamplesSent(n uint64) { s.running.SamplesSent = n }

// SetSamplesReceived overwrites the cumulative received counter.
func (s *Store) SetSamplesReceived(n uint64) { s.running.SamplesReceived = n }

// SetSignalLost records whether the analysis loop currently considers the
// input signal absent (no onsets within the timeout window).
func (s *Store) SetSignalLost(lost bool) { s.running.SignalLost = lost }

// SetConfidence records the most recent latency-match confidence.
func (s *Store) SetConfidence(c float32) { s.running.LastConfidence = c }

// SetCounterSilent records whether the counter channel is currently
// judged silent.
func (s *Store) SetCounterSilent(silent bool) { s.running.CounterSilent = silent }

// SetEstimatedLoss records the samples estimated lost while the counter
// channel was silent.
func (s *Store) SetEstimatedLoss(n uint64) { s.running.EstimatedLoss = n }

// ResetEstimatedLoss clears the silence-estimated-loss counter and the
// counter-silent flag; the engine calls it on recovery from silence.
func (s *Store) ResetEstimatedLoss() {
	s.running.EstimatedLoss = 0
	s.running.CounterSilent = false
}

// ResetCounters resets min/max/avg latency and the loss/corruption totals
// while preserving all history, as happens when the user clears the
// running summary without losing the charted timeline.
func (s *Store) ResetCounters() {
	s.running.MinLatencyMs = float64(^uint64(0) >> 1)
	s.running.MaxLatencyMs = 0
	s.running.AvgLatencyMs = 0
	s.running.TotalLost = 0
	s.running.TotalCorrupted = 0
	s.running.MeasurementCount = 0
	s.running.UptimeSeconds = 0
	s.running.SamplesSent = 0
	s.running.SamplesReceived = 0
	s.running.EstimatedLoss = 0
	s.running.CounterSilent = false
}

// Clear drops all history and events and resets the running statistics,
// but keeps the session identifier.
func (s *Store) Clear() {
	s.latencyHistory = nil
	s.latencyArchive = nil
	s.lossHistory = nil
	s.corruptionHist = nil
	s.disconnectionEvents = nil
	s.lossEvents = nil
	s.lossArchive = nil
	s.latencyArchTl = nil
	s.archiveCounter = 0
	s.running = Running{MinLatencyMs: float64(^uint64(0) >> 1)}
}

func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
