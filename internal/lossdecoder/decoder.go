// Package lossdecoder recovers a sample-loss count from the 16-bit
// sawtooth counter channel of the probe signal. It runs on the analysis
// thread, fed a drained batch of counter samples per tick; the signed
// wraparound-distance idiom is the same one jitter buffers use to order
// sequence numbers, borrowed here for gap detection instead of reordering.
package lossdecoder

const (
	// counterSilenceDivisor sets the silence run length to
	// sampleRate/counterSilenceDivisor: more consecutive zero samples than
	// that make the decoder treat the counter channel as silent
	// (disconnected) rather than merely passing through zero on its
	// sawtooth wrap.
	counterSilenceDivisor = 10

	// maxForwardGap bounds a believable forward jump. A signed 16-bit
	// distance at or beyond half the range (32768) is treated as
	// backward motion or noise rather than a real gap, and ignored.
	maxForwardGap = 32768
)

// Gap describes one non-contiguous jump in the received counter sequence.
type Gap struct {
	Lost uint64
}

// SilenceEvent marks the point the counter channel was judged silent
// (disconnected) and, later, when it recovered.
type SilenceEvent struct {
	DetectedAtSample uint64
	Recovered        bool
}

// Decoder tracks the expected next counter value and classifies each
// observed value as in-order, a loss gap, backward/noise, or part of a
// silence run. Not safe for concurrent use; owned by the analysis thread.
type Decoder struct {
	sampleRate uint32

	haveExpected  bool
	expected      uint16
	zeroStreak    int
	silent        bool
	silenceStart  uint64
	sampleCounter uint64
	totalLost     uint64
}

// New returns a Decoder for the given sample rate, used to size the
// counter-silence run length (sampleRate/10).
func New(sampleRate uint32) *Decoder {
	return &Decoder{sampleRate: sampleRate}
}

func (d *Decoder) silenceRunLength() int {
	n := int(d.sampleRate) / counterSilenceDivisor
	if n < 1 {
		n = 1
	}
	return n
}

// Observe processes one counter-channel sample and returns a non-nil Gap
// if this sample represents lost samples, or a non-nil SilenceEvent on a
// silence-state transition. At most one of the two is non-nil.
func (d *Decoder) Observe(value uint16) (*Gap, *SilenceEvent) {
	d.sampleCounter++

	if value == 0 {
		d.zeroStreak++
	} else {
		d.zeroStreak = 0
	}

	if !d.silent && d.zeroStreak > d.silenceRunLength() {
		d.silent = true
		d.silenceStart = d.sampleCounter
		d.haveExpected = false
		return nil, &SilenceEvent{DetectedAtSample: d.silenceStart, Recovered: false}
	}

	if d.silent {
		if value != 0 {
			d.silent = false
			d.expected = value + 1
			d.haveExpected = true
			return nil, &SilenceEvent{DetectedAtSample: d.sampleCounter, Recovered: true}
		}
		return nil, nil
	}

	if value == 0 {
		// Zero-streak at or below the silence-run threshold (s <= ε): not
		// yet classified as silence, but also not trustworthy as a real
		// observation — could be a genuine sawtooth wrap-through-zero or the
		// start of a disconnection. Per spec §4.5, this branch leaves
		// expected_frame untouched rather than seeding or gap-testing
		// against a bare zero.
		return nil, nil
	}

	if !d.haveExpected {
		d.expected = value + 1
		d.haveExpected = true
		return nil, nil
	}

	// g is the signed distance between the observed value and the value we
	// expected next. g==0 is a clean single-sample advance; g==1 is one step
	// ahead and is still treated as in-order (±1 rounding tolerance);
	// 1<g<32768 is reported as g-1 lost samples; a negative g (which includes
	// every raw distance of 32768 or more, after the int16 conversion) is
	// backward motion or noise and is ignored rather than resynchronized to.
	g := int32(int16(value - d.expected))

	switch {
	case g == 0 || g == 1:
		d.expected = value + 1
	case g > 1 && g < maxForwardGap:
		lost := uint64(g - 1)
		d.totalLost += lost
		d.expected = value + 1
		return &Gap{Lost: lost}, nil
	default:
		// backward arrival or implausible forward jump; do not advance
		// expected, do not count loss.
	}

	return nil, nil
}

// ObserveBatch processes a batch of counter samples in order, returning all
// gaps and silence transitions found.
func (d *Decoder) ObserveBatch(values []uint16) ([]Gap, []SilenceEvent) {
	var gaps []Gap
	var silences []SilenceEvent
	for _, v := range values {
		if g, s := d.Observe(v); g != nil || s != nil {
			if g != nil {
				gaps = append(gaps, *g)
			}
			if s != nil {
				silences = append(silences, *s)
			}
		}
	}
	return gaps, silences
}

// TotalLost returns the cumulative count of samples classified as lost
// since the last Reset.
func (d *Decoder) TotalLost() uint64 { return d.totalLost }

// Silent reports whether the decoder currently considers the counter
// channel silent.
func (d *Decoder) Silent() bool { return d.silent }

// Reset restores the decoder to its initial unsynchronized state, as
// happens when a stream is (re)opened.
func (d *Decoder) Reset() {
	d.haveExpected = false
	d.expected = 0
	d.zeroStreak = 0
	d.silent = false
	d.silenceStart = 0
	d.sampleCounter = 0
	d.totalLost = 0
}
