// Package detector implements the inline envelope-follower onset detector
// that runs inside the input audio callback. It is fed one sample at a time
// in frame order and never blocks or allocates.
package detector

import "math"

const (
	attackMs     = 0.5
	releaseMs    = 10.0
	noiseAdaptMs = 100.0

	// defaultThresholdRatio is how far above the noise floor the envelope
	// must rise before an onset is declared.
	defaultThresholdRatio = float32(10.0)
	minThresholdRatio     = float32(2.0)

	minNoiseFloor = float32(1e-3)

	// debounceFraction is the fraction of a second (80ms) enforced between
	// onsets, safely inside the 100ms probe cycle.
	debounceFraction = 0.08
)

// Onset is emitted at the in-buffer sample index where the envelope first
// crosses the detection threshold during a burst.
type Onset struct {
	SampleIndex int
	Envelope    float32
}

// Envelope is a single-sample streaming onset detector with an adaptive
// noise floor and debounce. Zero value is not usable; use New.
type Envelope struct {
	sampleRate uint32

	envelope  float32
	noiseFloor float32
	active    bool

	attackCoeff     float32
	releaseCoeff    float32
	noiseAdaptCoeff float32

	thresholdRatio float32

	debounceSamples int
	sinceOnset      int
	peak            float32
}

// New returns an Envelope detector tuned for the given sample rate.
func New(sampleRate uint32) *Envelope {
	debounce := int(float64(sampleRate)*debounceFraction + 0.5)
	e := &Envelope{
		sampleRate:      sampleRate,
		noiseFloor:      minNoiseFloor,
		attackCoeff:     timeToCoeff(attackMs, sampleRate),
		releaseCoeff:    timeToCoeff(releaseMs, sampleRate),
		noiseAdaptCoeff: timeToCoeff(noiseAdaptMs, sampleRate),
		thresholdRatio:  defaultThresholdRatio,
		debounceSamples: debounce,
		sinceOnset:      debounce, // allow immediate first detection
	}
	return e
}

// timeToCoeff converts a time constant in milliseconds to a one-pole
// exponential coefficient exp(-1/(tau*R/1000)).
func timeToCoeff(tauMs float32, sampleRate uint32) float32 {
	samples := tauMs * float32(sampleRate) / 1000.0
	return float32(math.Exp(-1.0 / float64(samples)))
}

// SetThresholdRatio sets how many times above the noise floor the envelope
// must rise to register an onset. Clamped to a floor of 2.
func (e *Envelope) SetThresholdRatio(ratio float32) {
	if ratio < minThresholdRatio {
		ratio = minThresholdRatio
	}
	e.thresholdRatio = ratio
}

// Threshold returns the current detection threshold.
func (e *Envelope) Threshold() float32 {
	nf := e.noiseFloor
	if nf < minNoiseFloor {
		nf = minNoiseFloor
	}
	return nf * e.thresholdRatio
}

// Process feeds one input sample and returns an Onset if this sample is a
// rising-edge detection. Total and non-blocking; safe to call from the
// input audio callback.
func (e *Envelope) Process(sample float32) *Onset {
	abs := sample
	if abs < 0 {
		abs = -abs
	}
	e.sinceOnset++

	if abs > e.envelope {
		e.envelope = e.envelope*e.attackCoeff + abs*(1-e.attackCoeff)
	} else {
		e.envelope = e.envelope*e.releaseCoeff + abs*(1-e.releaseCoeff)
	}

	if e.active {
		if e.envelope > e.peak {
			e.peak = e.envelope
		}
	}

	threshold := e.Threshold()

	if !e.active && e.envelope > threshold && e.sinceOnset >= e.debounceSamples {
		e.active = true
		e.sinceOnset = 0
		e.peak = e.envelope
		return &Onset{Envelope: e.envelope}
	}

	releaseThreshold := threshold * 0.5
	if e.active && e.envelope < releaseThreshold {
		e.active = false
		e.noiseFloor = e.noiseFloor*e.noiseAdaptCoeff + abs*(1-e.noiseAdaptCoeff)
	}

	if !e.active {
		e.noiseFloor = e.noiseFloor*e.noiseAdaptCoeff + abs*(1-e.noiseAdaptCoeff)
	}

	return nil
}

// ProcessBuffer feeds a whole buffer in order and returns the in-buffer
// sample indices of any onsets found (0 or more; the matcher only ever
// consumes the first per 100ms cycle but the detector itself is agnostic).
func (e *Envelope) ProcessBuffer(samples []float32) []Onset {
	var onsets []Onset
	for i, s := range samples {
		if onset := e.Process(s); onset != nil {
			onset.SampleIndex = i
			onsets = append(onsets, *onset)
		}
	}
	return onsets
}

// SNRConfidence maps the most recent burst's peak-to-noise-floor ratio
// (20dB..60dB) linearly onto [0, 1], clamped.
func (e *Envelope) SNRConfidence() float32 {
	nf := e.noiseFloor
	if nf < 1e-4 {
		return 1.0
	}
	snrDB := float32(20.0 * math.Log10(float64(e.peak/nf)))
	conf := (snrDB - 20.0) / 40.0
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// Active reports whether the detector is currently inside a detected burst.
func (e *Envelope) Active() bool { return e.active }

// EnvelopeLevel returns the current envelope value.
func (e *Envelope) EnvelopeLevel() float32 { return e.envelope }

// NoiseFloor returns the current adaptive noise floor estimate.
func (e *Envelope) NoiseFloor() float32 { return e.noiseFloor }

// Reset restores the detector to its initial state, as happens when a
// stream is (re)opened.
func (e *Envelope) Reset() {
	e.envelope = 0
	e.noiseFloor = minNoiseFloor
	e.active = false
	e.sinceOnset = e.debounceSamples
	e.peak = 0
}
