package detector

import "testing"

func TestSilenceNeverTriggers(t *testing.T) {
	e := New(48000)
	for i := 0; i < 1000; i++ {
		if onset := e.Process(0.0); onset != nil {
			t.Fatalf("sample %d: silence produced an onset", i)
		}
	}
	if e.Active() {
		t.Fatal("detector should not be active after pure silence")
	}
}

func TestOnsetOnSuddenBurst(t *testing.T) {
	e := New(48000)
	for i := 0; i < 1000; i++ {
		e.Process(0.0)
	}

	var gotOnset bool
	for i := 0; i < 100; i++ {
		if e.Process(0.5) != nil {
			gotOnset = true
			break
		}
	}
	if !gotOnset {
		t.Fatal("burst should be detected within 100 samples")
	}
	if !e.Active() {
		t.Fatal("detector should be active after onset")
	}
}

func TestReleaseAfterExtendedSilence(t *testing.T) {
	e := New(48000)
	for i := 0; i < 1000; i++ {
		e.Process(0.0)
	}
	for i := 0; i < 100; i++ {
		e.Process(0.5)
	}
	if !e.Active() {
		t.Fatal("detector should be active during burst")
	}
	for i := 0; i < 10000; i++ {
		e.Process(0.0)
	}
	if e.Active() {
		t.Fatalf("detector should release after silence: envelope=%v threshold=%v", e.EnvelopeLevel(), e.Threshold())
	}
}

func TestDebounceBlocksImmediateRetrigger(t *testing.T) {
	e := New(48000)
	for i := 0; i < 100; i++ {
		e.Process(0.5)
	}
	for i := 0; i < 3000; i++ { // long enough for the envelope to fall below the release threshold
		e.Process(0.0)
	}
	if e.Active() {
		t.Fatal("detector should have released before the retrigger attempt")
	}
	retriggered := false
	remaining := e.debounceSamples - e.sinceOnset - 10
	for i := 0; i < remaining; i++ {
		if e.Process(0.5) != nil {
			retriggered = true
		}
	}
	if retriggered {
		t.Fatal("should not re-detect within the debounce window")
	}
}

func TestThresholdRatioClampsAndOrders(t *testing.T) {
	e := New(48000)
	e.SetThresholdRatio(1.0)
	if e.thresholdRatio != minThresholdRatio {
		t.Errorf("ratio should clamp to floor of 2, got %v", e.thresholdRatio)
	}
	e.SetThresholdRatio(5.0)
	low := e.Threshold()
	e.SetThresholdRatio(20.0)
	high := e.Threshold()
	if high <= low {
		t.Errorf("higher ratio should give a higher threshold: low=%v high=%v", low, high)
	}
}

func TestReset(t *testing.T) {
	e := New(48000)
	for i := 0; i < 100; i++ {
		e.Process(0.5)
	}
	e.Reset()
	if e.Active() {
		t.Error("active should be false after reset")
	}
	if e.EnvelopeLevel() != 0 {
		t.Errorf("envelope should be 0 after reset, got %v", e.EnvelopeLevel())
	}
}

func TestProcessBufferFindsSingleOnset(t *testing.T) {
	e := New(48000)
	buf := make([]float32, 2000)
	for i := 1000; i < len(buf); i++ {
		buf[i] = 0.5
	}
	onsets := e.ProcessBuffer(buf)
	if len(onsets) != 1 {
		t.Fatalf("expected exactly one onset, got %d", len(onsets))
	}
	if onsets[0].SampleIndex < 1000 {
		t.Errorf("onset index %d should be at or after burst start 1000", onsets[0].SampleIndex)
	}
}
