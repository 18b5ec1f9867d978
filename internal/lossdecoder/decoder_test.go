package lossdecoder

import "testing"

func TestInOrderSequenceReportsNoLoss(t *testing.T) {
	d := New(48000)
	d.Observe(1) // synchronizes
	for v := uint16(2); v <= 100; v++ {
		if g, s := d.Observe(v); g != nil || s != nil {
			t.Fatalf("value %d: unexpected gap=%v silence=%v", v, g, s)
		}
	}
	if d.TotalLost() != 0 {
		t.Errorf("expected zero loss, got %d", d.TotalLost())
	}
}

func TestSingleSkipReportsOneLost(t *testing.T) {
	d := New(48000)
	d.Observe(1)
	d.Observe(2)
	g, _ := d.Observe(5) // jump of 2 past expected reports 1 lost sample
	if g == nil {
		t.Fatal("expected a gap")
	}
	if g.Lost != 1 {
		t.Errorf("expected 1 lost sample, got %d", g.Lost)
	}
}

func TestLeadingZeroBelowThresholdDoesNotSeed(t *testing.T) {
	d := New(48000)
	d.Observe(0) // below the silence-run threshold; must not seed expected
	if d.haveExpected {
		t.Fatal("a lone leading zero should not establish synchronization")
	}
	g, _ := d.Observe(9000) // resumes far from zero, unrelated to the stray zero
	if g != nil {
		t.Errorf("first real observation after a stray leading zero should seed, not report a gap, got %v", g)
	}
	if !d.haveExpected || d.expected != 9001 {
		t.Errorf("expected to seed from the resumed value, got haveExpected=%v expected=%v", d.haveExpected, d.expected)
	}
}

func TestLargerSkipReportsCorrectCount(t *testing.T) {
	d := New(48000)
	d.Observe(100)
	g, _ := d.Observe(150) // g = 150 - 101 = 49, reported as g-1 = 48
	if g == nil {
		t.Fatal("expected a gap")
	}
	if g.Lost != 48 {
		t.Errorf("expected 48 lost samples, got %d", g.Lost)
	}
}

func TestDuplicateValueIsNotLoss(t *testing.T) {
	d := New(48000)
	d.Observe(10)
	d.expected = 10 // force duplicate scenario: next observed repeats 10
	if g, s := d.Observe(10); g != nil || s != nil {
		t.Fatalf("duplicate should be in-order, got gap=%v silence=%v", g, s)
	}
}

func TestBackwardJumpIsIgnored(t *testing.T) {
	d := New(48000)
	d.Observe(1000)
	g, s := d.Observe(10) // far backward relative to expected 1001
	if g != nil {
		t.Fatalf("backward jump should not report loss, got %v", g)
	}
	if s != nil {
		t.Fatalf("backward jump should not trigger silence, got %v", s)
	}
}

func TestCounterWrapIsInOrder(t *testing.T) {
	d := New(48000)
	d.Observe(65534)
	d.Observe(65535)
	if g, _ := d.Observe(0); g != nil {
		t.Fatalf("wraparound increment should be in-order, got gap %v", g)
	}
}

func TestExtendedZerosDeclareSilence(t *testing.T) {
	d := New(48000) // silence run = 4800 samples; threshold is exceeded at 4801
	d.Observe(500)
	var gotSilence *SilenceEvent
	for i := 0; i < 4801; i++ {
		_, s := d.Observe(0)
		if s != nil {
			gotSilence = s
			break
		}
	}
	if gotSilence == nil {
		t.Fatal("expected a silence event")
	}
	if gotSilence.Recovered {
		t.Error("first silence event should not be marked recovered")
	}
	if !d.Silent() {
		t.Error("decoder should report Silent() true")
	}
}

func TestRecoveryAfterSilenceResynchronizes(t *testing.T) {
	d := New(48000)
	for i := 0; i < 4801; i++ {
		d.Observe(0)
	}
	if !d.Silent() {
		t.Fatal("decoder should be silent before recovery")
	}
	_, s := d.Observe(42)
	if s == nil || !s.Recovered {
		t.Fatal("expected a recovery silence event")
	}
	if d.Silent() {
		t.Error("decoder should no longer be silent")
	}
	if g, _ := d.Observe(43); g != nil {
		t.Errorf("post-recovery in-order sample should not report loss, got %v", g)
	}
}

func TestLegitimateZerosBelowRunLengthDoNotTriggerSilence(t *testing.T) {
	d := New(48000)
	d.Observe(1)
	for i := 0; i < 100; i++ {
		if _, s := d.Observe(0); s != nil {
			t.Fatalf("short zero run should not trigger silence at i=%d", i)
		}
	}
}

func TestResetClearsState(t *testing.T) {
	d := New(48000)
	d.Observe(1)
	d.Observe(6) // 3 lost
	d.Reset()
	if d.TotalLost() != 0 {
		t.Error("total lost should reset to 0")
	}
	if d.Silent() {
		t.Error("silent should reset to false")
	}
	if g, _ := d.Observe(7); g != nil {
		t.Error("first observation after reset should synchronize, not report a gap")
	}
}

func TestObserveBatchAccumulatesGapsAndSilences(t *testing.T) {
	d := New(48000)
	values := []uint16{1, 2, 7}
	gaps, silences := d.ObserveBatch(values)
	if len(gaps) != 1 || gaps[0].Lost != 3 {
		t.Fatalf("expected a single gap of 3 lost samples, got %v", gaps)
	}
	if len(silences) != 0 {
		t.Fatalf("expected no silence events, got %v", silences)
	}
}
