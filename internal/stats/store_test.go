package stats

import (
	"testing"
	"time"
)

func TestNewStoreIsEmpty(t *testing.T) {
	s := New()
	if len(s.LatencyHistory()) != 0 {
		t.Error("fresh store should have no latency history")
	}
	if s.Snapshot().MeasurementCount != 0 {
		t.Error("fresh store should have zero measurement count")
	}
	if s.SessionID == "" {
		t.Error("store should have a non-empty session id")
	}
}

func TestRecordLatencyUpdatesRunningStats(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)

	s.RecordLatency(now, 5.0)
	if got := s.Snapshot().CurrentLatencyMs; got != 5.0 {
		t.Errorf("current latency = %v, want 5.0", got)
	}
	if got := s.Snapshot().MeasurementCount; got != 1 {
		t.Errorf("measurement count = %v, want 1", got)
	}

	s.RecordLatency(now, 10.0)
	snap := s.Snapshot()
	if snap.MinLatencyMs != 5.0 {
		t.Errorf("min latency = %v, want 5.0", snap.MinLatencyMs)
	}
	if snap.MaxLatencyMs != 10.0 {
		t.Errorf("max latency = %v, want 10.0", snap.MaxLatencyMs)
	}
	if snap.AvgLatencyMs != 7.5 {
		t.Errorf("avg latency = %v, want 7.5", snap.AvgLatencyMs)
	}
}

func TestRecordLossAccumulates(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)

	s.RecordLoss(now, 10)
	if s.Snapshot().TotalLost != 10 {
		t.Fatalf("total lost = %v, want 10", s.Snapshot().TotalLost)
	}
	s.RecordLoss(now, 5)
	if s.Snapshot().TotalLost != 15 {
		t.Fatalf("total lost = %v, want 15", s.Snapshot().TotalLost)
	}
	if len(s.LossEvents()) != 2 {
		t.Errorf("expected 2 loss events, got %d", len(s.LossEvents()))
	}
}

func TestClearResetsHistoryAndStats(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	s.RecordLatency(now, 5.0)
	s.RecordLoss(now, 10)

	s.Clear()
	if len(s.LatencyHistory()) != 0 {
		t.Error("latency history should be empty after clear")
	}
	if s.Snapshot().TotalLost != 0 {
		t.Error("total lost should be zero after clear")
	}
}

func TestHistoryIsBoundedToMaxHistorySize(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	for i := 0; i < MaxHistorySize+400; i++ {
		s.RecordLatency(base.Add(time.Duration(i)*time.Second), float64(i))
	}
	if len(s.LatencyHistory()) != MaxHistorySize {
		t.Errorf("history length = %d, want %d", len(s.LatencyHistory()), MaxHistorySize)
	}
}

func TestSetAndGetSampleCounters(t *testing.T) {
	s := New()
	s.SetSamplesSent(1000)
	s.SetSamplesReceived(999)
	if s.Snapshot().SamplesSent != 1000 {
		t.Errorf("samples sent = %v, want 1000", s.Snapshot().SamplesSent)
	}
	if s.Snapshot().SamplesReceived != 999 {
		t.Errorf("samples received = %v, want 999", s.Snapshot().SamplesReceived)
	}

	s.SetSamplesSent(2500)
	s.SetSamplesReceived(2490)
	if s.Snapshot().SamplesSent != 2500 || s.Snapshot().SamplesReceived != 2490 {
		t.Error("cumulative counters should overwrite, not accumulate")
	}
}

func TestResetCountersPreservesHistory(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	s.RecordLatency(now, 5.0)
	s.RecordLoss(now, 10)

	s.ResetCounters()

	if s.Snapshot().TotalLost != 0 {
		t.Error("total lost should be reset")
	}
	if len(s.LatencyHistory()) == 0 {
		t.Error("latency history should survive ResetCounters")
	}
}

func TestLossArchiveAggregatesSameBucket(t *testing.T) {
	s := New()
	base := time.Unix(0, 0)
	s.RecordLoss(base, 3)
	s.RecordLoss(base.Add(2*time.Second), 4) // same 10s bucket

	tl := s.LossTimeline(base.Add(5*time.Second), 3600, 10)
	if len(tl) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(tl))
	}
	if tl[0].Total != 7 {
		t.Errorf("bucket total = %v, want 7", tl[0].Total)
	}
	if tl[0].Count != 2 {
		t.Errorf("bucket count = %v, want 2", tl[0].Count)
	}
}

func TestLossArchiveNewBucketOnBoundaryCross(t *testing.T) {
	s := New()
	base := time.Unix(0, 0)
	s.RecordLoss(base, 3)
	s.RecordLoss(base.Add(15*time.Second), 4) // next 10s bucket

	tl := s.LossTimeline(base.Add(20*time.Second), 3600, 10)
	if len(tl) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(tl))
	}
}

func TestTickAppendsZeroBucketAfterGap(t *testing.T) {
	s := New()
	base := time.Unix(0, 0)
	s.RecordLoss(base, 1)

	s.Tick(base.Add(25 * time.Second))
	tl := s.LossTimeline(base.Add(25*time.Second), 3600, 10)
	if len(tl) < 2 {
		t.Fatalf("expected tick to add a zero bucket, got %d buckets", len(tl))
	}
}

func TestTickDoesNothingBeforeAnyData(t *testing.T) {
	s := New()
	s.Tick(time.Unix(0, 0))
	if len(s.LossTimeline(time.Unix(0, 0), 3600, 10)) != 0 {
		t.Error("tick should not create buckets when no data has ever arrived")
	}
}

func TestDisconnectionEventsRecorded(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	s.RecordDisconnection(now, 1500, true)
	events := s.DisconnectionEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 disconnection event, got %d", len(events))
	}
	if events[0].DurationMs != 1500 || !events[0].Reconnected {
		t.Errorf("unexpected event: %+v", events[0])
	}
}
