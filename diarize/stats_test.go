package diarize

import (
	"math"
	"testing"
)

func TestComputeStats(t *testing.T) {
	segments := []Segment{
		{StartMs: 0, EndMs: 4000, Speaker: 0},
		{StartMs: 4000, EndMs: 6000, Speaker: 1},
		{StartMs: 6000, EndMs: 8000, Speaker: 0},
	}

	stats := ComputeStats(segments)
	if len(stats) != 2 {
		t.Fatalf("got %d speakers, want 2", len(stats))
	}

	s0 := stats[0]
	if s0.Speaker != 0 || s0.SegmentCount != 2 || s0.TotalMs != 6000 {
		t.Errorf("speaker 0 stats = %+v", s0)
	}
	if math.Abs(s0.Share-0.75) > 1e-9 {
		t.Errorf("speaker 0 share = %f, want 0.75", s0.Share)
	}
	if math.Abs(s0.MeanSegmentMs-3000) > 1e-9 {
		t.Errorf("speaker 0 mean = %f, want 3000", s0.MeanSegmentMs)
	}

	s1 := stats[1]
	if s1.Speaker != 1 || s1.SegmentCount != 1 || s1.TotalMs != 2000 {
		t.Errorf("speaker 1 stats = %+v", s1)
	}
	// Один сегмент: разброс определён как ноль, не NaN
	if s1.StdDevSegmentMs != 0 {
		t.Errorf("speaker 1 stddev = %f, want 0", s1.StdDevSegmentMs)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	if stats := ComputeStats(nil); stats != nil {
		t.Errorf("ComputeStats(nil) = %v, want nil", stats)
	}
}
