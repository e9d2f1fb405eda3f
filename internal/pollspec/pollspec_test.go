package pollspec

import (
	"testing"
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

func poll(t *testing.T, slave uint8, first, count uint16, refresh time.Duration, mode PublishMode) Poll {
	t.Helper()
	r, err := modbustype.NewRange(slave, modbustype.Holding, first, count)
	if err != nil {
		t.Fatalf("NewRange: %v", err)
	}
	return Poll{Range: r, Refresh: refresh, PublishMode: mode}
}

func TestMergeNoOverlapAppends(t *testing.T) {
	s := NewSpec("net1")
	s.Merge(poll(t, 1, 10, 2, 5*time.Millisecond, OnChange))
	s.Merge(poll(t, 1, 100, 2, 5*time.Millisecond, OnChange))
	if len(s.Polls) != 2 {
		t.Fatalf("expected 2 polls, got %d", len(s.Polls))
	}
}

func TestMergeOverlapUnionsRangeAndMinRefresh(t *testing.T) {
	s := NewSpec("net1")
	s.Merge(poll(t, 1, 10, 5, 50*time.Millisecond, OnChange)) // 10-14
	s.Merge(poll(t, 1, 12, 5, 5*time.Millisecond, EveryPoll)) // 12-16, overlaps

	if len(s.Polls) != 1 {
		t.Fatalf("expected 1 merged poll, got %d", len(s.Polls))
	}
	got := s.Polls[0]
	if got.Range.First != 10 || got.Range.Last() != 16 {
		t.Errorf("union range = [%d,%d], want [10,16]", got.Range.First, got.Range.Last())
	}
	if got.Refresh != 5*time.Millisecond {
		t.Errorf("refresh = %v, want 5ms (min)", got.Refresh)
	}
	if got.PublishMode != EveryPoll {
		t.Errorf("publish mode = %v, want EveryPoll (most reporting)", got.PublishMode)
	}
}

func TestMergeInvariantNoOverlapsRemain(t *testing.T) {
	s := NewSpec("net1")
	s.Merge(poll(t, 1, 10, 5, NoRefresh, OnChange))
	s.Merge(poll(t, 1, 20, 5, NoRefresh, OnChange))
	s.Merge(poll(t, 1, 14, 10, NoRefresh, OnChange)) // overlaps both

	for i := 0; i < len(s.Polls); i++ {
		for j := i + 1; j < len(s.Polls); j++ {
			if s.Polls[i].Range.Overlaps(s.Polls[j].Range) {
				t.Errorf("invariant violated: poll %d overlaps poll %d", i, j)
			}
		}
	}
}

func TestGroupFusesConsecutiveNotOverlapping(t *testing.T) {
	s := NewSpec("net1")
	// Directly seed distinct consecutive ranges (as merge() would leave them).
	s.Polls = []Poll{
		poll(t, 1, 30, 5, 10*time.Millisecond, OnChange), // 30-34
		poll(t, 1, 10, 5, 50*time.Millisecond, OnChange), // 10-14
		poll(t, 1, 15, 5, 5*time.Millisecond, OnChange),  // 15-19, consecutive with 10-14
		poll(t, 1, 40, 5, 10*time.Millisecond, OnChange), // 40-44, not consecutive with 30-34 (gap at 35-39)
	}
	s.Group()

	if len(s.Polls) != 3 {
		t.Fatalf("expected 3 groups, got %d: %+v", len(s.Polls), s.Polls)
	}
	// first group should be the fused 10-19 with refresh 5ms
	var fused Poll
	for _, p := range s.Polls {
		if p.Range.First == 10 {
			fused = p
		}
	}
	if fused.Range.Last() != 19 {
		t.Errorf("fused range last = %d, want 19", fused.Range.Last())
	}
	if fused.Refresh != 5*time.Millisecond {
		t.Errorf("fused refresh = %v, want 5ms", fused.Refresh)
	}
}

func TestRefreshMonotonicityAbsentTreatedAsInfinite(t *testing.T) {
	s := NewSpec("net1")
	s.Merge(poll(t, 1, 10, 5, NoRefresh, OnChange))
	s.Merge(poll(t, 1, 12, 5, 20*time.Millisecond, OnChange))
	if s.Polls[0].Refresh != 20*time.Millisecond {
		t.Errorf("refresh = %v, want 20ms (NoRefresh treated as +inf)", s.Polls[0].Refresh)
	}
}
