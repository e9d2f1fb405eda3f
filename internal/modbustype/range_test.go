package modbustype

import "testing"

func mustRange(t *testing.T, slave uint8, rt RegisterType, first, count uint16) Range {
	t.Helper()
	r, err := NewRange(slave, rt, first, count)
	if err != nil {
		t.Fatalf("NewRange: %v", err)
	}
	return r
}

func TestRangeOverlaps(t *testing.T) {
	a := mustRange(t, 1, Holding, 10, 5) // 10-14
	b := mustRange(t, 1, Holding, 14, 2) // 14-15
	c := mustRange(t, 1, Holding, 15, 2) // 15-16
	d := mustRange(t, 2, Holding, 10, 5) // different slave
	e := mustRange(t, 1, Input, 10, 5)   // different type

	if !a.Overlaps(b) {
		t.Errorf("expected a to overlap b")
	}
	if a.Overlaps(c) {
		t.Errorf("did not expect a to overlap c")
	}
	if a.Overlaps(d) {
		t.Errorf("different slave must never overlap")
	}
	if a.Overlaps(e) {
		t.Errorf("different type must never overlap")
	}
}

func TestRangeIsConsecutiveOf(t *testing.T) {
	a := mustRange(t, 1, Coil, 10, 5) // 10-14
	b := mustRange(t, 1, Coil, 15, 3) // 15-17, consecutive after a
	c := mustRange(t, 1, Coil, 16, 3) // 16-18, overlaps a gap, not consecutive

	if !a.IsConsecutiveOf(b) {
		t.Errorf("expected a consecutive of b")
	}
	if !b.IsConsecutiveOf(a) {
		t.Errorf("consecutive must be symmetric")
	}
	if a.IsConsecutiveOf(c) {
		t.Errorf("did not expect a consecutive of c (gap skipped)")
	}
}

func TestRangeMerge(t *testing.T) {
	a := mustRange(t, 1, Holding, 10, 5)  // 10-14
	b := mustRange(t, 1, Holding, 12, 10) // 12-21
	m := a.Merge(b)
	if m.First != 10 || m.Last() != 21 {
		t.Errorf("merge got [%d,%d], want [10,21]", m.First, m.Last())
	}
}

func TestRangeIsSameAs(t *testing.T) {
	a := mustRange(t, 1, Holding, 10, 5)
	b := mustRange(t, 1, Holding, 10, 5)
	c := mustRange(t, 1, Holding, 10, 6)
	if !a.IsSameAs(b) {
		t.Errorf("expected equal ranges to be IsSameAs")
	}
	if a.IsSameAs(c) {
		t.Errorf("different count must not be IsSameAs")
	}
}

func TestRangeContains(t *testing.T) {
	a := mustRange(t, 1, Holding, 10, 5) // 10-14
	inner := mustRange(t, 1, Holding, 11, 2) // 11-12
	equal := mustRange(t, 1, Holding, 10, 5)
	overhang := mustRange(t, 1, Holding, 12, 5) // 12-16, extends past a
	diffSlave := mustRange(t, 2, Holding, 11, 2)

	if !a.Contains(inner) {
		t.Errorf("expected a to contain inner")
	}
	if !a.Contains(equal) {
		t.Errorf("expected a range to contain itself")
	}
	if a.Contains(overhang) {
		t.Errorf("did not expect a to contain a range that extends past it")
	}
	if a.Contains(diffSlave) {
		t.Errorf("different slave must never be contained")
	}
}

func TestNewRangeOverflow(t *testing.T) {
	if _, err := NewRange(1, Holding, 65530, 10); err == nil {
		t.Errorf("expected overflow error")
	}
	if _, err := NewRange(1, Holding, 0, 0); err == nil {
		t.Errorf("expected zero-count error")
	}
}
