package mqttobject

import (
	"testing"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

func TestStoreGetExactMatch(t *testing.T) {
	s := NewStore()
	r, _ := modbustype.NewRange(1, modbustype.Holding, 5, 2)
	s.Update("net1", r, []uint16{10, 20}, true)

	st, ok := s.Get("net1", r)
	if !ok || !st.OK || st.Values[0] != 10 || st.Values[1] != 20 {
		t.Fatalf("expected exact match, got %+v ok=%v", st, ok)
	}
}

func TestStoreGetExtractsWindowFromGroupedRange(t *testing.T) {
	s := NewStore()
	group, _ := modbustype.NewRange(1, modbustype.Holding, 0, 4)
	s.Update("net1", group, []uint16{1, 2, 3, 4}, true)

	leaf, _ := modbustype.NewRange(1, modbustype.Holding, 2, 1)
	st, ok := s.Get("net1", leaf)
	if !ok {
		t.Fatal("expected a hit via containment")
	}
	if len(st.Values) != 1 || st.Values[0] != 3 {
		t.Fatalf("expected [3], got %v", st.Values)
	}
	if !st.OK {
		t.Fatal("expected OK to carry over from the grouped range")
	}
}

func TestStoreGetMissUntilReported(t *testing.T) {
	s := NewStore()
	r, _ := modbustype.NewRange(1, modbustype.Holding, 5, 1)
	if _, ok := s.Get("net1", r); ok {
		t.Fatal("expected no state before any Update")
	}
}

func TestStoreClearDropsAllState(t *testing.T) {
	s := NewStore()
	r, _ := modbustype.NewRange(1, modbustype.Holding, 5, 1)
	s.Update("net1", r, []uint16{7}, true)
	s.Clear()
	if _, ok := s.Get("net1", r); ok {
		t.Fatal("expected state cleared")
	}
}
