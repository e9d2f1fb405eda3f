// Package modbustype holds the core typed address-range model shared by every
// other package in the bridge: register type, per-slave address range, and the
// overlap/merge/consecutive predicates the poll-spec builder and request queues
// depend on.
package modbustype

import "fmt"

// RegisterType identifies which of the four Modbus register spaces an address
// range refers to. COIL and HOLDING are writable; DISCRETE_INPUT and INPUT are
// read-only.
type RegisterType uint8

const (
	Coil RegisterType = iota + 1
	DiscreteInput
	Holding
	Input
)

func (t RegisterType) String() string {
	switch t {
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete_input"
	case Holding:
		return "holding"
	case Input:
		return "input"
	default:
		return fmt.Sprintf("RegisterType(%d)", uint8(t))
	}
}

// Writable reports whether registers of this type accept write commands.
func (t RegisterType) Writable() bool {
	return t == Coil || t == Holding
}

// Range is a typed (slave, type, first, count) address range. The zero value is
// not meaningful; construct via NewRange.
type Range struct {
	SlaveID uint8
	Type    RegisterType
	First   uint16
	Count   uint16
}

// NewRange validates and builds a Range. Count must be >= 1 and first+count-1
// must not overflow a uint16.
func NewRange(slaveID uint8, t RegisterType, first, count uint16) (Range, error) {
	if count == 0 {
		return Range{}, fmt.Errorf("modbustype: count must be >= 1, got 0")
	}
	if uint32(first)+uint32(count)-1 >= 1<<16 {
		return Range{}, fmt.Errorf("modbustype: range %d+%d overflows 16-bit address space", first, count)
	}
	return Range{SlaveID: slaveID, Type: t, First: first, Count: count}, nil
}

// Last returns the last (inclusive) register address covered by this range.
func (r Range) Last() uint16 {
	return r.First + r.Count - 1
}

// Overlaps reports whether r and o share the same slave and type and their
// [First,Last] intervals intersect.
func (r Range) Overlaps(o Range) bool {
	if r.SlaveID != o.SlaveID || r.Type != o.Type {
		return false
	}
	return r.First <= o.Last() && o.First <= r.Last()
}

// IsConsecutiveOf reports whether r immediately follows or precedes o with no
// gap, for the same slave and type.
func (r Range) IsConsecutiveOf(o Range) bool {
	if r.SlaveID != o.SlaveID || r.Type != o.Type {
		return false
	}
	return r.Last()+1 == o.First || o.Last()+1 == r.First
}

// Contains reports whether o lies entirely within r: same slave and type,
// with o's [First,Last] interval a subset of r's.
func (r Range) Contains(o Range) bool {
	if r.SlaveID != o.SlaveID || r.Type != o.Type {
		return false
	}
	return r.First <= o.First && o.Last() <= r.Last()
}

// IsSameAs reports structural equality: same slave, type, first, and count.
func (r Range) IsSameAs(o Range) bool {
	return r.SlaveID == o.SlaveID && r.Type == o.Type && r.First == o.First && r.Count == o.Count
}

// Merge returns the enclosing span of r and o. Both ranges must share slave and
// type; callers (the poll-spec builder) are responsible for only calling Merge on
// ranges that already passed Overlaps or IsConsecutiveOf.
func (r Range) Merge(o Range) Range {
	first := r.First
	if o.First < first {
		first = o.First
	}
	last := r.Last()
	if o.Last() > last {
		last = o.Last()
	}
	return Range{SlaveID: r.SlaveID, Type: r.Type, First: first, Count: last - first + 1}
}
