// Package pollspec builds the per-network poll specification: it merges
// overlapping register ranges coming from different MQTT objects into a single
// grouped poll, then folds consecutive same-type ranges into one transport call.
//
// Grounded on libmodmqttsrv/modbus_messages.{hpp,cpp} (MsgRegisterPollSpecification).
package pollspec

import (
	"sort"
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

// PublishMode governs when a grouped poll's state is published. The zero value
// is not meaningful; use the named constants.
type PublishMode uint8

const (
	OnChange PublishMode = iota + 1
	EveryPoll
	Once
)

// mergePriority ranks publish modes so the "most reporting" one wins a merge:
// EveryPoll > OnChange > Once.
func (m PublishMode) mergePriority() int {
	switch m {
	case EveryPoll:
		return 3
	case OnChange:
		return 2
	case Once:
		return 1
	default:
		return 0
	}
}

// mergeMode returns the higher-priority of a and b.
func mergeMode(a, b PublishMode) PublishMode {
	if b.mergePriority() > a.mergePriority() {
		return b
	}
	return a
}

// NoRefresh is the "unset" refresh sentinel: treated as +Inf when comparing for
// the minimum during a merge, mirroring MsgRegisterPoll::INVALID_REFRESH.
const NoRefresh time.Duration = -1

// Poll is one input to the builder: an address range plus optional refresh
// period and publish mode.
type Poll struct {
	Range       modbustype.Range
	Refresh     time.Duration // NoRefresh if unset
	PublishMode PublishMode
}

// isSameAs compares structural identity, mirroring MsgRegisterPoll::isSameAs.
func (p Poll) isSameAs(o Poll) bool {
	return p.Range.IsSameAs(o.Range)
}

// merge folds o into p: the range becomes the enclosing union, the refresh
// becomes the minimum of the two (NoRefresh treated as +Inf), and the publish
// mode becomes the most-reporting of the two.
func (p Poll) merge(o Poll) Poll {
	p.Range = p.Range.Merge(o.Range)
	switch {
	case p.Refresh == NoRefresh:
		p.Refresh = o.Refresh
	case o.Refresh != NoRefresh && o.Refresh < p.Refresh:
		p.Refresh = o.Refresh
	}
	p.PublishMode = mergeMode(p.PublishMode, o.PublishMode)
	return p
}

// Spec accumulates the grouped poll list for one Modbus network.
type Spec struct {
	NetworkName string
	Polls       []Poll
}

// NewSpec creates an empty poll specification for the named network.
func NewSpec(networkName string) *Spec {
	return &Spec{NetworkName: networkName}
}

// Merge folds poll into the spec: every existing entry that overlaps poll
// (same slave and type, intersecting ranges) is removed and unioned into a
// single new entry, which replaces them. Entries that don't overlap poll are
// left untouched. Mirrors MsgRegisterPollSpecification::merge.
func (s *Spec) Merge(poll Poll) {
	kept := s.Polls[:0:0]
	var overlapped []Poll
	for _, existing := range s.Polls {
		if poll.Range.SlaveID == existing.Range.SlaveID && poll.Range.Overlaps(existing.Range) {
			overlapped = append(overlapped, existing)
		} else {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, poll)
	for _, o := range overlapped {
		kept[len(kept)-1] = kept[len(kept)-1].merge(o)
	}
	s.Polls = kept
}

// MergeAll merges every poll in list in order.
func (s *Spec) MergeAll(list []Poll) {
	for _, p := range list {
		s.Merge(p)
	}
}

// Group partitions the current poll list by (slave, type), sorts each bucket
// by first register, and folds consecutive ranges into one grouped poll taking
// the minimum refresh. Non-consecutive ranges in the same bucket are left
// distinct. Mirrors MsgRegisterPollSpecification::group.
//
// Group does not itself detect overlaps (Merge already guarantees the bucket
// holds non-overlapping ranges); it only fuses adjacency.
func (s *Spec) Group() {
	type bucketKey struct {
		slave uint8
		typ   modbustype.RegisterType
	}
	buckets := make(map[bucketKey][]Poll)
	var order []bucketKey
	for _, p := range s.Polls {
		k := bucketKey{p.Range.SlaveID, p.Range.Type}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], p)
	}

	var grouped []Poll
	for _, k := range order {
		regs := buckets[k]
		sort.Slice(regs, func(i, j int) bool { return regs[i].Range.First < regs[j].Range.First })

		folded := []Poll{regs[0]}
		for _, next := range regs[1:] {
			last := &folded[len(folded)-1]
			if last.Range.IsConsecutiveOf(next.Range) {
				*last = last.merge(next)
			} else {
				folded = append(folded, next)
			}
		}
		grouped = append(grouped, folded...)
	}
	s.Polls = grouped
}
