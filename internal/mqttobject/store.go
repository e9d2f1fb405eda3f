// Package mqttobject implements the MQTT object model (C10): a tree of data
// nodes mapped onto one or more registers, availability evaluation, and
// scalar/JSON payload formatting.
//
// The register read-state store is grounded on the teacher's
// internal/state/edge-state.go (a mutex-guarded map keyed by device name,
// updated on every device-state report); here the key is register identity
// (network, slave, type, first, count) rather than device name, since state flows in
// from C9's RegisterValues/RegisterReadFailed events instead of a single
// per-device heartbeat.
package mqttobject

import (
	"sync"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

// RegisterKey identifies one polled register range across networks.
type RegisterKey struct {
	Network string
	Range   modbustype.Range
}

// ReadState is the last known outcome for one register range.
type ReadState struct {
	Values []uint16
	OK     bool
}

// Store holds the latest read state for every register range the worker
// pool reports on, consumed by data nodes when formatting state/availability.
type Store struct {
	mu     sync.RWMutex
	states map[RegisterKey]ReadState
}

// NewStore builds an empty register read-state store.
func NewStore() *Store {
	return &Store{states: make(map[RegisterKey]ReadState)}
}

// Update records the outcome of a read or write on a register range.
func (s *Store) Update(network string, r modbustype.Range, values []uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[RegisterKey{Network: network, Range: r}] = ReadState{Values: values, OK: ok}
}

// Get returns the last known state for a register range and whether it has
// ever been reported at all (the "NotSet" distinction). A data node's range
// need not match a reported range exactly: the poll-spec builder may have
// folded several adjacent leaf ranges into one grouped poll, so Get falls
// back to scanning for a reported range that contains r and slices out the
// corresponding window of values.
func (s *Store) Get(network string, r modbustype.Range) (ReadState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[RegisterKey{Network: network, Range: r}]; ok {
		return st, true
	}
	for key, st := range s.states {
		if key.Network != network || !key.Range.Contains(r) {
			continue
		}
		offset := int(r.First - key.Range.First)
		if offset+int(r.Count) > len(st.Values) {
			continue
		}
		return ReadState{Values: st.Values[offset : offset+int(r.Count)], OK: st.OK}, true
	}
	return ReadState{}, false
}

// Clear drops all recorded state, used when a network fully reconnects and
// every poll is about to re-run as an initial poll.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[RegisterKey]ReadState)
}
