package mqttobject

import (
	"encoding/json"

	"github.com/fisaks/modbus-mqtt-bridge/internal/pollspec"
)

// Availability is the tri-state flag spec.md §4.9 attaches to every object.
type Availability uint8

const (
	NotSet Availability = iota
	False
	True
)

func (a Availability) String() string {
	switch a {
	case True:
		return "1"
	case False:
		return "0"
	default:
		return ""
	}
}

// CommandSpec describes one writable command topic on an object.
type CommandSpec struct {
	Name  string
	Node  *DataNode
	Count int
}

// Object is one MQTT-addressable entity: a topic, a state tree, an optional
// availability tree, and zero or more command topics.
type Object struct {
	Topic        string
	State        *DataNode
	Availability *DataNode
	Commands     []CommandSpec
	Retain       bool
	PublishMode  pollspec.PublishMode

	publishedOnce bool
	lastAvail     Availability
}

// NewObject builds an object from its configured trees.
func NewObject(topic string, state, availability *DataNode, publishMode pollspec.PublishMode, retain bool) *Object {
	return &Object{Topic: topic, State: state, Availability: availability, PublishMode: publishMode, Retain: retain}
}

// EvaluateAvailability implements spec.md §4.9's rule: NotSet while any
// involved register (state tree plus availability tree, if present) has
// never been read; False if any involved register's last read failed, or if
// the availability tree's converted reading doesn't match its configured
// available_value; True otherwise.
func (o *Object) EvaluateAvailability(store *Store) Availability {
	leaves := o.State.Leaves()
	if o.Availability != nil {
		leaves = append(leaves, o.Availability.Leaves()...)
	}

	anyFailed := false
	allSeen := true
	for _, leaf := range leaves {
		st, seen := store.Get(leaf.Network, leaf.Range)
		if !seen {
			allSeen = false
			continue
		}
		if !st.OK {
			anyFailed = true
		}
	}
	if !allSeen {
		return NotSet
	}
	if anyFailed {
		return False
	}

	if o.Availability != nil {
		for _, leaf := range o.Availability.Leaves() {
			if leaf.AvailableValue == nil {
				continue
			}
			v, ok, err := leaf.value(store)
			if err != nil || !ok {
				return False
			}
			if float64(v) != *leaf.AvailableValue {
				return False
			}
		}
	}
	return True
}

// FormatState builds the JSON payload for the state topic, per spec.md
// §4.9's composite/scalar serialization rule.
func (o *Object) FormatState(store *Store) ([]byte, error) {
	v, _, err := o.State.Format(store)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// ShouldPublishState decides whether a state publish should occur right now,
// given the object's publish mode and its current availability. Nothing is
// published unless avail is True. ONCE publishes only until MarkPublished has
// been called and never again for the lifetime of the Object (the flag is not
// reset on reconnect); ON_CHANGE/EVERY_POLL defer entirely to the caller's
// change-detection (the executor already decides whether a RegisterValues
// event fires at all).
func (o *Object) ShouldPublishState(avail Availability) bool {
	if avail != True {
		return false
	}
	if o.PublishMode == pollspec.Once && o.publishedOnce {
		return false
	}
	return true
}

// MarkPublished records that a state publish has gone out, used by ONCE
// objects to suppress all further publishes.
func (o *Object) MarkPublished() {
	o.publishedOnce = true
}

// AvailabilityChanged reports whether avail differs from the last value
// returned by this method, and records avail as the new baseline. Every
// availability transition must publish unconditionally (spec.md §4.9).
func (o *Object) AvailabilityChanged(avail Availability) bool {
	changed := avail != o.lastAvail
	o.lastAvail = avail
	return changed
}
