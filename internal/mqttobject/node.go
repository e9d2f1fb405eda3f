package mqttobject

import (
	"github.com/fisaks/modbus-mqtt-bridge/internal/bridgeerrors"
	"github.com/fisaks/modbus-mqtt-bridge/internal/converter"
	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

// DataNode is one node of an object's state or availability tree (spec.md
// §4.9): a leaf is a single register range with an optional converter; a
// composite holds an ordered list of children. The zero value is not
// meaningful; build via NewLeaf/NewComposite.
type DataNode struct {
	Name string // "" for an unnamed node

	// Leaf fields. Network/Range identify the polled register; Conv is
	// applied to the raw words. Children is nil for a leaf.
	Network string
	Range   modbustype.Range
	Conv    converter.Converter

	// AvailableValue, when set on a leaf inside an availability tree, is the
	// constant the converted reading must equal for availability to be True.
	AvailableValue *float64

	Children []*DataNode
}

// NewLeaf builds a scalar data node bound to one register range.
func NewLeaf(name, network string, r modbustype.Range, conv converter.Converter) *DataNode {
	return &DataNode{Name: name, Network: network, Range: r, Conv: conv}
}

// NewComposite builds a composite data node from an ordered child list.
func NewComposite(name string, children ...*DataNode) *DataNode {
	return &DataNode{Name: name, Children: children}
}

// IsLeaf reports whether this node is a scalar register reference.
func (n *DataNode) IsLeaf() bool { return n.Children == nil }

// Leaves returns every leaf node in this node's subtree, in document order.
func (n *DataNode) Leaves() []*DataNode {
	if n.IsLeaf() {
		return []*DataNode{n}
	}
	var out []*DataNode
	for _, c := range n.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// value reads this leaf's current value from store and converts it. ok is
// false if the register has never been read or its last read failed.
func (n *DataNode) value(store *Store) (converter.Value, bool, error) {
	st, seen := store.Get(n.Network, n.Range)
	if !seen || !st.OK {
		return 0, false, nil
	}
	conv := n.Conv
	if conv == nil {
		conv = converter.Int16Converter{}
	}
	v, err := conv.ToMQTT(st.Values)
	if err != nil {
		return 0, false, bridgeerrors.Wrap(bridgeerrors.Conversion, "converting "+n.Name, err)
	}
	return v, true, nil
}

// Format builds the JSON-serializable representation of this node per
// spec.md §4.9's composite/scalar rule: a composite whose children are all
// named serializes as an object; all-unnamed serializes as an array; a leaf
// serializes as a bare value. ok reports whether every leaf involved had a
// successful reading (the caller folds this into the object's availability).
func (n *DataNode) Format(store *Store) (any, bool, error) {
	if n.IsLeaf() {
		v, ok, err := n.value(store)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		return float64(v), true, nil
	}

	allNamed := true
	allUnnamed := true
	for _, c := range n.Children {
		if c.Name == "" {
			allNamed = false
		} else {
			allUnnamed = false
		}
	}

	if allNamed {
		out := make(map[string]any, len(n.Children))
		ok := true
		for _, c := range n.Children {
			v, cok, err := c.Format(store)
			if err != nil {
				return nil, false, err
			}
			ok = ok && cok
			out[c.Name] = v
		}
		return out, ok, nil
	}

	if allUnnamed {
		out := make([]any, len(n.Children))
		ok := true
		for i, c := range n.Children {
			v, cok, err := c.Format(store)
			if err != nil {
				return nil, false, err
			}
			ok = ok && cok
			out[i] = v
		}
		return out, ok, nil
	}

	return nil, false, bridgeerrors.New(bridgeerrors.Configuration, "data node children must be all-named or all-unnamed")
}
