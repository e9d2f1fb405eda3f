package registerref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

func TestParseDecimalOneBased(t *testing.T) {
	ref, err := Parse("plc1.3.1")
	require.NoError(t, err)
	assert.Equal(t, Ref{Network: "plc1", Slave: 3, Number: 0}, ref)
}

func TestParseHexZeroBased(t *testing.T) {
	ref, err := Parse("plc1.3.0x10")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x10), ref.Number)
}

func TestParseRejectsZeroDecimalRegister(t *testing.T) {
	_, err := Parse("plc1.3.0")
	assert.Error(t, err)
}

func TestParseRejectsWrongShape(t *testing.T) {
	for _, s := range []string{"plc1.3", "plc1.3.1.1", "", "..1"} {
		_, err := Parse(s)
		assert.Errorf(t, err, "expected error for malformed identifier %q", s)
	}
}

func TestParseType(t *testing.T) {
	cases := map[string]modbustype.RegisterType{
		"coil":           modbustype.Coil,
		"discrete_input": modbustype.DiscreteInput,
		"holding":        modbustype.Holding,
		"input":          modbustype.Input,
	}
	for s, want := range cases {
		got, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("bogus")
	assert.Error(t, err)
}

func TestRefRangeBuildsModbustypeRange(t *testing.T) {
	ref, err := Parse("plc1.3.1")
	require.NoError(t, err)
	r, err := ref.Range(modbustype.Holding, 2)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), r.SlaveID)
	assert.Equal(t, modbustype.Holding, r.Type)
	assert.Equal(t, uint16(0), r.First)
	assert.Equal(t, uint16(2), r.Count)
}

func TestExpandTopic(t *testing.T) {
	got := ExpandTopic("devices/${network}/${slave_address}/${slave_name}/state", "plc1", 3, "pump")
	assert.Equal(t, "devices/plc1/3/pump/state", got)
}

func TestExpandTopicNoPlaceholders(t *testing.T) {
	got := ExpandTopic("fixed/topic", "plc1", 3, "pump")
	assert.Equal(t, "fixed/topic", got)
}
