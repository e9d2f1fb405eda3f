package transport

import (
	"testing"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

func TestDecodeValuesHolding(t *testing.T) {
	r, _ := modbustype.NewRange(1, modbustype.Holding, 0, 2)
	got := decodeValues(r, []byte{0x7F, 0xE8, 0x00, 0x01})
	want := []uint16{0x7FE8, 0x0001}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestDecodeValuesCoilBits(t *testing.T) {
	r, _ := modbustype.NewRange(1, modbustype.Coil, 0, 10)
	// byte0 = 0b00000101 -> bits 0,2 set; byte1 = 0b00000010 -> bit 9 set
	got := decodeValues(r, []byte{0b00000101, 0b00000010})
	want := []uint16{1, 0, 1, 0, 0, 0, 0, 0, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bit %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPackRegistersRoundTrip(t *testing.T) {
	in := []uint16{0x1234, 0xABCD}
	packed := packRegisters(in)
	r, _ := modbustype.NewRange(1, modbustype.Holding, 0, 2)
	out := decodeValues(r, packed)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("round trip word %d = %#x, want %#x", i, out[i], in[i])
		}
	}
}

func TestPackCoils(t *testing.T) {
	got := packCoils([]uint16{1, 0, 1, 0, 0, 0, 0, 0, 0, 1})
	want := []byte{0b00000101, 0b00000010}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %08b, want %08b", i, got[i], want[i])
		}
	}
}

