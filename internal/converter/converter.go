// Package converter implements the pure register<->value transforms applied
// between the wire (raw uint16 register words) and MQTT JSON payloads.
//
// Grounded on libmodmqttconv/converter.hpp (the IStateConverter contract) and
// stdconv/{int16,int32,float32,bitmask}.hpp for the built-ins; the expression
// converter (SPEC_FULL.md §4.8/§9) replaces the original's exprtk-based
// engine with github.com/dop251/goja, a pure-Go JS interpreter.
package converter

import (
	"fmt"
	"math"

	"github.com/fisaks/modbus-mqtt-bridge/internal/bridgeerrors"
)

// Value is the decoded/encoded form a converter exchanges with the MQTT
// object layer: always a number in this bridge (strings and bit arrays are
// expressed as numbers too, per spec.md's data model), kept as float64 so a
// single Converter interface serves every built-in type.
type Value float64

// Converter transforms raw register words to/from an MQTT value. ToModbus
// receives the register count the caller wants filled so multi-register
// converters (Int32, Float32) know how many words to emit.
type Converter interface {
	ToMQTT(regs []uint16) (Value, error)
	ToModbus(v Value, count int) ([]uint16, error)
}

// Int16Converter reads/writes a single register as a signed 16-bit integer.
// Grounded on stdconv/int16.hpp.
type Int16Converter struct{}

func (Int16Converter) ToMQTT(regs []uint16) (Value, error) {
	if len(regs) < 1 {
		return 0, bridgeerrors.New(bridgeerrors.Conversion, "int16 requires 1 register")
	}
	return Value(int16(regs[0])), nil
}

func (Int16Converter) ToModbus(v Value, count int) ([]uint16, error) {
	if count < 1 {
		return nil, bridgeerrors.New(bridgeerrors.Conversion, "int16 requires 1 register")
	}
	return []uint16{uint16(int16(v))}, nil
}

// BitmaskConverter masks a single register with a fixed mask, defaulting to
// 0xffff (pass-through). Grounded on stdconv/bitmask.hpp.
type BitmaskConverter struct {
	Mask uint16
}

func NewBitmaskConverter(mask uint16) BitmaskConverter {
	if mask == 0 {
		mask = 0xffff
	}
	return BitmaskConverter{Mask: mask}
}

func (c BitmaskConverter) ToMQTT(regs []uint16) (Value, error) {
	if len(regs) < 1 {
		return 0, bridgeerrors.New(bridgeerrors.Conversion, "bitmask requires 1 register")
	}
	return Value(regs[0] & c.Mask), nil
}

func (c BitmaskConverter) ToModbus(v Value, count int) ([]uint16, error) {
	if count < 1 {
		return nil, bridgeerrors.New(bridgeerrors.Conversion, "bitmask requires 1 register")
	}
	return []uint16{uint16(v) & c.Mask}, nil
}

// combine32 combines two 16-bit register words into a 32-bit value honoring
// lowFirst (word order) and swapBytes (byte order within each word), mirroring
// ConverterTools::toNumber/int32ToRegisters as used throughout stdconv and
// exprconv.
func combine32(hiReg, loReg uint16, lowFirst, swapBytes bool) uint32 {
	if swapBytes {
		hiReg = swap16(hiReg)
		loReg = swap16(loReg)
	}
	if lowFirst {
		hiReg, loReg = loReg, hiReg
	}
	return uint32(hiReg)<<16 | uint32(loReg)
}

func split32(val uint32, lowFirst, swapBytes bool) (hiReg, loReg uint16) {
	hiReg = uint16(val >> 16)
	loReg = uint16(val)
	if lowFirst {
		hiReg, loReg = loReg, hiReg
	}
	if swapBytes {
		hiReg = swap16(hiReg)
		loReg = swap16(loReg)
	}
	return hiReg, loReg
}

func swap16(v uint16) uint16 {
	return v>>8 | v<<8
}

// Int32Converter reads/writes a signed 32-bit integer across two registers.
// Grounded on stdconv/int32.hpp (word order is fixed high-first there; this
// generalizes to the same LowFirst/SwapBytes knobs stdconv's
// DoubleRegisterConverter gives Float32).
type Int32Converter struct {
	LowFirst  bool
	SwapBytes bool
}

func (c Int32Converter) ToMQTT(regs []uint16) (Value, error) {
	if len(regs) < 2 {
		return 0, bridgeerrors.New(bridgeerrors.Conversion, "int32 requires 2 registers")
	}
	return Value(int32(combine32(regs[0], regs[1], c.LowFirst, c.SwapBytes))), nil
}

func (c Int32Converter) ToModbus(v Value, count int) ([]uint16, error) {
	if count < 2 {
		return nil, bridgeerrors.New(bridgeerrors.Conversion, "int32 requires 2 registers")
	}
	hi, lo := split32(uint32(int32(v)), c.LowFirst, c.SwapBytes)
	return []uint16{hi, lo}, nil
}

// Float32Converter reads/writes an IEEE-754 float across two registers.
// Grounded on stdconv/float32.hpp (DoubleRegisterConverter's low_first/
// swap_bytes args).
type Float32Converter struct {
	LowFirst  bool
	SwapBytes bool
}

func (c Float32Converter) ToMQTT(regs []uint16) (Value, error) {
	if len(regs) < 2 {
		return 0, bridgeerrors.New(bridgeerrors.Conversion, "float32 requires 2 registers")
	}
	bits := combine32(regs[0], regs[1], c.LowFirst, c.SwapBytes)
	return Value(math.Float32frombits(bits)), nil
}

func (c Float32Converter) ToModbus(v Value, count int) ([]uint16, error) {
	if count < 2 {
		return nil, bridgeerrors.New(bridgeerrors.Conversion, "float32 requires 2 registers")
	}
	bits := math.Float32bits(float32(v))
	hi, lo := split32(bits, c.LowFirst, c.SwapBytes)
	return []uint16{hi, lo}, nil
}

// Build constructs a named built-in converter from its configured arguments,
// mirroring conv_name_parser.cpp's "name(args...)" dispatch for the
// non-expression converters. Unknown names return an error rather than
// falling back to a default, matching the original's validate-at-parse
// behavior.
func Build(name string, args map[string]any) (Converter, error) {
	lowFirst, _ := args["low_first"].(bool)
	swapBytes, _ := args["swap_bytes"].(bool)

	switch name {
	case "int16":
		return Int16Converter{}, nil
	case "int32":
		return Int32Converter{LowFirst: lowFirst, SwapBytes: swapBytes}, nil
	case "float32":
		return Float32Converter{LowFirst: lowFirst, SwapBytes: swapBytes}, nil
	case "bitmask":
		mask := uint16(0xffff)
		if m, ok := args["mask"]; ok {
			switch mv := m.(type) {
			case int:
				mask = uint16(mv)
			case float64:
				mask = uint16(mv)
			}
		}
		return NewBitmaskConverter(mask), nil
	case "expression":
		read, _ := args["read"].(string)
		write, _ := args["write"].(string)
		return ExpressionConverter{ReadExpr: read, WriteExpr: write, LowFirst: lowFirst}, nil
	default:
		return nil, bridgeerrors.New(bridgeerrors.Configuration, fmt.Sprintf("unknown converter %q", name))
	}
}
