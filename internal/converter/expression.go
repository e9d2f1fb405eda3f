package converter

import (
	"fmt"
	"math"

	"github.com/dop251/goja"

	"github.com/fisaks/modbus-mqtt-bridge/internal/bridgeerrors"
)

// maxExpressionRegisters bounds how many R0..Rn globals a read expression may
// reference, mirroring ExprtkConverter::MAX_REGISTERS.
const maxExpressionRegisters = 10

// ExpressionConverter evaluates a user-supplied JavaScript expression against
// the raw register words, using github.com/dop251/goja in place of the
// original's exprtk template-expression engine (SPEC_FULL.md §4.8/§9): R0..Rn
// are bound as the register words for the read expression; the write
// expression sees a single variable V (the value being written) and must
// return either a single number or an array of numbers, one per register the
// command targets. int16/int32/int32bs/uint32/uint32bs/flt32/flt32bs helper
// functions are exposed to both expressions for packing/unpacking pairs of
// registers, mirroring exprconv/expr.hpp's static helpers of the same names.
type ExpressionConverter struct {
	ReadExpr  string
	WriteExpr string
	LowFirst  bool
}

func (c ExpressionConverter) newRuntime() *goja.Runtime {
	vm := goja.New()
	vm.Set("int16", func(v float64) float64 {
		return float64(int16(uint16(int64(v))))
	})
	vm.Set("int32", func(hi, lo float64) float64 {
		return float64(int32(combine32(uint16(int64(hi)), uint16(int64(lo)), false, false)))
	})
	vm.Set("int32bs", func(hi, lo float64) float64 {
		return float64(int32(combine32(uint16(int64(hi)), uint16(int64(lo)), false, true)))
	})
	vm.Set("uint32", func(hi, lo float64) float64 {
		return float64(combine32(uint16(int64(hi)), uint16(int64(lo)), false, false))
	})
	vm.Set("uint32bs", func(hi, lo float64) float64 {
		return float64(combine32(uint16(int64(hi)), uint16(int64(lo)), false, true))
	})
	vm.Set("flt32", func(hi, lo float64) float64 {
		bits := combine32(uint16(int64(hi)), uint16(int64(lo)), false, false)
		return float64(math.Float32frombits(bits))
	})
	vm.Set("flt32bs", func(hi, lo float64) float64 {
		bits := combine32(uint16(int64(hi)), uint16(int64(lo)), false, true)
		return float64(math.Float32frombits(bits))
	})
	return vm
}

func (c ExpressionConverter) ToMQTT(regs []uint16) (Value, error) {
	if len(regs) > maxExpressionRegisters {
		return 0, bridgeerrors.New(bridgeerrors.Conversion, fmt.Sprintf("maximum %d registers allowed", maxExpressionRegisters))
	}
	if c.ReadExpr == "" {
		return 0, bridgeerrors.New(bridgeerrors.Configuration, "expression converter: read expression is required")
	}

	vm := c.newRuntime()
	for i, r := range regs {
		vm.Set(fmt.Sprintf("R%d", i), float64(r))
	}
	for i := len(regs); i < maxExpressionRegisters; i++ {
		vm.Set(fmt.Sprintf("R%d", i), 0.0)
	}

	result, err := vm.RunString(c.ReadExpr)
	if err != nil {
		return 0, bridgeerrors.Wrap(bridgeerrors.Conversion, "expression evaluation failed", err)
	}
	return Value(result.ToFloat()), nil
}

func (c ExpressionConverter) ToModbus(v Value, count int) ([]uint16, error) {
	if c.WriteExpr == "" {
		return nil, bridgeerrors.New(bridgeerrors.Configuration, "expression converter: write expression is required")
	}

	vm := c.newRuntime()
	vm.Set("V", float64(v))

	result, err := vm.RunString(c.WriteExpr)
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.Conversion, "expression evaluation failed", err)
	}

	if exported, ok := result.Export().([]interface{}); ok {
		if len(exported) != count {
			return nil, bridgeerrors.New(bridgeerrors.Conversion, fmt.Sprintf("expression returned %d values, need %d", len(exported), count))
		}
		out := make([]uint16, count)
		for i, item := range exported {
			f, ok := item.(float64)
			if !ok {
				return nil, bridgeerrors.New(bridgeerrors.Conversion, "expression array must contain numbers")
			}
			out[i] = uint16(int64(f))
		}
		return out, nil
	}

	if count != 1 {
		return nil, bridgeerrors.New(bridgeerrors.Conversion, fmt.Sprintf("expression returned a single value, need %d", count))
	}
	return []uint16{uint16(int64(result.ToFloat()))}, nil
}
