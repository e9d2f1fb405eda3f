// Package registerref parses the "network.slave.number" register identifiers
// and "${network}"/"${slave_address}"/"${slave_name}" topic placeholders from
// spec.md §6, the addressing scheme every object/command's register field and
// topic string is written in.
package registerref

import (
	"strconv"
	"strings"

	"github.com/fisaks/modbus-mqtt-bridge/internal/bridgeerrors"
	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
	"github.com/fisaks/modbus-mqtt-bridge/internal/util"
)

// Ref is a parsed "network.slave.number" register identifier. Number is
// already normalized to the 0-based address modbustype.Range expects.
type Ref struct {
	Network string
	Slave   uint8
	Number  uint16
}

// Parse splits s on "." into network, slave address, and register number.
// The register number is decimal and 1-based (register "1" addresses
// modbustype address 0) unless it carries a "0x"/"0X" prefix, in which case
// it is hexadecimal and already 0-based, matching Modbus protocol addressing.
func Parse(s string) (Ref, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Ref{}, bridgeerrors.New(bridgeerrors.Configuration, "register identifier must be \"network.slave.number\", got "+s)
	}
	network := parts[0]
	if network == "" {
		return Ref{}, bridgeerrors.New(bridgeerrors.Configuration, "register identifier "+s+": network must not be empty")
	}

	slave, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return Ref{}, bridgeerrors.Wrap(bridgeerrors.Configuration, "register identifier "+s+": invalid slave address", err)
	}

	numberField := parts[2]
	isHex := strings.HasPrefix(numberField, "0x") || strings.HasPrefix(numberField, "0X")

	// util.ToUint16 already implements the "0x-prefixed hex, else decimal"
	// coercion this identifier format needs; it returns 0 on a malformed
	// string, so validate with strconv first to still report a real error.
	if isHex {
		if _, err := strconv.ParseUint(numberField[2:], 16, 16); err != nil {
			return Ref{}, bridgeerrors.Wrap(bridgeerrors.Configuration, "register identifier "+s+": invalid hex register number", err)
		}
	} else {
		n, err := strconv.ParseUint(numberField, 10, 16)
		if err != nil {
			return Ref{}, bridgeerrors.Wrap(bridgeerrors.Configuration, "register identifier "+s+": invalid register number", err)
		}
		if n == 0 {
			return Ref{}, bridgeerrors.New(bridgeerrors.Configuration, "register identifier "+s+": decimal register number is 1-based, got 0")
		}
	}

	number := util.ToUint16(numberField)
	if !isHex {
		number--
	}

	return Ref{Network: network, Slave: uint8(slave), Number: number}, nil
}

// Range builds the modbustype.Range this reference addresses, for count
// consecutive registers of type t starting at Number.
func (r Ref) Range(t modbustype.RegisterType, count uint16) (modbustype.Range, error) {
	return modbustype.NewRange(r.Slave, t, r.Number, count)
}

// ParseType maps a config register-type string to modbustype.RegisterType.
func ParseType(s string) (modbustype.RegisterType, error) {
	switch s {
	case "coil":
		return modbustype.Coil, nil
	case "discrete_input":
		return modbustype.DiscreteInput, nil
	case "holding":
		return modbustype.Holding, nil
	case "input":
		return modbustype.Input, nil
	default:
		return 0, bridgeerrors.New(bridgeerrors.Configuration, "unknown register type "+s)
	}
}

// ExpandTopic substitutes ${network}, ${slave_address}, and ${slave_name} in
// topic with the given values.
func ExpandTopic(topic, network string, slaveAddr int, slaveName string) string {
	replacer := strings.NewReplacer(
		"${network}", network,
		"${slave_address}", strconv.Itoa(slaveAddr),
		"${slave_name}", slaveName,
	)
	return replacer.Replace(topic)
}
