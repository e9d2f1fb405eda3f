// Package transport wraps github.com/goburrow/modbus into the per-range
// connect/read/write contract the executor needs (C8), independent of any
// fixed device catalog.
//
// Grounded on the teacher's internal/modbus/modbus_client.go
// (ModbusDeviceClient): backoff growth/reset and RTU/TCP handler
// construction, generalized from a per-device catalog model to the spec's
// per-(slave,range) model. Unlike the teacher, this transport never retries
// a failed call itself; all retry policy belongs to the executor's
// per-register readRetryLeft/writeRetryLeft bookkeeping.
package transport

import (
	"context"
	"fmt"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/fisaks/modbus-mqtt-bridge/internal/bridgeerrors"
	"github.com/fisaks/modbus-mqtt-bridge/internal/config"
	"github.com/fisaks/modbus-mqtt-bridge/internal/logging"
	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

// Handler is satisfied by both goburrow/modbus's RTU and TCP client handlers.
type Handler interface {
	gomodbus.ClientHandler
	Connect() error
	Close() error
}

// tcpHandlerWithClose adapts *gomodbus.TCPClientHandler (which has no Close)
// to the Handler interface, mirroring the teacher's TCPHandlerWithClose.
type tcpHandlerWithClose struct {
	*gomodbus.TCPClientHandler
}

func (h *tcpHandlerWithClose) Close() error { return nil }

// Transport is the C8 contract: connect/disconnect and read/write of register
// blocks for one Modbus network.
type Transport struct {
	networkName string
	handler     Handler
	client      gomodbus.Client

	connected   bool
	backoff     time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
	lastConnErr error
}

// New builds a Transport for the given network configuration, choosing an RTU
// or TCP handler based on net.Type.
func New(net config.NetworkConfig) (*Transport, error) {
	var handler Handler
	switch net.Type {
	case config.RTU:
		h := gomodbus.NewRTUClientHandler(net.Device)
		h.BaudRate = net.Baud
		h.DataBits = net.DataBits
		h.Parity = net.Parity
		h.StopBits = net.StopBits
		h.Timeout = net.ResponseTimeout()
		if net.Debug {
			h.Logger = logging.StdLogger("network." + net.Name)
		}
		handler = h
	case config.TCP:
		h := gomodbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", net.Address, net.Port))
		h.Timeout = net.ResponseTimeout()
		if net.Debug {
			h.Logger = logging.StdLogger("network." + net.Name)
		}
		handler = &tcpHandlerWithClose{h}
	default:
		return nil, bridgeerrors.New(bridgeerrors.Configuration, "unknown network type "+string(net.Type))
	}

	return &Transport{
		networkName: net.Name,
		handler:     handler,
		client:      gomodbus.NewClient(handler),
		backoffMin:  200 * time.Millisecond,
		backoffMax:  60 * time.Second,
	}, nil
}

// IsConnected reports the transport's last known connection state.
func (t *Transport) IsConnected() bool { return t.connected }

// Connect establishes the underlying connection, honoring backoff from a
// previous failure. Idempotent: a no-op if already connected.
func (t *Transport) Connect(ctx context.Context) error {
	if t.connected {
		return nil
	}
	if t.backoff > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.backoff):
		}
	}

	t.disconnectQuiet()
	if err := t.handler.Connect(); err != nil {
		t.bumpBackoff(err)
		return bridgeerrors.Wrap(bridgeerrors.TransportContext, "connect "+t.networkName, err)
	}

	t.client = gomodbus.NewClient(t.handler)
	t.connected = true
	t.backoff = 0
	t.lastConnErr = nil
	return nil
}

// Disconnect closes the underlying connection.
func (t *Transport) Disconnect() {
	t.disconnectQuiet()
}

func (t *Transport) disconnectQuiet() {
	_ = t.handler.Close()
	t.connected = false
}

func (t *Transport) bumpBackoff(err error) {
	t.connected = false
	t.lastConnErr = err
	if t.backoff == 0 {
		t.backoff = t.backoffMin
	} else {
		t.backoff *= 2
		if t.backoff > t.backoffMax {
			t.backoff = t.backoffMax
		}
	}
}

func (t *Transport) setSlave(id uint8) {
	switch h := t.handler.(type) {
	case *gomodbus.RTUClientHandler:
		h.SlaveId = id
	case *tcpHandlerWithClose:
		h.SlaveId = id
	}
}

// Read reads a register range, normalizing COIL/DISCRETE_INPUT wire bits into
// one uint16 per register (0 or 1) and HOLDING/INPUT into their raw 16-bit
// words. Does not retry; see call.
func (t *Transport) Read(ctx context.Context, r modbustype.Range) ([]uint16, error) {
	data, err := t.call(ctx, r.SlaveID, func() ([]byte, error) {
		switch r.Type {
		case modbustype.Coil:
			return t.client.ReadCoils(r.First, r.Count)
		case modbustype.DiscreteInput:
			return t.client.ReadDiscreteInputs(r.First, r.Count)
		case modbustype.Holding:
			return t.client.ReadHoldingRegisters(r.First, r.Count)
		case modbustype.Input:
			return t.client.ReadInputRegisters(r.First, r.Count)
		default:
			return nil, bridgeerrors.New(bridgeerrors.Configuration, "unknown register type")
		}
	})
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.TransportRead, "read failed", err)
	}
	return decodeValues(r, data), nil
}

// Write writes values to a register range. COIL ranges are written one coil
// at a time via WriteSingleCoil when count==1, or WriteMultipleCoils
// otherwise; HOLDING analogously uses WriteSingleRegister/
// WriteMultipleRegisters.
func (t *Transport) Write(ctx context.Context, r modbustype.Range, values []uint16) error {
	_, err := t.call(ctx, r.SlaveID, func() ([]byte, error) {
		switch r.Type {
		case modbustype.Coil:
			if r.Count == 1 {
				val := uint16(0)
				if values[0] != 0 {
					val = 0xFF00
				}
				return t.client.WriteSingleCoil(r.First, val)
			}
			return t.client.WriteMultipleCoils(r.First, r.Count, packCoils(values))
		case modbustype.Holding:
			if r.Count == 1 {
				return t.client.WriteSingleRegister(r.First, values[0])
			}
			return t.client.WriteMultipleRegisters(r.First, r.Count, packRegisters(values))
		default:
			return nil, bridgeerrors.New(bridgeerrors.Configuration, "register type not writable")
		}
	})
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.TransportWrite, "write failed", err)
	}
	return nil
}

// call ensures the transport is connected, targets the given slave, and
// invokes fn. It does not retry: per spec.md's transport contract, a failed
// call is reported to the caller as-is so the executor's per-register
// readRetryLeft/writeRetryLeft bookkeeping (internal/requestqueue/command.go)
// is the sole owner of retry policy.
func (t *Transport) call(ctx context.Context, slaveID uint8, fn func() ([]byte, error)) ([]byte, error) {
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	t.setSlave(slaveID)
	return fn()
}

func decodeValues(r modbustype.Range, data []byte) []uint16 {
	out := make([]uint16, r.Count)
	switch r.Type {
	case modbustype.Coil, modbustype.DiscreteInput:
		for i := uint16(0); i < r.Count; i++ {
			byteIdx := i / 8
			bitIdx := i % 8
			if int(byteIdx) >= len(data) {
				break
			}
			if data[byteIdx]&(1<<bitIdx) != 0 {
				out[i] = 1
			}
		}
	default:
		for i := uint16(0); i < r.Count; i++ {
			idx := int(i) * 2
			if idx+1 >= len(data) {
				break
			}
			out[i] = uint16(data[idx])<<8 | uint16(data[idx+1])
		}
	}
	return out
}

func packRegisters(values []uint16) []byte {
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		buf[i*2] = byte(v >> 8)
		buf[i*2+1] = byte(v)
	}
	return buf
}

func packCoils(values []uint16) []byte {
	buf := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v != 0 {
			buf[i/8] |= 1 << uint(i%8)
		}
	}
	return buf
}
