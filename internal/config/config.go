// Package config decodes and validates the bridge's YAML configuration
// document: networks, slaves, and MQTT objects, per spec.md §6.
//
// Grounded on the teacher's internal/config/config-edge.go: the same
// load-then-validate shape and multiErr aggregation, generalized from JSON/
// bus-catalog-device to YAML/network-slave-object.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType discriminates RTU (serial) from TCP networks.
type NetworkType string

const (
	RTU NetworkType = "rtu"
	TCP NetworkType = "tcp"
)

// DelayKind mirrors requestqueue.DelayKind in the configuration's vocabulary
// (EVERY_TIME, ON_SLAVE_CHANGE, NONE), kept as strings at the config boundary.
type DelayKind string

const (
	DelayNone          DelayKind = "none"
	DelayEveryTime     DelayKind = "every_time"
	DelayOnSlaveChange DelayKind = "on_slave_change"
)

// DelayConfig is {kind, duration_ms} as it appears in YAML.
type DelayConfig struct {
	Kind       DelayKind `yaml:"kind"`
	DurationMs int       `yaml:"duration_ms"`
}

// Duration returns the configured delay as a time.Duration.
func (d DelayConfig) Duration() time.Duration {
	return time.Duration(d.DurationMs) * time.Millisecond
}

// WatchdogConfig holds the optional per-network watch period override.
type WatchdogConfig struct {
	WatchPeriodMs int `yaml:"watch_period_ms"`
}

// NetworkConfig describes one Modbus network (RTU or TCP), per spec.md §6.
type NetworkConfig struct {
	Name string      `yaml:"name"`
	Type NetworkType `yaml:"type"`

	// RTU fields
	Device       string `yaml:"device"`
	Baud         int    `yaml:"baud"`
	Parity       string `yaml:"parity"`
	DataBits     int    `yaml:"data_bit"`
	StopBits     int    `yaml:"stop_bit"`
	RTUSerialMode string `yaml:"rtu_serial_mode"`
	RTURTSMode    string `yaml:"rtu_rts_mode"`
	RTURTSDelayUs int    `yaml:"rtu_rts_delay_us"`

	// TCP fields
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	ResponseTimeoutMs     int `yaml:"response_timeout"`
	ResponseDataTimeoutMs int `yaml:"response_data_timeout"`

	DelayBeforeCommand      DelayConfig `yaml:"delay_before_command"`
	DelayBeforeFirstCommand DelayConfig `yaml:"delay_before_first_command"`

	ReadRetries  int `yaml:"read_retries"`
	WriteRetries int `yaml:"write_retries"`

	Watchdog WatchdogConfig `yaml:"watchdog"`

	Debug bool `yaml:"debug"`
}

// ResponseTimeout returns the response timeout, defaulting to 150ms like the
// teacher's BusConfig.Timeout().
func (n NetworkConfig) ResponseTimeout() time.Duration {
	if n.ResponseTimeoutMs <= 0 {
		return 150 * time.Millisecond
	}
	return time.Duration(n.ResponseTimeoutMs) * time.Millisecond
}

// ResponseDataTimeout returns the inter-byte response timeout.
func (n NetworkConfig) ResponseDataTimeout() time.Duration {
	return time.Duration(n.ResponseDataTimeoutMs) * time.Millisecond
}

// PollGroupConfig is one static poll-group declaration under a slave.
type PollGroupConfig struct {
	FirstRegister int    `yaml:"first_register"`
	Type          string `yaml:"type"`
	Count         int    `yaml:"count"`
}

// SlaveConfig describes one Modbus slave address on a network.
type SlaveConfig struct {
	Network string `yaml:"network"`
	Address int    `yaml:"address"`
	Name    string `yaml:"name"` // optional, expands ${slave_name} in topic strings

	DelayBeforeCommand      DelayConfig `yaml:"delay_before_command"`
	DelayBeforeFirstCommand DelayConfig `yaml:"delay_before_first_command"`

	ReadRetries  int `yaml:"read_retries"`
	WriteRetries int `yaml:"write_retries"`

	PollGroups []PollGroupConfig `yaml:"poll_groups"`
}

// PublishMode mirrors pollspec.PublishMode in the config vocabulary.
type PublishMode string

const (
	OnChange  PublishMode = "on_change"
	EveryPoll PublishMode = "every_poll"
	Once      PublishMode = "once"
)

// ConverterConfig names a converter and its constructor arguments.
type ConverterConfig struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args"`
}

// DataNodeConfig is the recursive data-node shape from spec.md §6.
type DataNodeConfig struct {
	Register  string           `yaml:"register"` // "network.slave.number", decimal or 0x-hex
	Type      string           `yaml:"type"`
	Count     int              `yaml:"count"`
	Converter *ConverterConfig `yaml:"converter"`
	RefreshMs *int             `yaml:"refresh_ms"`
	Name      string           `yaml:"name"`
	Registers []DataNodeConfig `yaml:"registers"`

	// AvailableValue is only meaningful on an availability data-node.
	AvailableValue *float64 `yaml:"available_value"`
}

// CommandConfig describes one writable command topic on an object.
type CommandConfig struct {
	Name        string           `yaml:"name"`
	Register    string           `yaml:"register"`
	Type        string           `yaml:"type"`
	Count       int              `yaml:"count"`
	PayloadType string           `yaml:"payload_type"`
	Converter   *ConverterConfig `yaml:"converter"`
}

// ObjectConfig describes one MQTT object: its topic, optional refresh/publish
// mode defaults, its state tree, optional availability tree, and commands.
type ObjectConfig struct {
	Topic       string          `yaml:"topic"`
	Network     string          `yaml:"network"`
	Slave       int             `yaml:"slave"`
	RefreshMs   *int            `yaml:"refresh_ms"`
	PublishMode PublishMode     `yaml:"publish_mode"`
	Retain      bool            `yaml:"retain"`
	State       DataNodeConfig  `yaml:"state"`
	Availability *DataNodeConfig `yaml:"availability"`
	Commands    []CommandConfig `yaml:"commands"`
}

// BridgeConfig is the top-level decoded document.
type BridgeConfig struct {
	Networks []NetworkConfig `yaml:"networks"`
	Slaves   []SlaveConfig   `yaml:"slaves"`
	Objects  []ObjectConfig  `yaml:"objects"`
}

// Load reads and validates the bridge configuration from path.
func Load(path string) (*BridgeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes and validates a configuration document from r.
// Strict field checking (yaml.Decoder.KnownFields) mirrors the teacher's
// encoding/json DisallowUnknownFields strictness, generalized to YAML.
func LoadFromReader(r io.Reader) (*BridgeConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg BridgeConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// multiErr aggregates validation errors so a user sees every problem at once,
// mirroring the teacher's internal/config/config-edge.go multiErr type.
type multiErr struct {
	errs []string
}

func (m *multiErr) add(format string, args ...any) {
	m.errs = append(m.errs, fmt.Sprintf(format, args...))
}

func (m *multiErr) errOrNil() error {
	if len(m.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(m.errs, "\n  - "))
}

// Validate checks structural invariants across networks, slaves, and objects.
func (c *BridgeConfig) Validate() error {
	var m multiErr

	if len(c.Networks) == 0 {
		m.add("at least one network must be configured")
	}

	names := make(map[string]bool)
	for i, n := range c.Networks {
		if n.Name == "" {
			m.add("networks[%d]: name is required", i)
		} else if names[n.Name] {
			m.add("networks[%d]: duplicate network name %q", i, n.Name)
		}
		names[n.Name] = true

		switch n.Type {
		case RTU:
			if n.Device == "" {
				m.add("networks[%d] (%s): device is required for rtu", i, n.Name)
			}
			if n.Baud <= 0 {
				m.add("networks[%d] (%s): baud must be > 0", i, n.Name)
			}
		case TCP:
			if n.Address == "" {
				m.add("networks[%d] (%s): address is required for tcp", i, n.Name)
			}
			if n.Port <= 0 {
				m.add("networks[%d] (%s): port must be > 0", i, n.Name)
			}
		default:
			m.add("networks[%d] (%s): type must be rtu or tcp, got %q", i, n.Name, n.Type)
		}
		if n.ResponseTimeoutMs < 0 || n.ResponseTimeoutMs > 999 {
			m.add("networks[%d] (%s): response_timeout must be 0-999ms", i, n.Name)
		}
	}

	for i, s := range c.Slaves {
		if !names[s.Network] {
			m.add("slaves[%d]: unknown network %q", i, s.Network)
		}
		if s.Address < 1 || s.Address > 247 {
			m.add("slaves[%d]: address must be 1-247, got %d", i, s.Address)
		}
		for j, g := range s.PollGroups {
			if g.Count <= 0 {
				m.add("slaves[%d].poll_groups[%d]: count must be > 0", i, j)
			}
			if !validRegisterType(g.Type) {
				m.add("slaves[%d].poll_groups[%d]: unknown register type %q", i, j, g.Type)
			}
		}
	}

	for i, o := range c.Objects {
		if o.Topic == "" {
			m.add("objects[%d]: topic is required", i)
		}
		if o.PublishMode != "" && o.PublishMode != OnChange && o.PublishMode != EveryPoll && o.PublishMode != Once {
			m.add("objects[%d] (%s): unknown publish_mode %q", i, o.Topic, o.PublishMode)
		}
	}

	return m.errOrNil()
}

// SlaveName returns the configured name for a slave, or its decimal address
// as a string if none was configured, for ${slave_name} topic expansion.
func (c *BridgeConfig) SlaveName(network string, address int) string {
	for _, s := range c.Slaves {
		if s.Network == network && s.Address == address {
			if s.Name != "" {
				return s.Name
			}
			break
		}
	}
	return strconv.Itoa(address)
}

func validRegisterType(t string) bool {
	switch t {
	case "coil", "discrete_input", "holding", "input":
		return true
	default:
		return false
	}
}
