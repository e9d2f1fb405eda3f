package bridgebuild

import (
	"testing"

	"github.com/fisaks/modbus-mqtt-bridge/internal/config"
	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
)

func baseConfig() *config.BridgeConfig {
	return &config.BridgeConfig{
		Networks: []config.NetworkConfig{
			{Name: "plc1", Type: config.TCP, Address: "127.0.0.1", Port: 1502},
		},
		Slaves: []config.SlaveConfig{
			{Network: "plc1", Address: 1, Name: "pump"},
		},
	}
}

func TestBuildSimpleObjectProducesPollAndObject(t *testing.T) {
	cfg := baseConfig()
	refresh := 5
	cfg.Objects = []config.ObjectConfig{{
		Topic:       "test_sensor",
		PublishMode: config.OnChange,
		RefreshMs:   &refresh,
		State:       config.DataNodeConfig{Register: "plc1.1.1", Type: "holding"},
	}}

	res, err := Build(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(res.Objects))
	}
	if !res.Objects[0].State.IsLeaf() {
		t.Fatal("expected a scalar state node")
	}

	spec, ok := res.PollSpecs["plc1"]
	if !ok || len(spec.Polls) != 1 {
		t.Fatalf("expected 1 grouped poll on plc1, got %+v", res.PollSpecs)
	}
	want, _ := modbustype.NewRange(1, modbustype.Holding, 0, 1)
	if spec.Polls[0].Range != want {
		t.Fatalf("unexpected poll range: %+v", spec.Polls[0].Range)
	}
}

func TestBuildCompositeObjectWithCommand(t *testing.T) {
	cfg := baseConfig()
	cfg.Objects = []config.ObjectConfig{{
		Topic: "test_switch",
		State: config.DataNodeConfig{
			Registers: []config.DataNodeConfig{
				{Name: "on", Register: "plc1.1.1", Type: "coil"},
				{Name: "fault", Register: "plc1.1.2", Type: "discrete_input"},
			},
		},
		Commands: []config.CommandConfig{
			{Name: "set", Register: "plc1.1.1", Type: "coil"},
		},
	}}

	res, err := Build(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj := res.Objects[0]
	if obj.State.IsLeaf() {
		t.Fatal("expected a composite state node")
	}
	if len(obj.Commands) != 1 || obj.Commands[0].Name != "set" {
		t.Fatalf("expected one bound command, got %+v", obj.Commands)
	}

	spec := res.PollSpecs["plc1"]
	if len(spec.Polls) != 2 {
		t.Fatalf("expected coil and discrete_input leaves to stay in separate (slave,type) buckets, got %+v", spec.Polls)
	}
}

func TestBuildTopicExpandsPlaceholders(t *testing.T) {
	cfg := baseConfig()
	cfg.Objects = []config.ObjectConfig{{
		Topic:   "devices/${network}/${slave_address}/${slave_name}/state_sensor",
		Network: "plc1",
		Slave:   1,
		State:   config.DataNodeConfig{Register: "plc1.1.1", Type: "holding"},
	}}

	res, err := Build(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "devices/plc1/1/pump/state_sensor"
	if res.Objects[0].Topic != want {
		t.Fatalf("got %q, want %q", res.Objects[0].Topic, want)
	}
}

func TestBuildRejectsUnknownRegisterType(t *testing.T) {
	cfg := baseConfig()
	cfg.Objects = []config.ObjectConfig{{
		Topic: "bad",
		State: config.DataNodeConfig{Register: "plc1.1.1", Type: "bogus"},
	}}
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected an error for an unknown register type")
	}
}

func TestSlaveTimingsFallBackToNetworkDefaults(t *testing.T) {
	cfg := baseConfig()
	cfg.Networks[0].ReadRetries = 4
	cfg.Networks[0].DelayBeforeCommand = config.DelayConfig{Kind: config.DelayEveryTime, DurationMs: 20}

	res, err := Build(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	timing := res.SlaveTimings["plc1"][1]
	if timing.ReadRetries != 4 {
		t.Fatalf("expected read retries to fall back to network default 4, got %d", timing.ReadRetries)
	}
	if timing.DelayBeforeCommand.Duration.Milliseconds() != 20 {
		t.Fatalf("expected delay to fall back to network default 20ms, got %v", timing.DelayBeforeCommand.Duration)
	}
}

func TestBuildIncludesStaticPollGroups(t *testing.T) {
	cfg := baseConfig()
	cfg.Slaves[0].PollGroups = []config.PollGroupConfig{
		{FirstRegister: 10, Type: "holding", Count: 4},
	}

	res, err := Build(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spec, ok := res.PollSpecs["plc1"]
	if !ok || len(spec.Polls) != 1 {
		t.Fatalf("expected the static poll group to produce one poll, got %+v", res.PollSpecs)
	}
	if spec.Polls[0].Range.First != 10 || spec.Polls[0].Range.Count != 4 {
		t.Fatalf("unexpected static poll range: %+v", spec.Polls[0].Range)
	}
}
