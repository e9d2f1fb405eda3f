package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
	"github.com/fisaks/modbus-mqtt-bridge/internal/mqttobject"
	"github.com/fisaks/modbus-mqtt-bridge/internal/pollspec"
	"github.com/fisaks/modbus-mqtt-bridge/internal/worker"
)

type fakePublish struct {
	topic   string
	payload []byte
	retain  bool
}

type fakeBroker struct {
	mu        sync.Mutex
	published []fakePublish
	onConnect map[string]OnConnectPublisher
	subs      map[string]func(context.Context, string, []byte)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		onConnect: make(map[string]OnConnectPublisher),
		subs:      make(map[string]func(context.Context, string, []byte)),
	}
}

func (f *fakeBroker) Connect(ctx context.Context) error { return nil }
func (f *fakeBroker) Close(ctx context.Context) error   { return nil }

func (f *fakeBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, fakePublish{topic: topic, payload: append([]byte(nil), payload...), retain: retain})
	return nil
}

func (f *fakeBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Publish(ctx, topic, qos, retain, data)
}

func (f *fakeBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil, nil
}

func (f *fakeBroker) IsConnected() bool             { return true }
func (f *fakeBroker) Topic(parts ...string) string  { return strings.Join(parts, "/") }
func (f *fakeBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect[id] = fn
}
func (f *fakeBroker) RemoveOnConnectPublisher(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.onConnect, id)
}

func (f *fakeBroker) last(topic string) (fakePublish, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out fakePublish
	found := false
	for _, p := range f.published {
		if p.topic == topic {
			out = p
			found = true
		}
	}
	return out, found
}

func newTestRouter() (*Router, *fakeBroker) {
	fb := newFakeBroker()
	r := &Router{
		broker:    fb,
		store:     mqttobject.NewStore(),
		byNetwork: make(map[string][]leafBinding),
		commands:  make(map[string]boundCommand),
		inboxes:   make(map[string]chan<- worker.InMsg),
	}
	return r, fb
}

func TestHandleOutEventPublishesStateThenAvailability(t *testing.T) {
	r, fb := newTestRouter()
	rng, _ := modbustype.NewRange(1, modbustype.Holding, 0, 1)
	leaf := mqttobject.NewLeaf("", "net1", rng, nil)
	obj := mqttobject.NewObject("sensors/temp", leaf, nil, pollspec.OnChange, false)
	r.RegisterObject(obj)

	r.HandleOutEvent(context.Background(), "net1", worker.OutEvent{Kind: worker.OutRegisterValues, Range: rng, Values: []uint16{42}})

	avail, ok := fb.last("sensors/temp/availability")
	if !ok || string(avail.payload) != "1" {
		t.Fatalf("expected availability 1 published, got %+v ok=%v", avail, ok)
	}
	state, ok := fb.last("sensors/temp/state")
	if !ok || string(state.payload) != "42" {
		t.Fatalf("expected state payload 42, got %+v ok=%v", state, ok)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	var stateIdx, availIdx = -1, -1
	for i, p := range fb.published {
		switch p.topic {
		case "sensors/temp/state":
			stateIdx = i
		case "sensors/temp/availability":
			availIdx = i
		}
	}
	if stateIdx == -1 || availIdx == -1 {
		t.Fatalf("expected both state and availability published, got %+v", fb.published)
	}
	if stateIdx > availIdx {
		t.Fatalf("expected state published before availability, got order %+v", fb.published)
	}
}

func TestHandleOutEventReadFailureMakesAvailabilityFalse(t *testing.T) {
	r, fb := newTestRouter()
	rng, _ := modbustype.NewRange(1, modbustype.Holding, 0, 1)
	leaf := mqttobject.NewLeaf("", "net1", rng, nil)
	obj := mqttobject.NewObject("sensors/temp", leaf, nil, pollspec.OnChange, false)
	r.RegisterObject(obj)

	r.HandleOutEvent(context.Background(), "net1", worker.OutEvent{Kind: worker.OutRegisterReadFailed, Range: rng})

	avail, ok := fb.last("sensors/temp/availability")
	if !ok || string(avail.payload) != "0" {
		t.Fatalf("expected availability 0 published, got %+v ok=%v", avail, ok)
	}
	if _, ok := fb.last("sensors/temp/state"); ok {
		t.Fatal("expected no state publish while unavailable")
	}
}

func TestOnCommandRoutesWriteAndAcks(t *testing.T) {
	r, fb := newTestRouter()
	rng, _ := modbustype.NewRange(1, modbustype.Holding, 10, 1)
	cmdNode := mqttobject.NewLeaf("", "net1", rng, nil)
	obj := mqttobject.NewObject("actuators/valve", mqttobject.NewLeaf("", "net1", rng, nil), nil, pollspec.OnChange, false)
	obj.Commands = []mqttobject.CommandSpec{{Name: "set", Node: cmdNode, Count: 1}}
	r.RegisterObject(obj)

	inbox := make(chan worker.InMsg, 1)
	r.RegisterNetwork("net1", inbox)

	r.onCommand(context.Background(), "actuators/valve/set", []byte(`{"value":5,"response_topic":"actuators/valve/ack"}`))

	select {
	case msg := <-inbox:
		if msg.Kind != worker.MsgWriteCommand || msg.Write == nil {
			t.Fatalf("expected a write command, got %+v", msg)
		}
		if len(msg.Write.Values) != 1 || msg.Write.Values[0] != 5 {
			t.Fatalf("expected values [5], got %v", msg.Write.Values)
		}
	default:
		t.Fatal("expected a message on the inbox")
	}

	ack, ok := fb.last("actuators/valve/ack")
	if !ok || !strings.Contains(string(ack.payload), `"ok":true`) {
		t.Fatalf("expected an ok ack, got %+v ok=%v", ack, ok)
	}
}

func TestOnCommandUnboundTopicIsIgnored(t *testing.T) {
	r, fb := newTestRouter()
	r.onCommand(context.Background(), "no/such/topic", []byte(`{"value":1}`))
	if len(fb.published) != 0 {
		t.Fatalf("expected no publishes for an unbound topic, got %+v", fb.published)
	}
}
