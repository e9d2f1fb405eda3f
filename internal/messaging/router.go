// Package messaging's Router is the C11 MQTT surface described by spec.md
// §6: it publishes each configured object's state and availability,
// republishes both on every reconnect, and routes inbound command messages
// back into the owning network worker's write queue.
//
// Grounded on the teacher's edge-broker.go (EdgeBroker/edgeBroker): the same
// "Broker plus a subscriber dispatch" shape, generalized from one
// device-name-keyed topic scheme to many independently configured
// mqttobject.Object trees, and from a single state store keyed by device
// name to mqttobject.Store keyed by register identity.
package messaging

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fisaks/modbus-mqtt-bridge/internal/converter"
	"github.com/fisaks/modbus-mqtt-bridge/internal/logging"
	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
	"github.com/fisaks/modbus-mqtt-bridge/internal/mqttobject"
	"github.com/fisaks/modbus-mqtt-bridge/internal/requestqueue"
	"github.com/fisaks/modbus-mqtt-bridge/internal/worker"
)

// leafBinding associates one data-node leaf range with the object it
// belongs to, so a worker's OutEvent can be fanned out to every object whose
// state or availability tree depends on it. The event's range need not equal
// the leaf's range exactly: the poll-spec builder may have folded several
// adjacent leaf ranges into one grouped poll, so matching is by containment
// (modbustype.Range.Contains), not equality.
type leafBinding struct {
	rng modbustype.Range
	obj *mqttobject.Object
}

// boundCommand resolves one subscribed command topic back to the network and
// data node it writes through.
type boundCommand struct {
	network string
	node    *mqttobject.DataNode
	count   int
}

// CommandPayload is the envelope accepted on an object's command topics.
// Value is a scalar; ResponseTopic/CorrelationData, if present, are echoed
// back on an ack once the write has been handed to the network worker
// (spec.md §6's response_topic correlation).
type CommandPayload struct {
	Value           json.Number `json:"value"`
	ResponseTopic   string      `json:"response_topic,omitempty"`
	CorrelationData string      `json:"correlation_data,omitempty"`
}

// CommandAck is published to a command's response_topic, if any.
type CommandAck struct {
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	CorrelationData string `json:"correlation_data,omitempty"`
}

// Router owns the broker connection, the register-keyed read-state store,
// and the object/command registry built from configuration.
type Router struct {
	broker Broker
	store  *mqttobject.Store

	mu        sync.Mutex
	objects   []*mqttobject.Object
	byNetwork map[string][]leafBinding
	commands  map[string]boundCommand
	inboxes   map[string]chan<- worker.InMsg
}

// NewRouter builds a Router around a freshly constructed paho-backed broker.
func NewRouter(cfg BrokerConfig) *Router {
	return &Router{
		broker:    NewMsgBroker(cfg),
		store:     mqttobject.NewStore(),
		byNetwork: make(map[string][]leafBinding),
		commands:  make(map[string]boundCommand),
		inboxes:   make(map[string]chan<- worker.InMsg),
	}
}

// Store returns the register read-state store backing every object's
// availability and state evaluation.
func (r *Router) Store() *mqttobject.Store { return r.store }

// RegisterNetwork associates a network name with the worker inbox that
// accepts its write commands, so inbound MQTT commands targeting that
// network's registers can be delivered.
func (r *Router) RegisterNetwork(network string, inbox chan<- worker.InMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboxes[network] = inbox
}

// RegisterObject indexes an object's state/availability leaves so a later
// OutEvent on any of their ranges triggers re-evaluation, binds its command
// topics, and arranges for its current state/availability to be republished
// on every broker reconnect (spec.md §7).
func (r *Router) RegisterObject(obj *mqttobject.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.objects = append(r.objects, obj)
	for _, leaf := range obj.State.Leaves() {
		r.byNetwork[leaf.Network] = append(r.byNetwork[leaf.Network], leafBinding{rng: leaf.Range, obj: obj})
	}
	if obj.Availability != nil {
		for _, leaf := range obj.Availability.Leaves() {
			r.byNetwork[leaf.Network] = append(r.byNetwork[leaf.Network], leafBinding{rng: leaf.Range, obj: obj})
		}
	}

	r.broker.AddOnConnectPublisher(obj.Topic+"#state", r.stateRepublisher(obj))
	r.broker.AddOnConnectPublisher(obj.Topic+"#availability", r.availabilityRepublisher(obj))

	for _, cmd := range obj.Commands {
		topic := obj.Topic + "/" + cmd.Name
		r.commands[topic] = boundCommand{network: cmd.Node.Network, node: cmd.Node, count: cmd.Count}
	}
}

// Connect establishes the broker connection.
func (r *Router) Connect(ctx context.Context) error { return r.broker.Connect(ctx) }

// Close disconnects the broker.
func (r *Router) Close(ctx context.Context) error { return r.broker.Close(ctx) }

// IsConnected reports the broker's connection state.
func (r *Router) IsConnected() bool { return r.broker.IsConnected() }

// Start subscribes to every registered object's command topics.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	topics := make([]string, 0, len(r.commands))
	for topic := range r.commands {
		topics = append(topics, topic)
	}
	r.mu.Unlock()

	for _, topic := range topics {
		if _, err := r.broker.Subscribe(ctx, topic, AtLeastOnce, r.onCommand); err != nil {
			return err
		}
	}
	return nil
}

// HandleOutEvent updates the read-state store from a worker's OutEvent and
// publishes state/availability for every object that depends on the
// affected range.
func (r *Router) HandleOutEvent(ctx context.Context, network string, ev worker.OutEvent) {
	switch ev.Kind {
	case worker.OutRegisterValues:
		r.store.Update(network, ev.Range, ev.Values, true)
	case worker.OutRegisterReadFailed, worker.OutRegisterWriteFailed:
		r.store.Update(network, ev.Range, ev.Values, false)
	default:
		return
	}

	r.mu.Lock()
	seen := make(map[*mqttobject.Object]bool)
	var affected []*mqttobject.Object
	for _, b := range r.byNetwork[network] {
		if ev.Range.Contains(b.rng) && !seen[b.obj] {
			seen[b.obj] = true
			affected = append(affected, b.obj)
		}
	}
	r.mu.Unlock()

	for _, obj := range affected {
		r.publishIfDue(ctx, obj)
	}
}

// publishIfDue publishes state before availability: a subscriber must see an
// object's new state before the availability flip that explains it.
func (r *Router) publishIfDue(ctx context.Context, obj *mqttobject.Object) {
	avail := obj.EvaluateAvailability(r.store)
	if obj.ShouldPublishState(avail) {
		payload, err := obj.FormatState(r.store)
		if err != nil {
			logging.Error("formatting state", "topic", obj.Topic, "error", err)
			return
		}
		if err := r.broker.Publish(ctx, obj.Topic+"/state", AtLeastOnce, obj.Retain, payload); err != nil {
			logging.Warn("publish state failed", "topic", obj.Topic, "error", err)
			return
		}
		obj.MarkPublished()
	}
	if obj.AvailabilityChanged(avail) {
		if err := r.broker.Publish(ctx, obj.Topic+"/availability", AtLeastOnce, true, []byte(avail.String())); err != nil {
			logging.Warn("publish availability failed", "topic", obj.Topic, "error", err)
		}
	}
}

func (r *Router) stateRepublisher(obj *mqttobject.Object) OnConnectPublisher {
	return func() (PublishRequest, error) {
		payload, err := obj.FormatState(r.store)
		if err != nil {
			return PublishRequest{}, err
		}
		return PublishRequest{Topic: obj.Topic + "/state", Qos: AtLeastOnce, Retain: obj.Retain, PayloadBytes: payload}, nil
	}
}

func (r *Router) availabilityRepublisher(obj *mqttobject.Object) OnConnectPublisher {
	return func() (PublishRequest, error) {
		avail := obj.EvaluateAvailability(r.store)
		return PublishRequest{Topic: obj.Topic + "/availability", Qos: AtLeastOnce, Retain: true, PayloadBytes: []byte(avail.String())}, nil
	}
}

func (r *Router) onCommand(ctx context.Context, topic string, payload []byte) {
	r.mu.Lock()
	bound, ok := r.commands[topic]
	inbox := r.inboxes[bound.network]
	r.mu.Unlock()
	if !ok {
		logging.Warn("command on unbound topic", "topic", topic)
		return
	}

	var cmd CommandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logging.Warn("command payload malformed", "topic", topic, "error", err)
		return
	}

	f, err := cmd.Value.Float64()
	if err != nil {
		r.ack(ctx, cmd, false, "value must be numeric")
		return
	}

	conv := bound.node.Conv
	if conv == nil {
		conv = converter.Int16Converter{}
	}
	values, err := conv.ToModbus(converter.Value(f), bound.count)
	if err != nil {
		r.ack(ctx, cmd, false, err.Error())
		return
	}
	if inbox == nil {
		r.ack(ctx, cmd, false, "network not connected: "+bound.network)
		return
	}

	rw := requestqueue.NewRegisterWrite(bound.node.Range, values, 0)
	select {
	case inbox <- worker.InMsg{Kind: worker.MsgWriteCommand, Write: rw}:
		r.ack(ctx, cmd, true, "")
	case <-ctx.Done():
	}
}

func (r *Router) ack(ctx context.Context, cmd CommandPayload, ok bool, errMsg string) {
	if cmd.ResponseTopic == "" {
		return
	}
	ackMsg := CommandAck{OK: ok, Error: errMsg, CorrelationData: cmd.CorrelationData}
	if err := r.broker.PublishJSON(ctx, cmd.ResponseTopic, AtLeastOnce, false, ackMsg); err != nil {
		logging.Warn("publish command ack failed", "topic", cmd.ResponseTopic, "error", err)
	}
}
