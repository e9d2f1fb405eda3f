// Package worker implements the per-network cooperative worker (C9): one
// goroutine owns a Modbus transport, scheduler, executor, and watchdog, and
// drains a single inbound control channel while driving reads/writes to
// completion.
//
// Grounded on libmodmqttsrv/modbus_thread.cpp's run()/dispatchMessages() for
// the loop shape (reconnect back-off growing to 60s, should_poll gating,
// message-kind dispatch) and the teacher's internal/poller/poller.go
// (SerialBusPoller.poller/StartPoller) for the Go channel-and-goroutine
// realization of the same loop: a ticker-driven, drop-if-queued poll signal
// is unnecessary here because the scheduler already returns an exact wait
// duration, so the worker times its own wakeups with a single timer instead.
package worker

import (
	"context"
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/config"
	"github.com/fisaks/modbus-mqtt-bridge/internal/executor"
	"github.com/fisaks/modbus-mqtt-bridge/internal/logging"
	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
	"github.com/fisaks/modbus-mqtt-bridge/internal/pollspec"
	"github.com/fisaks/modbus-mqtt-bridge/internal/requestqueue"
	"github.com/fisaks/modbus-mqtt-bridge/internal/scheduler"
	"github.com/fisaks/modbus-mqtt-bridge/internal/transport"
	"github.com/fisaks/modbus-mqtt-bridge/internal/watchdog"
)

// mqttDrainInterval is how long the worker waits on its inbox while
// should_poll is false, mirroring modbus_thread.cpp's 2-second drain.
const mqttDrainInterval = 2 * time.Second

// InMsgKind discriminates inbound control messages from the main goroutine.
type InMsgKind uint8

const (
	MsgSlaveConfig InMsgKind = iota
	MsgPollSpecification
	MsgWriteCommand
	MsgMQTTNetworkState
	MsgShutdown
)

// SlaveTiming carries the per-slave delay/retry configuration used when
// building RegisterPoll/RegisterWrite runtime records.
type SlaveTiming struct {
	DelayBeforeCommand      requestqueue.CommandDelay
	DelayBeforeFirstCommand requestqueue.CommandDelay
	ReadRetries             int
	WriteRetries            int
}

// InMsg is one inbound control message.
type InMsg struct {
	Kind InMsgKind

	SlaveID     uint8
	SlaveTiming SlaveTiming

	Polls []pollspec.Poll // grouped polls for MsgPollSpecification

	Write *requestqueue.RegisterWrite // for MsgWriteCommand

	MQTTUp bool // for MsgMQTTNetworkState
}

// OutEventKind discriminates outbound events the worker reports to the main
// goroutine, layering ModbusNetworkState on top of executor.EventKind.
type OutEventKind uint8

const (
	OutRegisterValues OutEventKind = iota
	OutRegisterReadFailed
	OutRegisterWriteFailed
	OutNetworkUp
	OutNetworkDown
)

// OutEvent is one outbound report.
type OutEvent struct {
	Kind   OutEventKind
	Range  modbustype.Range
	Values []uint16
}

// Worker owns one Modbus network end to end.
type Worker struct {
	networkName string
	cfg         config.NetworkConfig

	transport *transport.Transport
	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	watchdog  *watchdog.Watchdog

	inbox chan InMsg
	onOut func(OutEvent)

	slaveTiming        map[uint8]SlaveTiming
	pollsBySlave       map[uint8]map[modbustype.Range]*requestqueue.RegisterPoll
	shouldPoll         bool
	needInitialPoll    bool
	watchPeriodUserSet bool
}

// New builds a worker for one network. onOut is invoked synchronously from
// the worker's own goroutine for every outbound event.
func New(netCfg config.NetworkConfig, onOut func(OutEvent)) (*Worker, error) {
	t, err := transport.New(netCfg)
	if err != nil {
		return nil, err
	}

	userSet := netCfg.Watchdog.WatchPeriodMs > 0
	watchPeriod := time.Duration(netCfg.Watchdog.WatchPeriodMs) * time.Millisecond
	if !userSet {
		watchPeriod = time.Minute // placeholder until the poll spec arrives
	}

	w := &Worker{
		networkName:        netCfg.Name,
		cfg:                netCfg,
		transport:          t,
		scheduler:          scheduler.New(),
		watchdog:           watchdog.New(watchPeriod, netCfg.Device),
		inbox:              make(chan InMsg, 32),
		onOut:              onOut,
		slaveTiming:        make(map[uint8]SlaveTiming),
		pollsBySlave:       make(map[uint8]map[modbustype.Range]*requestqueue.RegisterPoll),
		watchPeriodUserSet: userSet,
	}
	w.executor = executor.New(t, w.onExecutorEvent)
	return w, nil
}

// Inbox returns the channel the owning goroutine (main) sends InMsg on.
func (w *Worker) Inbox() chan<- InMsg { return w.inbox }

func (w *Worker) onExecutorEvent(ev executor.Event) {
	switch ev.Kind {
	case executor.EventRegisterValues:
		w.onOut(OutEvent{Kind: OutRegisterValues, Range: ev.Range, Values: ev.Values})
	case executor.EventRegisterReadFailed:
		w.onOut(OutEvent{Kind: OutRegisterReadFailed, Range: ev.Range})
	case executor.EventRegisterWriteFailed:
		w.onOut(OutEvent{Kind: OutRegisterWriteFailed, Range: ev.Range})
	}
}

// Run drives the worker's main loop until ctx is canceled or a Shutdown
// message is received. It is meant to be called as the body of the owning
// goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.transport.Disconnect()
			return
		}

		if !w.transport.IsConnected() {
			if err := w.transport.Connect(ctx); err != nil {
				w.onOut(OutEvent{Kind: OutNetworkDown})
				if !w.drainInbox(ctx, 1*time.Second) {
					return
				}
				continue
			}
			w.onOut(OutEvent{Kind: OutNetworkUp})
			w.needInitialPoll = true
			w.watchdog.Reset()
		}

		if !w.shouldPoll {
			if !w.drainInbox(ctx, mqttDrainInterval) {
				return
			}
			continue
		}

		if w.needInitialPoll {
			w.executor.SetupInitialPoll(w.allPollsBySlave())
		}

		now := time.Now()
		dueMap, schedWait := w.scheduler.RegistersDue(now)
		if len(dueMap) > 0 {
			w.executor.AddPolls(dueMap, w.needInitialPoll)
		}
		if w.needInitialPoll && w.executor.PollDone() {
			w.needInitialPoll = false
		}

		start := time.Now()
		stepWait := w.executor.ExecuteNext(ctx)

		w.watchdog.Inspect(w.executor.LastAttemptOK())
		if w.watchdog.ReconnectRequired() {
			logging.Warn("watchdog forcing reconnect", "network", w.networkName)
			w.transport.Disconnect()
			continue
		}

		wait := schedWait
		if stepWait < wait {
			wait = stepWait
		}
		wait -= time.Since(start)
		if wait < 0 {
			wait = 0
		}
		if !w.drainInbox(ctx, wait) {
			return
		}
	}
}

// drainInbox blocks for up to timeout waiting for one inbound message,
// applying it if one arrives. Returns false if the worker should stop.
func (w *Worker) drainInbox(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case msg := <-w.inbox:
			return w.apply(msg)
		default:
			return true
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case msg := <-w.inbox:
		return w.apply(msg)
	case <-timer.C:
		return true
	}
}

func (w *Worker) apply(msg InMsg) bool {
	switch msg.Kind {
	case MsgShutdown:
		w.transport.Disconnect()
		return false
	case MsgSlaveConfig:
		w.slaveTiming[msg.SlaveID] = msg.SlaveTiming
	case MsgPollSpecification:
		w.applyPollSpecification(msg.Polls)
	case MsgWriteCommand:
		if msg.Write != nil {
			w.applyTimingToWrite(msg.Write)
			w.executor.AddWrite(msg.Write)
		}
	case MsgMQTTNetworkState:
		w.shouldPoll = msg.MQTTUp
	}
	return true
}

// applyPollSpecification reconciles the grouped poll list for the whole
// network against existing runtime RegisterPoll records: unchanged ranges
// keep their bookkeeping (last_read, error counters); new ranges get a fresh
// RegisterPoll; ranges no longer present are dropped.
func (w *Worker) applyPollSpecification(polls []pollspec.Poll) {
	fresh := make(map[uint8]map[modbustype.Range]*requestqueue.RegisterPoll)
	for _, p := range polls {
		slave := p.Range.SlaveID
		if fresh[slave] == nil {
			fresh[slave] = make(map[modbustype.Range]*requestqueue.RegisterPoll)
		}
		if existing, ok := w.pollsBySlave[slave][p.Range]; ok {
			existing.Refresh = p.Refresh
			existing.PublishMode = p.PublishMode
			fresh[slave][p.Range] = existing
			continue
		}
		rp := requestqueue.NewRegisterPoll(p.Range, p.Refresh, p.PublishMode)
		w.applyTimingToPoll(rp)
		fresh[slave][p.Range] = rp
	}
	w.pollsBySlave = fresh
	w.scheduler.SetPollSpecification(w.allPollsBySlave())

	if !w.watchPeriodUserSet {
		if min := w.scheduler.MinPollTime(); min < scheduler.MaxWait {
			w.watchdog.SetWatchPeriod(2 * min)
		}
	}
}

func (w *Worker) allPollsBySlave() map[uint8][]*requestqueue.RegisterPoll {
	out := make(map[uint8][]*requestqueue.RegisterPoll)
	for slave, byRange := range w.pollsBySlave {
		for _, rp := range byRange {
			out[slave] = append(out[slave], rp)
		}
	}
	return out
}

func (w *Worker) applyTimingToPoll(rp *requestqueue.RegisterPoll) {
	t, ok := w.slaveTiming[rp.Range.SlaveID]
	if !ok {
		return
	}
	rp.DelayBeforeCommand = t.DelayBeforeCommand
	rp.DelayBeforeFirstCommand = t.DelayBeforeFirstCommand
	rp.MaxReadRetry = t.ReadRetries
}

func (w *Worker) applyTimingToWrite(rw *requestqueue.RegisterWrite) {
	t, ok := w.slaveTiming[rw.Range.SlaveID]
	if !ok {
		return
	}
	rw.DelayBeforeCommand = t.DelayBeforeCommand
	rw.DelayBeforeFirstCommand = t.DelayBeforeFirstCommand
	rw.MaxWriteRetry = t.WriteRetries
}
