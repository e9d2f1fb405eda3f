// Package executor implements the single-threaded command election and
// execution state machine described in spec.md §4.4: it owns one request
// queue per slave, elects the next command to run honoring silence/slave-
// change delays, invokes the transport, applies retries, and emits change
// events.
//
// Grounded on libmodmqttsrv/modbus_executor.{hpp,cpp} — the election via
// accumulated silence across slave queues, the commandsLeft fairness counter,
// the "always bump LastRead even on a failed read" invariant, and the
// log-suppression / DefaultReadErrorCount bookkeeping are all ported from
// there, adapted to Go's single-goroutine-per-network model (no locking, the
// executor is only ever touched by its owning worker goroutine).
package executor

import (
	"context"
	"sort"
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/bridgeerrors"
	"github.com/fisaks/modbus-mqtt-bridge/internal/logging"
	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
	"github.com/fisaks/modbus-mqtt-bridge/internal/requestqueue"
)

// WriteBatchSize bounds how many commands a write-only slave gets before
// rotation is forced, mirroring ModbusExecutor::WRITE_BATCH_SIZE.
const WriteBatchSize = 10

// MaxWait is returned when nothing is due and the worker should block
// indefinitely for the next inbound message.
const MaxWait = 365 * 24 * time.Hour

// Transport is the subset of internal/transport.Transport the executor needs,
// expressed as an interface so tests can substitute a fake.
type Transport interface {
	Read(ctx context.Context, r modbustype.Range) ([]uint16, error)
	Write(ctx context.Context, r modbustype.Range, values []uint16) error
}

// EventKind discriminates the outbound events the executor emits.
type EventKind uint8

const (
	EventRegisterValues EventKind = iota
	EventRegisterReadFailed
	EventRegisterWriteFailed
)

// Event is one outbound message the executor hands to the network worker.
type Event struct {
	Kind   EventKind
	Range  modbustype.Range
	Values []uint16 // populated for EventRegisterValues
}

// Executor is the per-network command scheduler and runner.
type Executor struct {
	transport Transport
	onEvent   func(Event)

	queues  map[uint8]*requestqueue.Queue
	touched map[uint8]bool // slaves touched since worker start/reconnect

	currentSlave    uint8
	hasCurrentSlave bool
	lastSlave       uint8
	hasLastSlave    bool

	waitingCommand requestqueue.Command
	waitingSlave   uint8
	hasWaiting     bool

	lastCommandTime time.Time
	commandsLeft    int

	initialPoll bool

	now func() time.Time

	// lastAttemptOK records the outcome of the most recent transport attempt
	// (every sendCommand call, including retried ones), for the worker to feed
	// into the watchdog per spec.md §4.6.
	lastAttemptOK bool
}

// LastAttemptOK reports whether the most recent command attempt succeeded.
// Zero value (false) before any command has run.
func (e *Executor) LastAttemptOK() bool { return e.lastAttemptOK }

// New builds an executor bound to transport t; events are delivered to
// onEvent synchronously from within ExecuteNext.
func New(t Transport, onEvent func(Event)) *Executor {
	return &Executor{
		transport:       t,
		onEvent:         onEvent,
		queues:          make(map[uint8]*requestqueue.Queue),
		touched:         make(map[uint8]bool),
		lastCommandTime: time.Now().Add(-24 * time.Hour),
		now:             time.Now,
	}
}

func (e *Executor) queueFor(slaveID uint8) *requestqueue.Queue {
	q, ok := e.queues[slaveID]
	if !ok {
		q = requestqueue.NewQueue()
		e.queues[slaveID] = q
	}
	return q
}

func (e *Executor) sortedSlaveIDs() []uint8 {
	ids := make([]uint8, 0, len(e.queues))
	for id := range e.queues {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetupInitialPoll installs every poll in bySlave as due and marks the
// executor in "initial poll" mode, where change-detection is bypassed: every
// successful read emits an event unconditionally.
func (e *Executor) SetupInitialPoll(bySlave map[uint8][]*requestqueue.RegisterPoll) {
	e.AddPolls(bySlave, true)
	e.initialPoll = true
}

// AddPolls merges due polls into their per-slave queues. If the executor
// currently has no elected current slave, it runs the election described in
// spec.md §4.4: across all slave queues, pick the one whose best-fit delay
// (per requestqueue.FindForSilence) is smallest; stop early on a zero-delay
// match. Mirrors ModbusExecutor::addPollList.
func (e *Executor) AddPolls(bySlave map[uint8][]*requestqueue.RegisterPoll, initial bool) {
	for slaveID, polls := range bySlave {
		e.queueFor(slaveID).AddPolls(polls)
	}
	if !e.hasCurrentSlave && !e.hasWaiting {
		e.elect()
	}
}

// AddWrite enqueues a write command for the given slave. If the executor has
// no elected current slave, it becomes this slave.
// AddWrite enqueues a pending write, rejecting it with an
// EventRegisterWriteFailed event if the target slave's write queue is
// already at requestqueue.MaxWriteQueue capacity.
func (e *Executor) AddWrite(w *requestqueue.RegisterWrite) {
	if !e.queueFor(w.Range.SlaveID).AddWrite(w) {
		logging.Warn("write queue full, rejecting command", "slave", w.Range.SlaveID)
		e.emit(Event{Kind: EventRegisterWriteFailed, Range: w.Range})
		return
	}
	if !e.hasCurrentSlave && !e.hasWaiting {
		e.currentSlave = w.Range.SlaveID
		e.hasCurrentSlave = true
		e.resetCommandsCounter()
	}
}

// elect picks the best-fit slave across all queues given accumulated silence
// since the last command, per requestqueue.FindForSilence, and pops its
// chosen command into waitingCommand.
func (e *Executor) elect() {
	silence := e.now().Sub(e.lastCommandTime)

	bestSlave := uint8(0)
	bestFound := false
	bestDelay := time.Duration(-1)

	for _, slaveID := range e.sortedSlaveIDs() {
		if e.queues[slaveID].Empty() {
			continue
		}
		slaveChanged := !e.hasLastSlave || slaveID != e.lastSlave
		ignoreFirstRead := e.hasLastSlave && slaveID == e.lastSlave
		firstTouch := !e.touched[slaveID]

		d, ok := e.queues[slaveID].FindForSilence(silence, firstTouch, slaveChanged, ignoreFirstRead)
		if !ok {
			continue
		}
		if !bestFound || d < bestDelay {
			bestDelay = d
			bestSlave = slaveID
			bestFound = true
		}
		if d == 0 {
			break
		}
	}

	if !bestFound {
		// fall back to the first non-empty queue in slave order
		for _, slaveID := range e.sortedSlaveIDs() {
			if !e.queues[slaveID].Empty() {
				bestSlave = slaveID
				bestFound = true
				break
			}
		}
		if !bestFound {
			return
		}
	}

	e.currentSlave = bestSlave
	e.hasCurrentSlave = true
	slaveChanged := !e.hasLastSlave || bestSlave != e.lastSlave
	ignoreFirstRead := e.hasLastSlave && bestSlave == e.lastSlave
	firstTouch := !e.touched[bestSlave]

	cmd, ok := e.queues[bestSlave].PopFirstWithDelay(silence, firstTouch, slaveChanged, ignoreFirstRead)
	if ok {
		e.waitingCommand = cmd
		e.waitingSlave = bestSlave
		e.hasWaiting = true
	}
	e.resetCommandsCounter()
}

// resetCommandsCounter sets the fairness budget for the now-current slave:
// twice its poll queue size, or WriteBatchSize if it has only writes.
// Mirrors ModbusExecutor::resetCommandsCounter.
func (e *Executor) resetCommandsCounter() {
	q := e.queues[e.currentSlave]
	if q == nil {
		e.commandsLeft = WriteBatchSize
		return
	}
	if q.PollQueueSize() == 0 {
		e.commandsLeft = WriteBatchSize
	} else {
		e.commandsLeft = q.PollQueueSize() * 2
	}
}

// AllDone reports whether there is no waiting command and every slave queue
// is empty.
func (e *Executor) AllDone() bool {
	if e.hasWaiting {
		return false
	}
	for _, q := range e.queues {
		if !q.Empty() {
			return false
		}
	}
	return true
}

// PollDone reports whether no poll is waiting and no slave has pending polls
// (writes may remain). The initial-poll flag flips to false the first time
// this becomes true after SetupInitialPoll.
func (e *Executor) PollDone() bool {
	if e.hasWaiting && e.waitingCommand.IsPoll() {
		return false
	}
	for _, q := range e.queues {
		if q.PollQueueSize() > 0 {
			return false
		}
	}
	return true
}

// ExecuteNext advances one step: it either executes the currently elected
// command (if its required silence has elapsed) or elects the next one,
// returning how long the worker should sleep before calling again. A
// returned duration of 0 means a command was just executed; a positive
// duration means the caller should wait at least that long.
func (e *Executor) ExecuteNext(ctx context.Context) time.Duration {
	if !e.hasWaiting {
		e.pickNext()
	}
	if !e.hasWaiting {
		if e.initialPoll && e.PollDone() {
			e.initialPoll = false
		}
		return MaxWait
	}

	cmd := e.waitingCommand
	slaveChanged := !e.hasLastSlave || e.waitingSlave != e.lastSlave
	firstTouch := !e.touched[e.waitingSlave]
	need := requiredDelay(cmd, firstTouch, slaveChanged)
	silence := e.now().Sub(e.lastCommandTime)

	if need > silence {
		return need - silence
	}

	e.sendCommand(ctx, cmd)

	if e.initialPoll && e.PollDone() {
		e.initialPoll = false
	}
	return 0
}

// pickNext chooses the next command to run when there is no waiting command:
// rotate to the next non-empty slave if the fairness budget is exhausted or
// the current slave has no work, then pop one command from it.
func (e *Executor) pickNext() {
	needRotate := !e.hasCurrentSlave || e.commandsLeft <= 0 || e.queues[e.currentSlave].Empty()
	if needRotate {
		if !e.rotateToNextNonEmpty() {
			return
		}
		e.resetCommandsCounter()
	}
	cmd, ok := e.queues[e.currentSlave].PopNext()
	if !ok {
		return
	}
	e.waitingCommand = cmd
	e.waitingSlave = e.currentSlave
	e.hasWaiting = true
}

// rotateToNextNonEmpty advances currentSlave to the next non-empty queue in
// sorted-slave-id order, wrapping around, starting just after the current
// position. Returns false if every queue is empty.
func (e *Executor) rotateToNextNonEmpty() bool {
	ids := e.sortedSlaveIDs()
	if len(ids) == 0 {
		return false
	}
	startIdx := 0
	if e.hasCurrentSlave {
		for i, id := range ids {
			if id == e.currentSlave {
				startIdx = i + 1
				break
			}
		}
	}
	for i := 0; i < len(ids); i++ {
		idx := (startIdx + i) % len(ids)
		if !e.queues[ids[idx]].Empty() {
			e.currentSlave = ids[idx]
			e.hasCurrentSlave = true
			return true
		}
	}
	return false
}

func requiredDelay(cmd requestqueue.Command, firstTouch, slaveChanged bool) time.Duration {
	var d requestqueue.CommandDelay
	if firstTouch {
		d = cmd.FirstDelay()
	} else {
		d = cmd.Delay()
	}
	switch d.Kind {
	case requestqueue.DelayEveryTime:
		return d.Duration
	case requestqueue.DelayOnSlaveChange:
		if slaveChanged {
			return d.Duration
		}
		return 0
	default:
		return 0
	}
}

// sendCommand executes cmd against the transport, applies retry policy,
// emits events, and updates all of the timing/fairness bookkeeping. Mirrors
// ModbusExecutor::sendCommand plus pollRegisters/writeRegisters.
func (e *Executor) sendCommand(ctx context.Context, cmd requestqueue.Command) {
	retrying := false
	if cmd.IsPoll() {
		retrying = e.executePoll(ctx, cmd.Poll)
	} else {
		retrying = e.executeWrite(ctx, cmd.Write)
	}

	e.touched[e.waitingSlave] = true
	e.lastCommandTime = e.now()
	e.lastSlave = e.waitingSlave
	e.hasLastSlave = true

	if retrying {
		// Put the command back at the front of its queue so it is retried on
		// the next ExecuteNext call without losing its place.
		e.queues[e.waitingSlave].Readd(cmd)
	} else {
		e.commandsLeft--
	}
	e.hasWaiting = false
}

// executePoll runs a read, updates change-detection bookkeeping, and emits
// RegisterValues or RegisterReadFailed. Returns true if the command should be
// retried (a failure occurred and retries remain).
func (e *Executor) executePoll(ctx context.Context, p *requestqueue.RegisterPoll) bool {
	values, err := e.transport.Read(ctx, p.Range)
	e.lastAttemptOK = err == nil

	// Always bump LastRead regardless of outcome, so the scheduler does not
	// hot-loop re-issuing a register that always fails.
	p.LastRead = e.now()

	if err == nil {
		changed := !equalValues(p.LastValues, values)
		if changed || e.initialPoll || p.ReadErrorCount != 0 {
			e.emit(Event{Kind: EventRegisterValues, Range: p.Range, Values: values})
		}
		p.LastValues = values
		p.LastReadOK = true
		p.ReadErrorCount = 0
		return false
	}

	p.LastReadOK = false
	p.ReadErrorCount++
	if p.ReadErrorCount == 1 || e.now().Sub(p.FirstErrorTime) > requestqueue.DurationBetweenLogError {
		logging.Error("register read failed", "slave", p.Range.SlaveID, "first", p.Range.First, "count", p.ReadErrorCount, "error", err)
		p.FirstErrorTime = e.now()
		if p.ReadErrorCount != 1 {
			p.ReadErrorCount = 0
		}
	}
	if p.ReadErrorCount >= requestqueue.DefaultReadErrorCount {
		e.emit(Event{Kind: EventRegisterReadFailed, Range: p.Range})
	}

	if p.MaxReadRetry <= 0 {
		return false
	}
	if p.readRetryLeftOrInit() > 0 {
		p.decrementReadRetry()
		return true
	}
	p.resetReadRetry()
	return false
}

// executeWrite runs a write, delivers a confirmation event (or failure), and
// returns true if the command should be retried. Unlike a poll, a
// successfully-written command is never retried.
func (e *Executor) executeWrite(ctx context.Context, w *requestqueue.RegisterWrite) bool {
	err := e.transport.Write(ctx, w.Range, w.Values)
	e.lastAttemptOK = err == nil
	if err == nil {
		if w.ReturnCh != nil {
			w.ReturnCh <- requestqueue.WriteResult{Values: w.Values}
		}
		e.emit(Event{Kind: EventRegisterValues, Range: w.Range, Values: w.Values})
		return false
	}

	logging.Error("register write failed", "slave", w.Range.SlaveID, "first", w.Range.First, "error", err)
	if w.MaxWriteRetry > 0 && w.writeRetryLeftOrInit() > 0 {
		w.decrementWriteRetry()
		return true
	}
	if w.ReturnCh != nil {
		w.ReturnCh <- requestqueue.WriteResult{Err: bridgeerrors.Wrap(bridgeerrors.TransportWrite, "write failed", err)}
	}
	e.emit(Event{Kind: EventRegisterWriteFailed, Range: w.Range})
	return false
}

func (e *Executor) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

func equalValues(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
