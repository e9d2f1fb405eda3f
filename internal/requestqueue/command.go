// Package requestqueue implements the per-slave FIFO queues of due polls and
// pending writes that feed the executor (C6), including the election helpers
// used to decide which due command best fits accumulated silence time.
//
// Grounded on libmodmqttsrv/modbus_request_queues.{hpp,cpp} and
// libmodmqttsrv/register_poll.{hpp,cpp}.
package requestqueue

import (
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
	"github.com/fisaks/modbus-mqtt-bridge/internal/pollspec"
)

// DelayKind is the discriminant of a CommandDelay.
type DelayKind uint8

const (
	DelayNone DelayKind = iota
	DelayEveryTime
	DelayOnSlaveChange
)

// CommandDelay pairs a discriminant with a magnitude. The executor applies the
// magnitude only when the discriminant fires for the command about to run.
type CommandDelay struct {
	Kind     DelayKind
	Duration time.Duration
}

// DurationBetweenLogError bounds how often a read-error log line repeats for
// the same register poll (register_poll.hpp's DurationBetweenLogError).
const DurationBetweenLogError = 5 * time.Minute

// DefaultReadErrorCount is the number of consecutive read failures after which
// a RegisterReadFailed event is emitted (register_poll.hpp's DefaultReadErrorCount).
const DefaultReadErrorCount = 3

// RegisterPoll is the runtime state of one grouped poll: the address range and
// refresh/publish-mode from the poll-spec builder, plus the mutable bookkeeping
// the executor and scheduler advance over time.
type RegisterPoll struct {
	Range       modbustype.Range
	Refresh     time.Duration
	PublishMode pollspec.PublishMode

	LastValues     []uint16
	LastRead       time.Time
	LastReadOK     bool
	ReadErrorCount int
	FirstErrorTime time.Time

	DelayBeforeCommand      CommandDelay
	DelayBeforeFirstCommand CommandDelay
	MaxReadRetry            int

	// readRetryLeft counts down from MaxReadRetry while a failing read is
	// being retried before the executor gives up for this cycle.
	readRetryLeft int
}

// NewRegisterPoll builds a RegisterPoll with LastRead set far in the past, so
// the scheduler immediately considers it due (register_poll.cpp sets
// mLastRead = now - 24h).
func NewRegisterPoll(r modbustype.Range, refresh time.Duration, mode pollspec.PublishMode) *RegisterPoll {
	return &RegisterPoll{
		Range:         r,
		Refresh:       refresh,
		PublishMode:   mode,
		LastValues:    make([]uint16, r.Count),
		LastRead:      time.Now().Add(-24 * time.Hour),
		LastReadOK:    true,
		readRetryLeft: -1,
	}
}

// readRetryLeftOrInit lazily initializes the countdown from MaxReadRetry on
// first use and returns the remaining count.
func (p *RegisterPoll) readRetryLeftOrInit() int {
	if p.readRetryLeft < 0 {
		p.readRetryLeft = p.MaxReadRetry
	}
	return p.readRetryLeft
}

// decrementReadRetry counts down the retry budget for the current failure run.
func (p *RegisterPoll) decrementReadRetry() {
	p.readRetryLeft--
}

// resetReadRetry restores the retry countdown to -1 (uninitialized) once a
// failing read's retry budget is exhausted, so the next failure cycle starts fresh.
func (p *RegisterPoll) resetReadRetry() {
	p.readRetryLeft = -1
}

// WriteResult is delivered on a RegisterWrite's optional ReturnCh once the
// executor has attempted the write.
type WriteResult struct {
	Values []uint16
	Err    error
}

// RegisterWrite is a pending write command.
type RegisterWrite struct {
	Range    modbustype.Range
	Values   []uint16
	ReturnCh chan<- WriteResult // optional; nil if the caller doesn't need a result

	DelayBeforeCommand      CommandDelay
	DelayBeforeFirstCommand CommandDelay
	MaxWriteRetry           int

	writeRetryLeft int
}

// NewRegisterWrite builds a pending write command.
func NewRegisterWrite(r modbustype.Range, values []uint16, maxRetry int) *RegisterWrite {
	return &RegisterWrite{
		Range:          r,
		Values:         values,
		MaxWriteRetry:  maxRetry,
		writeRetryLeft: -1,
	}
}

// writeRetryLeftOrInit lazily initializes the countdown from MaxWriteRetry.
func (w *RegisterWrite) writeRetryLeftOrInit() int {
	if w.writeRetryLeft < 0 {
		w.writeRetryLeft = w.MaxWriteRetry
	}
	return w.writeRetryLeft
}

// decrementWriteRetry counts down the retry budget for the current failure run.
func (w *RegisterWrite) decrementWriteRetry() {
	w.writeRetryLeft--
}

// Command is a union of a poll or a write command, matching the executor's
// single "next thing to execute" slot.
type Command struct {
	Poll  *RegisterPoll
	Write *RegisterWrite
}

// IsPoll reports whether this command is a register poll (as opposed to a write).
func (c Command) IsPoll() bool { return c.Poll != nil }

// IsZero reports whether this Command holds neither a poll nor a write.
func (c Command) IsZero() bool { return c.Poll == nil && c.Write == nil }

// SlaveID returns the target slave of whichever command variant is set.
func (c Command) SlaveID() uint8 {
	if c.Poll != nil {
		return c.Poll.Range.SlaveID
	}
	if c.Write != nil {
		return c.Write.Range.SlaveID
	}
	return 0
}

// Delay returns the delay-before-command configuration of whichever command
// variant is set.
func (c Command) Delay() CommandDelay {
	if c.Poll != nil {
		return c.Poll.DelayBeforeCommand
	}
	if c.Write != nil {
		return c.Write.DelayBeforeCommand
	}
	return CommandDelay{}
}

// FirstDelay returns the delay-before-first-command configuration.
func (c Command) FirstDelay() CommandDelay {
	if c.Poll != nil {
		return c.Poll.DelayBeforeFirstCommand
	}
	if c.Write != nil {
		return c.Write.DelayBeforeFirstCommand
	}
	return CommandDelay{}
}
