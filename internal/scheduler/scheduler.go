// Package scheduler computes which register polls are due right now and how
// long to wait before the next one becomes due.
//
// Grounded on libmodmqttsrv/modbus_scheduler.{hpp,cpp}.
package scheduler

import (
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/pollspec"
	"github.com/fisaks/modbus-mqtt-bridge/internal/requestqueue"
)

// MaxWait is returned as the wait duration when no poll is eligible at all (no
// registers are configured, or every one is a ONCE poll that already read
// successfully), mirroring getRegistersToPoll's std::chrono::duration::max() sentinel.
const MaxWait = 365 * 24 * time.Hour

// Scheduler holds the full, authoritative set of register polls for one
// network, independent of which ones currently sit in the executor's queues.
type Scheduler struct {
	bySlave map[uint8][]*requestqueue.RegisterPoll
}

// New builds an empty scheduler.
func New() *Scheduler {
	return &Scheduler{bySlave: make(map[uint8][]*requestqueue.RegisterPoll)}
}

// SetPollSpecification replaces the full register set.
func (s *Scheduler) SetPollSpecification(bySlave map[uint8][]*requestqueue.RegisterPoll) {
	s.bySlave = bySlave
}

// PollSpecification returns the full register set.
func (s *Scheduler) PollSpecification() map[uint8][]*requestqueue.RegisterPoll {
	return s.bySlave
}

// Remove drops one register poll (by pointer identity) from the schedule.
func (s *Scheduler) Remove(slaveID uint8, poll *requestqueue.RegisterPoll) {
	list, ok := s.bySlave[slaveID]
	if !ok {
		return
	}
	for i, p := range list {
		if p == poll {
			s.bySlave[slaveID] = append(list[:i:i], list[i+1:]...)
			if len(s.bySlave[slaveID]) == 0 {
				delete(s.bySlave, slaveID)
			}
			return
		}
	}
}

// RegistersDue returns, for timePoint, the map of slave -> polls whose refresh
// period has elapsed (and are still eligible to be read: a ONCE poll that
// already read successfully is never returned again), plus the minimum wait
// across every eligible poll: a poll not yet due contributes the time left
// until it is due, and a poll that is due now contributes its full refresh
// period (the time until its next read after this one). Mirrors
// ModbusScheduler::getRegistersToPoll.
func (s *Scheduler) RegistersDue(timePoint time.Time) (map[uint8][]*requestqueue.RegisterPoll, time.Duration) {
	due := make(map[uint8][]*requestqueue.RegisterPoll)
	wait := time.Duration(-1) // sentinel for "unset"; becomes MaxWait if nothing ever sets it

	for slaveID, polls := range s.bySlave {
		for _, reg := range polls {
			if reg.PublishMode == pollspec.Once && reg.LastReadOK {
				continue
			}

			timePassed := timePoint.Sub(reg.LastRead)
			timeToPoll := reg.Refresh

			if timePassed >= reg.Refresh {
				due[slaveID] = append(due[slaveID], reg)
			} else {
				timeToPoll = reg.Refresh - timePassed
			}

			if wait < 0 || timeToPoll < wait {
				wait = timeToPoll
			}
		}
	}
	if wait < 0 {
		wait = MaxWait
	}
	return due, wait
}

// MinPollTime returns the smallest configured refresh across every poll on
// this network, used as the watchdog's default watch period (2x this value).
// Mirrors ModbusScheduler::getMinPollTime.
func (s *Scheduler) MinPollTime() time.Duration {
	min := MaxWait
	for _, polls := range s.bySlave {
		for _, reg := range polls {
			if reg.Refresh < min {
				min = reg.Refresh
			}
		}
	}
	return min
}
