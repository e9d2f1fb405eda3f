package requestqueue

import "time"

// Queue is the per-slave pair of FIFOs: due polls and pending writes.
// Mirrors ModbusRequestsQueues.
type Queue struct {
	polls  []*RegisterPoll
	writes []*RegisterWrite

	// popFromPoll alternates which FIFO PopNext favors, so writes interleave
	// with polls on a busy slave instead of starving behind a long poll backlog.
	popFromPoll bool
}

// NewQueue builds an empty per-slave queue pair.
func NewQueue() *Queue {
	return &Queue{popFromPoll: true}
}

// Empty reports whether both FIFOs are empty.
func (q *Queue) Empty() bool {
	return len(q.polls) == 0 && len(q.writes) == 0
}

// PollQueueSize returns the number of due polls currently queued.
func (q *Queue) PollQueueSize() int { return len(q.polls) }

// WriteQueueSize returns the number of pending writes currently queued.
func (q *Queue) WriteQueueSize() int { return len(q.writes) }

// AddPolls appends every poll in list that isn't already present (by pointer
// identity) in the poll queue. Mirrors ModbusRequestsQueues::addPollList's
// std::find-based dedup.
func (q *Queue) AddPolls(list []*RegisterPoll) {
	for _, p := range list {
		if q.hasPoll(p) {
			continue
		}
		q.polls = append(q.polls, p)
	}
}

func (q *Queue) hasPoll(p *RegisterPoll) bool {
	for _, existing := range q.polls {
		if existing == p {
			return true
		}
	}
	return false
}

// MaxWriteQueue bounds how many pending writes a single slave's queue may
// hold. AddWrite rejects a new write once the bound is reached rather than
// growing unbounded or silently dropping the oldest pending write, so a
// caller can surface the rejection as an observable error event.
const MaxWriteQueue = 256

// AddWrite appends a write command, reporting false if the per-slave write
// queue is already at MaxWriteQueue capacity.
func (q *Queue) AddWrite(w *RegisterWrite) bool {
	if len(q.writes) >= MaxWriteQueue {
		return false
	}
	q.writes = append(q.writes, w)
	return true
}

// Readd puts a command back at the front of its queue, used when a retryable
// failure means the same command must be attempted again next cycle without
// losing its place.
func (q *Queue) Readd(c Command) {
	if c.Poll != nil {
		q.polls = append([]*RegisterPoll{c.Poll}, q.polls...)
	}
	if c.Write != nil {
		q.writes = append([]*RegisterWrite{c.Write}, q.writes...)
	}
}

// PopNext alternates between the poll queue and the write queue (a fairness
// toggle), popping the front of whichever it favors this call, falling back
// to the other queue if the favored one is empty. Mirrors
// ModbusRequestsQueues::popNext.
func (q *Queue) PopNext() (Command, bool) {
	tryPoll := func() (Command, bool) {
		if len(q.polls) == 0 {
			return Command{}, false
		}
		p := q.polls[0]
		q.polls = q.polls[1:]
		return Command{Poll: p}, true
	}
	tryWrite := func() (Command, bool) {
		if len(q.writes) == 0 {
			return Command{}, false
		}
		w := q.writes[0]
		q.writes = q.writes[1:]
		return Command{Write: w}, true
	}

	q.popFromPoll = !q.popFromPoll
	if q.popFromPoll {
		if c, ok := tryPoll(); ok {
			return c, true
		}
		return tryWrite()
	}
	if c, ok := tryWrite(); ok {
		return c, true
	}
	return tryPoll()
}

// delayFor returns the magnitude of whichever delay discriminant applies right
// now: DelayEveryTime always applies; DelayOnSlaveChange applies only if
// slaveChanged is true; DelayNone never applies. The choice between a
// command's normal delay and its "first command on this slave" delay is made
// by the caller (requiredDelay) before d is passed in.
func delayFor(d CommandDelay, slaveChanged bool) time.Duration {
	switch d.Kind {
	case DelayEveryTime:
		return d.Duration
	case DelayOnSlaveChange:
		if slaveChanged {
			return d.Duration
		}
		return 0
	default:
		return 0
	}
}

// candidate pairs a command with the delay it requires right now. Nothing in
// this package uses it at present: FindForSilence/PopFirstWithDelay track
// their best match with plain local variables.
type candidate struct {
	idx          int
	isPoll       bool
	requiredWait time.Duration // how much more silence is needed beyond `period`
}

// requiredDelay computes how much longer the given command must wait given
// period of accumulated silence so far, honoring ignoreFirstRead (true when
// this is the slave the worker just finished serving, per the executor's
// election rule: we don't re-apply "first touch" delay to the slave we're
// already on).
func requiredDelay(c Command, firstTouch, slaveChanged, ignoreFirstRead bool) time.Duration {
	var need time.Duration
	if firstTouch && !ignoreFirstRead {
		need = delayFor(c.FirstDelay(), slaveChanged)
	} else {
		need = delayFor(c.Delay(), slaveChanged)
	}
	return need
}

// FindForSilence scans both queues for the command whose configured delay is
// satisfiable within period of accumulated silence, returning the delay of
// the best fit (the largest delay that is still <= period, i.e. the command
// that consumes the most of the available silence without exceeding it). It
// returns ok=false if no command in this queue can fire within period; if any
// matching command needs zero delay, it is returned immediately since nothing
// can fit better. Mirrors ModbusRequestsQueues::findForSilencePeriod.
//
// firstTouch tells the queue whether this slave hasn't been touched since
// connect/reconnect (so DelayBeforeFirstCommand applies instead of
// DelayBeforeCommand).
func (q *Queue) FindForSilence(period time.Duration, firstTouch, slaveChanged, ignoreFirstRead bool) (time.Duration, bool) {
	best := time.Duration(-1)
	found := false
	check := func(c Command) bool {
		need := requiredDelay(c, firstTouch, slaveChanged, ignoreFirstRead)
		if need > period {
			return false
		}
		found = true
		if need == 0 {
			best = 0
			return true
		}
		if need > best {
			best = need
		}
		return false
	}
	for _, p := range q.polls {
		if check(Command{Poll: p}) {
			return 0, true
		}
	}
	for _, w := range q.writes {
		if check(Command{Write: w}) {
			return 0, true
		}
	}
	if !found {
		return 0, false
	}
	if best < 0 {
		best = 0
	}
	return best, true
}

// PopFirstWithDelay removes and returns the command selected by
// FindForSilence's election (the best-fit delayed command), falling back to
// PopNext if none match. Mirrors ModbusRequestsQueues::popFirstWithDelay.
func (q *Queue) PopFirstWithDelay(period time.Duration, firstTouch, slaveChanged, ignoreFirstRead bool) (Command, bool) {
	var bestCmd Command
	bestIdx := -1
	bestIsPoll := false
	bestNeed := time.Duration(-1)

	for i, p := range q.polls {
		need := requiredDelay(Command{Poll: p}, firstTouch, slaveChanged, ignoreFirstRead)
		if need > period {
			continue
		}
		if need == 0 {
			q.polls = append(q.polls[:i:i], q.polls[i+1:]...)
			return Command{Poll: p}, true
		}
		if need > bestNeed {
			bestNeed = need
			bestIdx = i
			bestIsPoll = true
			bestCmd = Command{Poll: p}
		}
	}
	for i, w := range q.writes {
		need := requiredDelay(Command{Write: w}, firstTouch, slaveChanged, ignoreFirstRead)
		if need > period {
			continue
		}
		if need == 0 {
			q.writes = append(q.writes[:i:i], q.writes[i+1:]...)
			return Command{Write: w}, true
		}
		if need > bestNeed {
			bestNeed = need
			bestIdx = i
			bestIsPoll = false
			bestCmd = Command{Write: w}
		}
	}

	if bestIdx == -1 {
		return q.PopNext()
	}
	if bestIsPoll {
		q.polls = append(q.polls[:bestIdx:bestIdx], q.polls[bestIdx+1:]...)
	} else {
		q.writes = append(q.writes[:bestIdx:bestIdx], q.writes[bestIdx+1:]...)
	}
	return bestCmd, true
}
