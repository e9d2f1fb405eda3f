package executor

import (
	"context"
	"testing"
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/modbustype"
	"github.com/fisaks/modbus-mqtt-bridge/internal/pollspec"
	"github.com/fisaks/modbus-mqtt-bridge/internal/requestqueue"
)

// fakeTransport returns a fixed value per range (keyed by slave+first) and
// records every read/write it was asked to perform.
type fakeTransport struct {
	values    map[uint16][]uint16
	readErr   map[uint16]error
	writeErr  map[uint16]error
	readCalls int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{values: map[uint16][]uint16{}, readErr: map[uint16]error{}, writeErr: map[uint16]error{}}
}

func (f *fakeTransport) Read(ctx context.Context, r modbustype.Range) ([]uint16, error) {
	f.readCalls++
	if err, ok := f.readErr[r.First]; ok {
		return nil, err
	}
	if v, ok := f.values[r.First]; ok {
		return v, nil
	}
	return make([]uint16, r.Count), nil
}

func (f *fakeTransport) Write(ctx context.Context, r modbustype.Range, values []uint16) error {
	if err, ok := f.writeErr[r.First]; ok {
		return err
	}
	f.values[r.First] = values
	return nil
}

func poll(slave uint8, first uint16) *requestqueue.RegisterPoll {
	r, _ := modbustype.NewRange(slave, modbustype.Holding, first, 1)
	return requestqueue.NewRegisterPoll(r, time.Second, pollspec.OnChange)
}

func TestExecuteNextRunsDueCommandImmediately(t *testing.T) {
	ft := newFakeTransport()
	var events []Event
	ex := New(ft, func(e Event) { events = append(events, e) })

	p := poll(1, 0)
	ex.SetupInitialPoll(map[uint8][]*requestqueue.RegisterPoll{1: {p}})

	wait := ex.ExecuteNext(context.Background())
	if wait != 0 {
		t.Fatalf("expected immediate execution, got wait %v", wait)
	}
	if ft.readCalls != 1 {
		t.Fatalf("expected 1 read call, got %d", ft.readCalls)
	}
	if len(events) != 1 || events[0].Kind != EventRegisterValues {
		t.Fatalf("expected one RegisterValues event, got %+v", events)
	}
}

func TestExecuteNextReturnsMaxWaitWhenIdle(t *testing.T) {
	ft := newFakeTransport()
	ex := New(ft, nil)
	wait := ex.ExecuteNext(context.Background())
	if wait != MaxWait {
		t.Fatalf("expected MaxWait when idle, got %v", wait)
	}
}

func TestExecuteNextHonorsEveryTimeDelay(t *testing.T) {
	ft := newFakeTransport()
	ex := New(ft, nil)
	p := poll(1, 0)
	p.DelayBeforeCommand = requestqueue.CommandDelay{Kind: requestqueue.DelayEveryTime, Duration: 500 * time.Millisecond}
	ex.SetupInitialPoll(map[uint8][]*requestqueue.RegisterPoll{1: {p}})

	// First call runs it immediately (first-touch delay is zero by default).
	if wait := ex.ExecuteNext(context.Background()); wait != 0 {
		t.Fatalf("expected first execution immediate, got %v", wait)
	}

	// Queue it again; now delay-before-command should force a wait.
	p2 := poll(1, 2)
	p2.DelayBeforeCommand = requestqueue.CommandDelay{Kind: requestqueue.DelayEveryTime, Duration: 500 * time.Millisecond}
	ex.AddPolls(map[uint8][]*requestqueue.RegisterPoll{1: {p2}}, false)

	wait := ex.ExecuteNext(context.Background())
	if wait <= 0 {
		t.Fatalf("expected a positive wait for every-time delay, got %v", wait)
	}
}

func TestExecuteWriteEmitsFailureEventAfterRetriesExhausted(t *testing.T) {
	ft := newFakeTransport()
	r, _ := modbustype.NewRange(1, modbustype.Holding, 5, 1)
	ft.writeErr[5] = errAlways{}

	var events []Event
	ex := New(ft, func(e Event) { events = append(events, e) })

	w := requestqueue.NewRegisterWrite(r, []uint16{42}, 0)
	ex.AddWrite(w)

	ex.ExecuteNext(context.Background())

	found := false
	for _, e := range events {
		if e.Kind == EventRegisterWriteFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a RegisterWriteFailed event, got %+v", events)
	}
}

func TestAddWriteRejectsPastQueueCapacity(t *testing.T) {
	ft := newFakeTransport()
	r, _ := modbustype.NewRange(9, modbustype.Holding, 5, 1)

	var events []Event
	ex := New(ft, func(e Event) { events = append(events, e) })

	for i := 0; i < requestqueue.MaxWriteQueue; i++ {
		ex.AddWrite(requestqueue.NewRegisterWrite(r, []uint16{1}, 0))
	}
	if len(events) != 0 {
		t.Fatalf("expected no rejection events while under capacity, got %+v", events)
	}

	ex.AddWrite(requestqueue.NewRegisterWrite(r, []uint16{1}, 0))
	if len(events) != 1 || events[0].Kind != EventRegisterWriteFailed {
		t.Fatalf("expected one RegisterWriteFailed rejection event, got %+v", events)
	}
}

func TestAllDoneAndPollDone(t *testing.T) {
	ft := newFakeTransport()
	ex := New(ft, nil)
	if !ex.AllDone() {
		t.Fatal("expected AllDone on a fresh executor")
	}
	if !ex.PollDone() {
		t.Fatal("expected PollDone on a fresh executor")
	}
	p := poll(1, 0)
	ex.SetupInitialPoll(map[uint8][]*requestqueue.RegisterPoll{1: {p}})
	if ex.AllDone() {
		t.Fatal("expected not AllDone with a pending poll")
	}
	if ex.PollDone() {
		t.Fatal("expected not PollDone with a pending poll")
	}
	ex.ExecuteNext(context.Background())
	if !ex.AllDone() {
		t.Fatal("expected AllDone after the only poll ran")
	}
	if !ex.PollDone() {
		t.Fatal("expected PollDone after the only poll ran")
	}
}

type errAlways struct{}

func (errAlways) Error() string { return "write failed" }
