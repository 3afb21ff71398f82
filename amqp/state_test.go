package amqp

import (
	"context"
	"testing"
	"time"
)

func TestHandshakeStateNames(t *testing.T) {
	names := map[HandshakeState]string{
		StateIdle:          "IDLE",
		StateMechOffered:   "MECH_OFFERED",
		StateSecuring:      "SECURING",
		StateTuned:         "TUNED",
		StateOpen:          "OPEN",
		StateClosed:        "CLOSED",
		HandshakeState(99): "UNKNOWN",
	}
	for state, want := range names {
		if state.String() != want {
			t.Fatalf("expected %s, got %s", want, state.String())
		}
	}
}

func TestTuneNegotiation(t *testing.T) {
	proposed := &ConnectionTune{ChannelMax: 2047, FrameMax: 65535, Heartbeat: 60}

	var unset *TuneParams
	if got := unset.negotiate(proposed); got != (TuneParams{2047, 65535, 60}) {
		t.Fatalf("nil params should echo the proposal, got %+v", got)
	}
	explicit := &TuneParams{ChannelMax: 16, FrameMax: 4096}
	if got := explicit.negotiate(proposed); got != (TuneParams{16, 4096, 0}) {
		t.Fatalf("explicit params should be sent verbatim, got %+v", got)
	}
}

func TestStateListenerFunc(t *testing.T) {
	seen := make(chan HandshakeState, 1)
	var listener StateListener = StateListenerFunc(func(state HandshakeState) { seen <- state })
	listener.StateChanged(StateTuned)
	if <-seen != StateTuned {
		t.Fatalf("listener func not invoked")
	}
}

func TestChannelIDBitmap(t *testing.T) {
	var ids channelIDs
	if id, ok := ids.lowestFree(); !ok || id != 1 {
		t.Fatalf("expected 1 on an empty bitmap, got %d %v", id, ok)
	}
	ids.set(0)
	ids.set(1)
	ids.set(2)
	ids.set(64)
	if id, _ := ids.lowestFree(); id != 3 {
		t.Fatalf("expected 3, got %d", id)
	}
	ids.clear(1)
	if id, _ := ids.lowestFree(); id != 1 {
		t.Fatalf("expected cleared id 1, got %d", id)
	}
	for id := 1; id < maxChannelID; id++ {
		ids.set(uint16(id))
	}
	if id, ok := ids.lowestFree(); ok {
		t.Fatalf("65535 must never be allocated, got %d", id)
	}
}

func TestCompletionTracker(t *testing.T) {
	tracker := newCompletion()
	if tracker.completed(0) {
		t.Fatalf("nothing is complete before the first mark")
	}
	tracker.complete(5)
	tracker.complete(3)
	if !tracker.completed(5) || tracker.completed(6) {
		t.Fatalf("mark must not move backwards")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tracker.wait(ctx, 9); !IsCode(err, TimedOutError) {
		t.Fatalf("expected TimedOutError, got %v", err)
	}

	tracker.close(NewError(ClosedError, "gone"))
	if err := tracker.wait(context.Background(), 9); !IsCode(err, ClosedError) {
		t.Fatalf("expected ClosedError after close, got %v", err)
	}
	if err := tracker.wait(context.Background(), 2); err != nil {
		t.Fatalf("already completed ids succeed after close, got %v", err)
	}
}

func TestFutureResolvesOnce(t *testing.T) {
	future := newFuture(4)
	if !future.complete(nil, nil) {
		t.Fatalf("first completion rejected")
	}
	if future.complete(nil, NewError(ClosedError)) {
		t.Fatalf("second completion accepted")
	}
	if _, err := future.Get(context.Background()); err != nil {
		t.Fatalf("expected first outcome kept, got %v", err)
	}
	select {
	case <-future.Done():
	default:
		t.Fatalf("done not closed")
	}
}

func TestClientPropertiesDefaults(t *testing.T) {
	properties := clientPropertiesWithDefaults(Table{"product": "custom", "extra": 1}, "version")
	if properties["product"] != "custom" || properties["extra"] != 1 {
		t.Fatalf("provided properties must win: %v", properties)
	}
	if properties["version"] != ClientVersion || properties["qpid.client_pid"] == nil || properties["platform"] == "" {
		t.Fatalf("defaults missing: %v", properties)
	}
}
