package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestOpenSessionAllocatesDistinctIDs(t *testing.T) {
	harness := startedHarness(t)

	seen := make(map[uint16]bool)
	for i := 0; i < 8; i++ {
		session := harness.openSession(t)
		if session.ID() == 0 || session.ID() >= maxChannelID {
			t.Fatalf("id %d outside [1, 65535)", session.ID())
		}
		if seen[session.ID()] {
			t.Fatalf("id %d handed out twice", session.ID())
		}
		seen[session.ID()] = true
		if want := uint16(i + 1); session.ID() != want {
			t.Fatalf("expected lowest free id %d, got %d", want, session.ID())
		}
	}
	if harness.client.SessionCount() != 9 {
		t.Fatalf("expected 8 sessions plus control, got %d", harness.client.SessionCount())
	}
	if got := promtest.ToFloat64(harness.client.metrics.SessionsOpen()); got != 9 {
		t.Fatalf("expected gauge at 9, got %v", got)
	}
}

func TestClosedSessionIDIsReused(t *testing.T) {
	harness := startedHarness(t)
	first := harness.openSession(t)
	second := harness.openSession(t)

	harness.closeSession(t, first)
	if harness.client.Session(first.ID()) != nil {
		t.Fatalf("closed session still registered")
	}
	select {
	case <-first.Done():
	default:
		t.Fatalf("closed session not marked done")
	}

	reused := harness.openSession(t)
	if reused.ID() != first.ID() {
		t.Fatalf("expected id %d reused, got %d", first.ID(), reused.ID())
	}
	if reused == first || reused.Name() == first.Name() {
		t.Fatalf("reused id must carry a fresh session")
	}
	if harness.client.Session(second.ID()) != second {
		t.Fatalf("unrelated session disturbed")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)
	harness.closeSession(t, session)

	replacement := harness.openSession(t)
	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if harness.client.Session(replacement.ID()) != replacement {
		t.Fatalf("second close deregistered the session now holding id %d", replacement.ID())
	}
	if !IsCode(session.Err(), ClosedError) {
		t.Fatalf("expected ClosedError reason, got %v", session.Err())
	}
}

func TestCloseSessionAfterConnectionFailure(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)
	_ = harness.server.end.Close()

	select {
	case <-session.Done():
	case <-time.After(testTimeout):
		t.Fatalf("session not closed by connection failure")
	}
	if err := harness.client.CloseSession(context.Background(), session); err != nil {
		t.Fatalf("close after failure: %v", err)
	}
	if _, err := harness.client.OpenSession(context.Background()); !IsCode(err, ClosedError) {
		t.Fatalf("expected ClosedError opening on a dead client, got %v", err)
	}
}

func TestOpenSessionExhaustsIDs(t *testing.T) {
	client := NewClient("localhost", 5672, WithLogger(zerolog.Nop()))
	defer client.Close()

	for i := 1; i < maxChannelID; i++ {
		session, err := client.allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if int(session.ID()) != i {
			t.Fatalf("expected id %d, got %d", i, session.ID())
		}
	}
	count := client.SessionCount()

	_, err := client.OpenSession(context.Background())
	if !IsCode(err, ChannelsExhaustedError) {
		t.Fatalf("expected ChannelsExhaustedError, got %v", err)
	}
	if client.SessionCount() != count {
		t.Fatalf("exhausted open registered state: %d -> %d", count, client.SessionCount())
	}

	client.deregister(client.Session(100))
	session, err := client.allocate()
	if err != nil || session.ID() != 100 {
		t.Fatalf("expected freed id 100, got %v %v", session, err)
	}
}

func TestOpenSessionIDValidation(t *testing.T) {
	harness := startedHarness(t)
	if _, err := harness.client.OpenSessionID(context.Background(), 0); !IsCode(err, UsageError) {
		t.Fatalf("expected UsageError for channel 0, got %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := harness.client.OpenSessionID(context.Background(), 42)
		result <- err
	}()
	channel, open := expect[*SessionOpen](harness.server)
	if channel != 42 {
		t.Fatalf("expected session.open on 42, got %d", channel)
	}
	harness.server.send(channel, &SessionAttached{Name: open.Name})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("open 42: %v", err)
	}

	if _, err := harness.client.OpenSessionID(context.Background(), 42); !IsCode(err, UsageError) {
		t.Fatalf("expected UsageError for a registered id, got %v", err)
	}
}

func TestOpenSessionFailureDeregisters(t *testing.T) {
	harness := startedHarness(t)
	result := make(chan error, 1)
	go func() {
		_, err := harness.client.OpenSession(context.Background())
		result <- err
	}()

	channel, _ := expect[*SessionOpen](harness.server)
	harness.server.send(channel, &ChannelOpenOk{})
	if err := waitResult(t, result); !IsCode(err, ProtocolError) {
		t.Fatalf("expected ProtocolError for a wrong reply, got %v", err)
	}
	if harness.client.Session(channel) != nil {
		t.Fatalf("failed open left channel %d registered", channel)
	}
}

func TestOpenSessionTimeout(t *testing.T) {
	harness := startedHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := harness.client.OpenSession(ctx)
	if !IsCode(err, TimedOutError) {
		t.Fatalf("expected TimedOutError, got %v", err)
	}
	if harness.client.SessionCount() != 1 {
		t.Fatalf("timed out open left %d sessions", harness.client.SessionCount())
	}
}

func TestCloseSessionRejectsForeignSession(t *testing.T) {
	harness := startedHarness(t)
	other := NewClient("localhost", 5672, WithLogger(zerolog.Nop()))
	defer other.Close()

	foreign := newSession(other, 3)
	if err := harness.client.CloseSession(context.Background(), foreign); !IsCode(err, UsageError) {
		t.Fatalf("expected UsageError, got %v", err)
	}
	if err := harness.client.CloseSession(context.Background(), nil); !IsCode(err, UsageError) {
		t.Fatalf("expected UsageError for nil, got %v", err)
	}
}

func TestExecuteResolvesFuture(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)

	arguments, err := harness.client.Structs().New("xid", uint32(1), []byte("gtid"), []byte("bq"))
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	future, err := session.Execute(context.Background(), "dtx.recover", arguments)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	channel, command := expect[*ExecutionCommand](harness.server)
	if channel != session.ID() || command.CommandID != future.CommandID() || command.Name != "dtx.recover" {
		t.Fatalf("unexpected command %+v on channel %d", command, channel)
	}
	if session.PendingFutures() != 1 {
		t.Fatalf("expected one pending future, got %d", session.PendingFutures())
	}

	value, _ := harness.client.Structs().New("xa-result", uint16(0))
	harness.server.send(channel, &ExecutionResult{CommandID: command.CommandID, Value: value})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	got, err := future.Get(ctx)
	if err != nil || got != value {
		t.Fatalf("expected result value, got %v %v", got, err)
	}
	if session.PendingFutures() != 0 {
		t.Fatalf("resolved future still pending")
	}

	next, err := session.Execute(context.Background(), "dtx.recover", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if next.CommandID() != future.CommandID()+1 {
		t.Fatalf("expected monotonic command ids, got %d after %d", next.CommandID(), future.CommandID())
	}
	expect[*ExecutionCommand](harness.server)
}

func TestUnknownResultIsReportedAndDispatchContinues(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)

	harness.server.send(session.ID(), &ExecutionResult{CommandID: 99})
	if err := harness.errors.next(t); !IsCode(err, ProtocolError) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := session.Call(context.Background(), "queue.query", nil)
		result <- err
	}()
	channel, command := expect[*ExecutionCommand](harness.server)
	value, _ := harness.client.Structs().New("queue-query-result", "orders")
	harness.server.send(channel, &ExecutionResult{CommandID: command.CommandID, Value: value})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("call after protocol error: %v", err)
	}
}

func TestRegisterFutureRejectsDuplicates(t *testing.T) {
	client := NewClient("localhost", 5672, WithLogger(zerolog.Nop()))
	defer client.Close()
	session := newSession(client, 1)

	if _, err := session.RegisterFuture(7); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := session.RegisterFuture(7); !IsCode(err, UsageError) {
		t.Fatalf("expected UsageError for duplicate, got %v", err)
	}
	if err := session.Resolve(8, nil); !IsCode(err, ProtocolError) {
		t.Fatalf("expected ProtocolError for unknown command, got %v", err)
	}

	session.markClosed(NewError(ClosedError, "gone"))
	if _, err := session.RegisterFuture(9); !IsCode(err, ClosedError) {
		t.Fatalf("expected ClosedError after close, got %v", err)
	}
}

func TestChannelCloseFailsPendingFutures(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)
	future, err := session.RegisterFuture(5)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	harness.server.send(session.ID(), &ChannelClose{ReplyCode: 404, ReplyText: "NOT_FOUND"})
	expect[*ChannelCloseOk](harness.server)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = future.Get(ctx)
	var typed *Error
	if !errors.As(err, &typed) || typed.Code != ClosedError || typed.ReplyCode != 404 {
		t.Fatalf("expected ClosedError 404, got %v", err)
	}
	if harness.client.Session(session.ID()) != nil {
		t.Fatalf("peer-closed session still registered")
	}
	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("close of peer-closed session: %v", err)
	}
}

func TestExecutionCompleteAdvancesMark(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)

	result := make(chan error, 1)
	go func() { result <- session.WaitCompleted(context.Background(), 3) }()

	harness.server.send(session.ID(), &ExecutionComplete{CumulativeExecutionMark: 1})
	harness.server.send(session.ID(), &ExecutionComplete{CumulativeExecutionMark: 4})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("wait completed: %v", err)
	}
	if !session.Completed(4) || session.Completed(5) {
		t.Fatalf("unexpected completion mark")
	}
}

func TestMessageAcquiredGoesToControlQueue(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)

	harness.server.send(session.ID(), &MessageAcquired{Transfers: []uint64{1, 2}})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	acquired, err := session.Acquired(ctx)
	if err != nil || len(acquired.Transfers) != 2 {
		t.Fatalf("expected acquired transfers, got %v %v", acquired, err)
	}
	if len(harness.client.DeliveryKeys()) != 0 {
		t.Fatalf("acquired notification leaked into delivery queues")
	}
}

func TestChannelPing(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)

	harness.server.send(session.ID(), &ChannelPing{})
	if channel, _ := expect[*ChannelOk](harness.server); channel != session.ID() {
		t.Fatalf("ping answered on channel %d", channel)
	}

	harness.server.send(900, &ChannelPing{})
	if err := harness.errors.next(t); !IsCode(err, ProtocolError) {
		t.Fatalf("expected ProtocolError for unknown session, got %v", err)
	}
}

func TestSessionAckIgnored(t *testing.T) {
	harness := startedHarness(t)
	session := harness.openSession(t)

	harness.server.send(session.ID(), &SessionAck{})
	harness.server.send(session.ID(), &ChannelPing{})
	expect[*ChannelOk](harness.server)

	select {
	case err := <-harness.errors.signal:
		t.Fatalf("session.ack reported %v", err)
	default:
	}
}
