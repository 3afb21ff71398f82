package amqp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/Thejuampi/amqp-client-go/amqp/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTimeout = 2 * time.Second

// pipeConnection is the client end of an in-memory frame pipe.
type pipeConnection struct {
	end     *testutil.PipeEnd[Frame]
	initErr error
}

func (connection *pipeConnection) Init() error { return connection.initErr }

func (connection *pipeConnection) ReadFrame() (Frame, error) {
	return connection.end.Receive(context.Background())
}

func (connection *pipeConnection) WriteFrame(frame Frame) error {
	return connection.end.Send(frame)
}

func (connection *pipeConnection) Close() error { return connection.end.Close() }

// fakeServer is the scripted broker side. Its methods must be called from
// the test goroutine.
type fakeServer struct {
	t   *testing.T
	end *testutil.PipeEnd[Frame]
}

func (server *fakeServer) send(channel uint16, method Method) {
	server.t.Helper()
	if err := server.end.Send(Frame{Channel: channel, Method: method}); err != nil {
		server.t.Fatalf("server send %s: %v", method.MethodName(), err)
	}
}

func (server *fakeServer) receive() Frame {
	server.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	frame, err := server.end.Receive(ctx)
	if err != nil {
		server.t.Fatalf("server receive: %v", err)
	}
	return frame
}

// closedByClient waits for the client to drop the connection.
func (server *fakeServer) closedByClient() {
	server.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	for {
		frame, err := server.end.Receive(ctx)
		if err == nil {
			continue
		}
		if err == testutil.ErrPipeClosed {
			return
		}
		server.t.Fatalf("expected the client to close the connection, got %v (last %v)", err, frame.Method)
	}
}

func expect[M Method](server *fakeServer) (uint16, M) {
	server.t.Helper()
	frame := server.receive()
	method, ok := frame.Method.(M)
	if !ok {
		var want M
		server.t.Fatalf("expected %T, got %T on channel %d", want, frame.Method, frame.Channel)
	}
	return frame.Channel, method
}

// handshake plays the broker side of a PLAIN start, tune and open.
func (server *fakeServer) handshake() {
	server.t.Helper()
	server.send(controlChannel, &ConnectionStart{
		VersionMajor:     0,
		VersionMinor:     10,
		ServerProperties: Table{"product": "fake"},
		Mechanisms:       []string{"PLAIN", "AMQPLAIN"},
		Locales:          []string{DefaultLocale},
	})
	expect[*ConnectionStartOk](server)
	server.send(controlChannel, &ConnectionTune{ChannelMax: 2047, FrameMax: 65535, Heartbeat: 60})
	expect[*ConnectionTuneOk](server)
	if channel, open := expect[*ConnectionOpen](server); channel != controlChannel || open.VirtualHost == "" {
		server.t.Fatalf("unexpected connection.open %+v on channel %d", open, channel)
	}
	server.send(controlChannel, &ConnectionOpenOk{})
}

type errorRecorder struct {
	lock   sync.Mutex
	errors []error
	signal chan error
}

func newErrorRecorder() *errorRecorder {
	return &errorRecorder{signal: make(chan error, 64)}
}

func (recorder *errorRecorder) handle(err error) {
	recorder.lock.Lock()
	recorder.errors = append(recorder.errors, err)
	recorder.lock.Unlock()
	recorder.signal <- err
}

func (recorder *errorRecorder) next(t *testing.T) error {
	t.Helper()
	select {
	case err := <-recorder.signal:
		return err
	case <-time.After(testTimeout):
		t.Fatalf("no error reported")
		return nil
	}
}

type stateRecorder struct {
	lock   sync.Mutex
	states []HandshakeState
}

func (recorder *stateRecorder) StateChanged(state HandshakeState) {
	recorder.lock.Lock()
	recorder.states = append(recorder.states, state)
	recorder.lock.Unlock()
}

func (recorder *stateRecorder) snapshot() []HandshakeState {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]HandshakeState(nil), recorder.states...)
}

type testHarness struct {
	client   *Client
	server   *fakeServer
	errors   *errorRecorder
	states   *stateRecorder
	registry *prometheus.Registry
}

func newHarness(t *testing.T, options ...ClientOption) *testHarness {
	t.Helper()
	clientEnd, serverEnd := testutil.NewPipe[Frame]()
	registry := prometheus.NewRegistry()
	dialer := func(ctx context.Context, address string) (Connection, error) {
		return &pipeConnection{end: clientEnd}, nil
	}
	options = append([]ClientOption{
		WithDialer(dialer),
		WithLogger(zerolog.Nop()),
		WithRegisterer(registry),
	}, options...)

	harness := &testHarness{
		client:   NewClient("localhost", 5672, options...),
		server:   &fakeServer{t: t, end: serverEnd},
		errors:   newErrorRecorder(),
		states:   &stateRecorder{},
		registry: registry,
	}
	harness.client.SetErrorHandler(harness.errors.handle).AddStateListener(harness.states)
	t.Cleanup(func() {
		_ = harness.client.Close()
		_ = serverEnd.Close()
	})
	return harness
}

// startAsync runs Start on its own goroutine; the returned channel yields
// its result.
func (harness *testHarness) startAsync(ctx context.Context, options StartOptions) <-chan error {
	result := make(chan error, 1)
	go func() { result <- harness.client.Start(ctx, options) }()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(testTimeout):
		t.Fatalf("operation did not return")
		return nil
	}
}

func startedHarness(t *testing.T, options ...ClientOption) *testHarness {
	t.Helper()
	harness := newHarness(t, options...)
	result := harness.startAsync(context.Background(), StartOptions{Username: "guest", Password: "guest"})
	harness.server.handshake()
	if err := waitResult(t, result); err != nil {
		t.Fatalf("start: %v", err)
	}
	return harness
}

// openSession opens a session, answering session.open as the broker.
func (harness *testHarness) openSession(t *testing.T) *Session {
	t.Helper()
	type opened struct {
		session *Session
		err     error
	}
	result := make(chan opened, 1)
	go func() {
		session, err := harness.client.OpenSession(context.Background())
		result <- opened{session, err}
	}()

	channel, open := expect[*SessionOpen](harness.server)
	if open.Name == "" {
		t.Fatalf("session.open carried no name")
	}
	harness.server.send(channel, &SessionAttached{Name: open.Name})

	select {
	case outcome := <-result:
		if outcome.err != nil {
			t.Fatalf("open session: %v", outcome.err)
		}
		if outcome.session.ID() != channel {
			t.Fatalf("session id %d does not match channel %d", outcome.session.ID(), channel)
		}
		return outcome.session
	case <-time.After(testTimeout):
		t.Fatalf("open session did not return")
		return nil
	}
}

// closeSession closes session, answering session.close as the broker.
func (harness *testHarness) closeSession(t *testing.T, session *Session) {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- harness.client.CloseSession(context.Background(), session) }()

	channel, _ := expect[*SessionClose](harness.server)
	if channel != session.ID() {
		t.Fatalf("session.close on channel %d, expected %d", channel, session.ID())
	}
	harness.server.send(channel, &SessionClosed{})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("close session: %v", err)
	}
}
