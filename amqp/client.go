package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Thejuampi/amqp-client-go/amqp/internal/observability"
	"github.com/Thejuampi/amqp-client-go/amqp/sasl"
)

// Defaults applied when the caller leaves them unset.
const (
	DefaultVirtualHost = "/"
	DefaultLocale      = "en_US"
	controlChannel     = 0
)

// StartOptions carries the credentials and negotiation preferences for Start.
type StartOptions struct {
	Username string
	Password string
	// Response, when set, is sent verbatim as the initial SASL response.
	Response []byte
	// Mechanism forces a SASL mechanism instead of negotiating one.
	Mechanism        string
	Locale           string
	Tune             *TuneParams
	ClientProperties Table
	SASL             sasl.Options
}

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithSchema sets the struct schema used by Structs.
func WithSchema(schema Schema) ClientOption {
	return func(client *Client) { client.schema = schema }
}

// WithVirtualHost sets the virtual host opened by Start. Empty keeps "/".
func WithVirtualHost(vhost string) ClientOption {
	return func(client *Client) {
		if vhost != "" {
			client.vhost = vhost
		}
	}
}

// WithDialer sets how Start reaches the broker.
func WithDialer(dialer Dialer) ClientOption {
	return func(client *Client) { client.dialer = dialer }
}

// WithLogger replaces the default zerolog logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(client *Client) { client.logger = logger }
}

// WithRegisterer registers the client's collectors on registerer.
func WithRegisterer(registerer prometheus.Registerer) ClientOption {
	return func(client *Client) { client.registerer = registerer }
}

// Client owns one connection and the sessions multiplexed over it.
type Client struct {
	host       string
	port       int
	vhost      string
	schema     Schema
	structs    *StructFactory
	dialer     Dialer
	logger     zerolog.Logger
	registerer prometheus.Registerer
	metrics    *observability.Metrics
	delegate   *clientDelegate

	errorHandler func(err error)

	lock        sync.Mutex
	startCalled bool
	connection  Connection
	readDone    chan struct{}
	closeConn   sync.Once

	// Written before the dispatch goroutine starts, read only by it afterwards.
	options          StartOptions
	clientProperties Table
	mechanism        sasl.Mechanism

	writeLock sync.Mutex

	stateLock        sync.Mutex
	state            HandshakeState
	listeners        []StateListener
	mechanismName    string
	serverProperties Table
	tune             TuneParams
	reason           error

	started     chan struct{}
	startedOnce sync.Once
	closed      atomic.Bool
	// set while the read goroutine runs the delegate and its callbacks
	dispatching atomic.Bool

	sessionLock sync.Mutex
	sessions    map[uint16]*Session
	ids         channelIDs

	queues *deliveryRegistry
}

// NewClient returns an idle client for host:port. Start performs the handshake.
func NewClient(host string, port int, options ...ClientOption) *Client {
	client := &Client{
		host:     host,
		port:     port,
		vhost:    DefaultVirtualHost,
		started:  make(chan struct{}),
		sessions: make(map[uint16]*Session),
		queues:   newDeliveryRegistry(),
		logger:   observability.NewLogger("amqp"),
	}
	for _, option := range options {
		option(client)
	}
	client.structs = NewStructFactory(client.schema)
	client.metrics = observability.NewMetrics(client.registerer)
	client.delegate = &clientDelegate{client: client}
	client.logger = client.logger.With().Str("address", client.Address()).Logger()
	return client
}

// Address is host:port.
func (client *Client) Address() string {
	return net.JoinHostPort(client.host, strconv.Itoa(client.port))
}

// Host is the broker host given to NewClient.
func (client *Client) Host() string { return client.host }

// Port is the broker port given to NewClient.
func (client *Client) Port() int { return client.port }

// VirtualHost is the virtual host opened by Start.
func (client *Client) VirtualHost() string { return client.vhost }

// Structs is the struct factory built from the client's schema.
func (client *Client) Structs() *StructFactory { return client.structs }

// ErrorHandler returns the handler for errors raised on the dispatch path.
func (client *Client) ErrorHandler() func(error) { return client.errorHandler }

// SetErrorHandler sets the handler for errors raised on the dispatch path.
// It must be set before Start.
func (client *Client) SetErrorHandler(errorHandler func(error)) *Client {
	client.errorHandler = errorHandler
	return client
}

// AddStateListener registers listener for handshake state transitions.
func (client *Client) AddStateListener(listener StateListener) *Client {
	if listener == nil {
		return client
	}
	client.stateLock.Lock()
	client.listeners = append(client.listeners, listener)
	client.stateLock.Unlock()
	return client
}

// State returns the current handshake state.
func (client *Client) State() HandshakeState {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	return client.state
}

// TuneParams returns the parameters sent in connection.tune-ok.
func (client *Client) TuneParams() TuneParams {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	return client.tune
}

// Mechanism returns the negotiated SASL mechanism name.
func (client *Client) Mechanism() string {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	return client.mechanismName
}

// ServerProperties returns the properties sent in connection.start.
func (client *Client) ServerProperties() Table {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	return client.serverProperties
}

// Closed reports whether the connection has closed, and why.
func (client *Client) Closed() (bool, error) {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	return client.closed.Load(), client.reason
}

func (client *Client) setState(next HandshakeState) {
	client.stateLock.Lock()
	if client.state == StateClosed || client.state == next {
		client.stateLock.Unlock()
		return
	}
	client.state = next
	listeners := append([]StateListener(nil), client.listeners...)
	client.stateLock.Unlock()

	client.logger.Debug().Str("state", next.String()).Msg("handshake state")
	for _, listener := range listeners {
		listener.StateChanged(next)
	}
}

// Start dials, runs the connection handshake, and opens the virtual host on
// the control channel. It may be called once.
func (client *Client) Start(ctx context.Context, options StartOptions) error {
	client.lock.Lock()
	if client.startCalled {
		client.lock.Unlock()
		return NewError(UsageError, "client already started")
	}
	client.startCalled = true
	client.lock.Unlock()

	if client.dialer == nil {
		return client.failStart(NewError(ConnectionError, "no dialer configured"))
	}
	if client.closed.Load() {
		return NewError(UsageError, "client already closed")
	}

	if options.Locale == "" {
		options.Locale = DefaultLocale
	}
	client.options = options
	client.clientProperties = clientPropertiesWithDefaults(options.ClientProperties, "version")

	connection, err := client.dialer(ctx, client.Address())
	if err != nil {
		return client.failStart(NewError(ConnectionError, err))
	}
	if err := connection.Init(); err != nil {
		_ = connection.Close()
		return client.failStart(NewError(ConnectionError, err))
	}

	client.lock.Lock()
	if closed, reason := client.Closed(); closed {
		client.lock.Unlock()
		_ = connection.Close()
		return reason
	}
	client.connection = connection
	client.readDone = make(chan struct{})
	client.lock.Unlock()
	go client.readRoutine(connection)

	if err := client.Wait(ctx); err != nil {
		if IsCode(err, TimedOutError) {
			_ = client.Close()
		}
		client.metrics.Handshake("failed")
		return err
	}

	control, err := client.register(controlChannel)
	if err != nil {
		client.metrics.Handshake("failed")
		return err
	}
	reply, err := control.call(ctx, &ConnectionOpen{VirtualHost: client.vhost})
	if err != nil {
		if IsCode(err, TimedOutError) {
			_ = client.Close()
		}
		client.metrics.Handshake("failed")
		return err
	}
	if _, ok := reply.(*ConnectionOpenOk); !ok {
		client.metrics.Handshake("failed")
		return NewError(ProtocolError, fmt.Sprintf("expected connection.open-ok, got %s", reply.MethodName()))
	}

	client.setState(StateOpen)
	client.metrics.Handshake("ok")
	client.logger.Info().Str("vhost", client.vhost).Str("mechanism", client.Mechanism()).Msg("connection open")
	return nil
}

// failStart closes a client whose connection never came up, so Wait and
// delivery readers see reason instead of blocking.
func (client *Client) failStart(reason error) error {
	client.metrics.Handshake("failed")
	client.markClosed(reason)
	return reason
}

// Wait blocks until the handshake is tuned or the connection has closed.
func (client *Client) Wait(ctx context.Context) error {
	select {
	case <-client.started:
	case <-ctx.Done():
		return NewError(TimedOutError, ctx.Err())
	}
	if closed, reason := client.Closed(); closed {
		return reason
	}
	return nil
}

func (client *Client) signalStarted() {
	client.startedOnce.Do(func() { close(client.started) })
}

func (client *Client) readRoutine(connection Connection) {
	defer close(client.readDone)
	defer client.dispatching.Store(false)

	for {
		frame, err := connection.ReadFrame()
		client.dispatching.Store(true)
		if err != nil {
			client.delegate.closed(&Error{Code: ClosedError, Message: fmt.Sprintf("connection aborted: %v", err), cause: err})
			return
		}
		if err := client.delegate.dispatch(frame); err != nil {
			client.onError(err)
		}
		client.dispatching.Store(false)
	}
}

func (client *Client) onError(err error) {
	if IsCode(err, ProtocolError) {
		client.metrics.ProtocolError()
	}
	client.logger.Error().Err(err).Msg("dispatch")
	if client.errorHandler != nil {
		client.errorHandler(err)
	}
}

func (client *Client) currentConnection() Connection {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.connection
}

func (client *Client) send(channel uint16, method Method) error {
	if closed, reason := client.Closed(); closed {
		return reason
	}
	connection := client.currentConnection()
	if connection == nil {
		return NewError(UsageError, "client not started")
	}

	client.writeLock.Lock()
	err := connection.WriteFrame(Frame{Channel: channel, Method: method})
	client.writeLock.Unlock()
	if err != nil {
		return NewError(ConnectionError, err)
	}
	return nil
}

// markClosed is the single terminal transition: it records reason, releases
// Start/Wait, fails every session and delivery queue, and drops the socket.
func (client *Client) markClosed(reason error) {
	client.stateLock.Lock()
	if client.closed.Load() {
		client.stateLock.Unlock()
		return
	}
	client.reason = reason
	client.closed.Store(true)
	client.stateLock.Unlock()

	client.setState(StateClosed)
	client.signalStarted()

	client.sessionLock.Lock()
	sessions := make([]*Session, 0, len(client.sessions))
	for id, session := range client.sessions {
		sessions = append(sessions, session)
		client.ids.clear(id)
		client.metrics.SessionClosed()
	}
	client.sessions = make(map[uint16]*Session)
	client.sessionLock.Unlock()

	for _, session := range sessions {
		session.markClosed(reason)
	}
	client.queues.closeAll(reason)
	client.closeConnection()

	client.logger.Info().Err(reason).Msg("connection closed")
}

func (client *Client) closeConnection() {
	connection := client.currentConnection()
	if connection == nil {
		return
	}
	client.closeConn.Do(func() {
		_ = connection.Close()
	})
}

// Close fails every waiter, closes the transport and waits for the dispatch
// goroutine to finish. Closing twice is a no-op. Called from a state listener
// or the error handler, which run on the dispatch goroutine, Close returns
// without waiting; the goroutine exits once the callback returns.
func (client *Client) Close() error {
	client.markClosed(NewError(ClosedError, "client closed"))

	client.lock.Lock()
	readDone := client.readDone
	client.lock.Unlock()
	if readDone != nil && !client.dispatching.Load() {
		<-readDone
	}
	return nil
}

func (client *Client) register(id uint16) (*Session, error) {
	if closed, reason := client.Closed(); closed {
		return nil, reason
	}

	client.sessionLock.Lock()
	defer client.sessionLock.Unlock()

	if _, exists := client.sessions[id]; exists {
		return nil, NewError(UsageError, fmt.Sprintf("channel %d already in use", id))
	}
	return client.registerLocked(id), nil
}

func (client *Client) registerLocked(id uint16) *Session {
	session := newSession(client, id)
	client.sessions[id] = session
	client.ids.set(id)
	client.metrics.SessionOpened()
	return session
}

// allocate registers a session on the lowest free id in [1, 65535).
func (client *Client) allocate() (*Session, error) {
	if closed, reason := client.Closed(); closed {
		return nil, reason
	}

	client.sessionLock.Lock()
	defer client.sessionLock.Unlock()

	id, ok := client.ids.lowestFree()
	if !ok {
		return nil, NewError(ChannelsExhaustedError, "out of channels")
	}
	return client.registerLocked(id), nil
}

// deregister removes session from the table if it still owns its id.
func (client *Client) deregister(session *Session) bool {
	client.sessionLock.Lock()
	defer client.sessionLock.Unlock()

	if current, exists := client.sessions[session.id]; !exists || current != session {
		return false
	}
	delete(client.sessions, session.id)
	client.ids.clear(session.id)
	client.metrics.SessionClosed()
	return true
}

// Session returns the registered session for id, or nil.
func (client *Client) Session(id uint16) *Session {
	client.sessionLock.Lock()
	defer client.sessionLock.Unlock()
	return client.sessions[id]
}

// SessionCount reports registered sessions, the control channel included.
func (client *Client) SessionCount() int {
	client.sessionLock.Lock()
	defer client.sessionLock.Unlock()
	return len(client.sessions)
}

// OpenSession opens a session on the lowest free channel id.
func (client *Client) OpenSession(ctx context.Context) (*Session, error) {
	session, err := client.allocate()
	if err != nil {
		return nil, err
	}
	return client.openRegistered(ctx, session)
}

// OpenSessionID opens a session on an explicit channel id.
func (client *Client) OpenSessionID(ctx context.Context, id uint16) (*Session, error) {
	if id == controlChannel {
		return nil, NewError(UsageError, "channel 0 is reserved for connection control")
	}
	session, err := client.register(id)
	if err != nil {
		return nil, err
	}
	return client.openRegistered(ctx, session)
}

func (client *Client) openRegistered(ctx context.Context, session *Session) (*Session, error) {
	if err := session.Open(ctx); err != nil {
		session.markClosed(err)
		client.deregister(session)
		return nil, err
	}
	client.logger.Debug().Uint16("channel", session.id).Str("session", session.name).Msg("session opened")
	return session, nil
}

// CloseSession closes session and frees its id.
func (client *Client) CloseSession(ctx context.Context, session *Session) error {
	if session == nil || session.client != client {
		return NewError(UsageError, "session does not belong to this client")
	}
	err := session.Close(ctx)
	client.logger.Debug().Uint16("channel", session.id).Msg("session closed")
	return err
}

// DeliveryQueue returns the queue for key, creating it on first use.
func (client *Client) DeliveryQueue(key string) *DeliveryQueue {
	return client.queues.queue(key)
}

// DeliveryKeys lists the keys of every queue created so far.
func (client *Client) DeliveryKeys() []string {
	return client.queues.keys()
}

func (client *Client) String() string {
	closed, reason := client.Closed()
	if closed && reason != nil {
		var typed *Error
		if errors.As(reason, &typed) {
			return fmt.Sprintf("client[%s vhost=%s state=%s reason=%s]", client.Address(), client.vhost, client.State(), typed.Message)
		}
	}
	return fmt.Sprintf("client[%s vhost=%s state=%s]", client.Address(), client.vhost, client.State())
}
