// Package websocket carries client frames over a WebSocket connection, one
// binary message per frame. Encoding is delegated to a Codec.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gorilla "github.com/gorilla/websocket"

	"github.com/Thejuampi/amqp-client-go/amqp"
)

// Subprotocol is offered during the WebSocket handshake.
const Subprotocol = "amqp"

var ErrNotBinary = errors.New("websocket: expected a binary message")

// Codec turns frames into message payloads and back.
type Codec interface {
	Encode(frame amqp.Frame) ([]byte, error)
	Decode(payload []byte) (amqp.Frame, error)
}

// Connection implements amqp.Connection over a WebSocket.
type Connection struct {
	conn   *gorilla.Conn
	codec  Codec
	header []byte

	writeLock sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Connection.
type Option func(*Connection)

// WithProtocolHeader sends header as the first message during Init.
func WithProtocolHeader(header []byte) Option {
	return func(connection *Connection) {
		connection.header = append([]byte(nil), header...)
	}
}

// NewConnection wraps an established WebSocket.
func NewConnection(conn *gorilla.Conn, codec Codec, options ...Option) *Connection {
	connection := &Connection{conn: conn, codec: codec}
	for _, option := range options {
		option(connection)
	}
	return connection
}

// Dial opens a WebSocket to url.
func Dial(ctx context.Context, url string, codec Codec, options ...Option) (*Connection, error) {
	dialer := gorilla.Dialer{
		Proxy:            gorilla.DefaultDialer.Proxy,
		HandshakeTimeout: gorilla.DefaultDialer.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	conn, response, err := dialer.DialContext(ctx, url, nil)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewConnection(conn, codec, options...), nil
}

// Dialer returns an amqp.Dialer that connects to ws://address/path.
func Dialer(codec Codec, path string, options ...Option) amqp.Dialer {
	return func(ctx context.Context, address string) (amqp.Connection, error) {
		return Dial(ctx, "ws://"+address+path, codec, options...)
	}
}

// Init sends the protocol header, if one was configured.
func (connection *Connection) Init() error {
	if len(connection.header) == 0 {
		return nil
	}
	connection.writeLock.Lock()
	defer connection.writeLock.Unlock()
	return connection.conn.WriteMessage(gorilla.BinaryMessage, connection.header)
}

// ReadFrame blocks for the next binary message and decodes it.
func (connection *Connection) ReadFrame() (amqp.Frame, error) {
	for {
		messageType, payload, err := connection.conn.ReadMessage()
		if err != nil {
			return amqp.Frame{}, err
		}
		switch messageType {
		case gorilla.BinaryMessage:
			return connection.codec.Decode(payload)
		case gorilla.TextMessage:
			return amqp.Frame{}, ErrNotBinary
		}
	}
}

// WriteFrame encodes frame and sends it as one binary message.
func (connection *Connection) WriteFrame(frame amqp.Frame) error {
	payload, err := connection.codec.Encode(frame)
	if err != nil {
		return err
	}
	connection.writeLock.Lock()
	defer connection.writeLock.Unlock()
	return connection.conn.WriteMessage(gorilla.BinaryMessage, payload)
}

// Close sends a close message and closes the socket, which unblocks a
// pending ReadFrame.
func (connection *Connection) Close() error {
	connection.closeOnce.Do(func() {
		connection.writeLock.Lock()
		_ = connection.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		connection.writeLock.Unlock()
		connection.closeErr = connection.conn.Close()
	})
	return connection.closeErr
}

// Subprotocol returns the negotiated subprotocol.
func (connection *Connection) Subprotocol() string {
	return connection.conn.Subprotocol()
}
