package amqp

import (
	"fmt"
	"strings"

	"github.com/Thejuampi/amqp-client-go/amqp/sasl"
)

// clientDelegate handles every frame read from the connection. It runs only
// on the dispatch goroutine, so handshake fields on the client written here
// need no lock beyond the ones readers take.
type clientDelegate struct {
	client *Client
}

func (delegate *clientDelegate) dispatch(frame Frame) error {
	switch method := frame.Method.(type) {
	case *ConnectionStart:
		return delegate.start(method)
	case *ConnectionSecure:
		return delegate.secure(method)
	case *ConnectionTune:
		return delegate.tune(method)
	case *ConnectionClose:
		return delegate.connectionClose(method)
	case *ConnectionOpenOk, *SessionAttached, *ChannelOpenOk, *ChannelCloseOk:
		return delegate.reply(frame.Channel, method)
	case *ChannelPing:
		return delegate.ping(frame.Channel)
	case *ChannelClose:
		return delegate.channelClose(frame.Channel, method)
	case *SessionClosed:
		return delegate.sessionClosed(frame.Channel, method)
	case *SessionAck:
		return nil
	case *MessageTransfer:
		return delegate.transfer(frame.Channel, method)
	case *BasicDeliver:
		return delegate.deliver(frame.Channel, method)
	case *MessageOpen:
		return delegate.withSession(frame.Channel, method, func(session *Session) error {
			return session.references.Open(method.Reference)
		})
	case *MessageAppend:
		return delegate.withSession(frame.Channel, method, func(session *Session) error {
			return session.references.Append(method.Reference, method.Bytes)
		})
	case *MessageClose:
		return delegate.withSession(frame.Channel, method, func(session *Session) error {
			_, err := session.references.Close(method.Reference)
			return err
		})
	case *MessageAcquired:
		return delegate.withSession(frame.Channel, method, func(session *Session) error {
			session.acquired.Put(method)
			return nil
		})
	case *ExecutionResult:
		return delegate.withSession(frame.Channel, method, func(session *Session) error {
			return session.Resolve(method.CommandID, method.Value)
		})
	case *ExecutionComplete:
		return delegate.withSession(frame.Channel, method, func(session *Session) error {
			session.completion.complete(method.CumulativeExecutionMark)
			return nil
		})
	default:
		name := "<nil>"
		if frame.Method != nil {
			name = frame.Method.MethodName()
		}
		return NewError(ProtocolError, fmt.Sprintf("unhandled method %s on channel %d", name, frame.Channel))
	}
}

// closed is the transport's end: the read loop stopped with reason.
func (delegate *clientDelegate) closed(reason error) {
	delegate.client.markClosed(reason)
}

func (delegate *clientDelegate) expectState(method Method, allowed ...HandshakeState) error {
	state := delegate.client.State()
	for _, candidate := range allowed {
		if state == candidate {
			return nil
		}
	}
	return NewError(ProtocolError, fmt.Sprintf("%s not expected in state %s", method.MethodName(), state))
}

// fail ends the handshake with an authentication failure. Start observes the
// reason through the closed client.
func (delegate *clientDelegate) fail(message string, cause error) error {
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	delegate.client.markClosed(&Error{Code: AuthenticationError, Message: message, cause: cause})
	return nil
}

func (delegate *clientDelegate) start(method *ConnectionStart) error {
	if err := delegate.expectState(method, StateIdle); err != nil {
		return err
	}
	client := delegate.client
	options := client.options

	client.stateLock.Lock()
	client.serverProperties = method.ServerProperties
	client.stateLock.Unlock()

	var (
		name     string
		response []byte
	)
	switch {
	case options.Response != nil:
		name = options.Mechanism
		if name == "" {
			name = sasl.AMQPlain
		}
		response = options.Response
	case options.Mechanism != "":
		mechanism, err := sasl.Lookup(options.Mechanism, options.Username, options.Password, options.SASL)
		if err != nil {
			return delegate.fail(fmt.Sprintf("sasl mechanism %s unavailable", options.Mechanism), err)
		}
		client.mechanism = mechanism
	default:
		mechanism := sasl.Select(method.Mechanisms, options.Username, options.Password, options.SASL)
		if mechanism == nil {
			return delegate.fail("sasl negotiation failed: no mechanism agreed. Server supports: "+strings.Join(method.Mechanisms, " "), nil)
		}
		client.mechanism = mechanism
	}

	if client.mechanism != nil {
		name = client.mechanism.Name()
		initial, err := client.mechanism.InitialResponse()
		if err != nil {
			return delegate.fail("sasl initial response", err)
		}
		response = initial
	}

	client.stateLock.Lock()
	client.mechanismName = name
	client.stateLock.Unlock()
	client.setState(StateMechOffered)

	return client.send(controlChannel, &ConnectionStartOk{
		ClientProperties: client.clientProperties,
		Mechanism:        name,
		Response:         response,
		Locale:           options.Locale,
	})
}

func (delegate *clientDelegate) secure(method *ConnectionSecure) error {
	if err := delegate.expectState(method, StateMechOffered, StateSecuring); err != nil {
		return err
	}
	client := delegate.client
	if client.mechanism == nil {
		return delegate.fail("sasl challenge received for a fixed response", sasl.ErrUnexpectedChallenge)
	}
	response, err := client.mechanism.Response(method.Challenge)
	if err != nil {
		return delegate.fail("sasl challenge", err)
	}
	client.setState(StateSecuring)
	return client.send(controlChannel, &ConnectionSecureOk{Response: response})
}

func (delegate *clientDelegate) tune(method *ConnectionTune) error {
	if err := delegate.expectState(method, StateMechOffered, StateSecuring); err != nil {
		return err
	}
	client := delegate.client
	params := client.options.Tune.negotiate(method)

	client.stateLock.Lock()
	client.tune = params
	client.stateLock.Unlock()

	err := client.send(controlChannel, &ConnectionTuneOk{
		ChannelMax: params.ChannelMax,
		FrameMax:   params.FrameMax,
		Heartbeat:  params.Heartbeat,
	})
	if err != nil {
		return err
	}
	client.setState(StateTuned)
	client.signalStarted()
	return nil
}

func (delegate *clientDelegate) connectionClose(method *ConnectionClose) error {
	client := delegate.client
	_ = client.send(controlChannel, &ConnectionCloseOk{})
	client.markClosed(closedError(method.ReplyCode, method.ReplyText))
	return nil
}

func (delegate *clientDelegate) session(channel uint16, method Method) (*Session, error) {
	session := delegate.client.Session(channel)
	if session == nil {
		return nil, NewError(ProtocolError, fmt.Sprintf("%s for unknown session %d", method.MethodName(), channel))
	}
	return session, nil
}

func (delegate *clientDelegate) withSession(channel uint16, method Method, handle func(*Session) error) error {
	session, err := delegate.session(channel, method)
	if err != nil {
		return err
	}
	return handle(session)
}

func (delegate *clientDelegate) reply(channel uint16, method Method) error {
	return delegate.withSession(channel, method, func(session *Session) error {
		session.replies.Put(method)
		return nil
	})
}

func (delegate *clientDelegate) ping(channel uint16) error {
	method := &ChannelPing{}
	if _, err := delegate.session(channel, method); err != nil {
		return err
	}
	return delegate.client.send(channel, &ChannelOk{})
}

func (delegate *clientDelegate) channelClose(channel uint16, method *ChannelClose) error {
	session, err := delegate.session(channel, method)
	if err != nil {
		return err
	}
	sendErr := delegate.client.send(channel, &ChannelCloseOk{})
	session.markClosed(closedError(method.ReplyCode, method.ReplyText))
	delegate.client.deregister(session)
	return sendErr
}

func (delegate *clientDelegate) sessionClosed(channel uint16, method *SessionClosed) error {
	session, err := delegate.session(channel, method)
	if err != nil {
		return err
	}
	reason := closedError(method.ReplyCode, method.ReplyText)
	if method.ReplyCode == 0 && method.ReplyText == "" {
		reason = NewError(ClosedError, fmt.Sprintf("session %d closed", channel))
	}
	session.markClosed(reason)
	delegate.client.deregister(session)
	return nil
}

func (delegate *clientDelegate) transfer(channel uint16, method *MessageTransfer) error {
	session, err := delegate.session(channel, method)
	if err != nil {
		return err
	}
	body := method.Body
	if method.Reference != "" {
		assembled, ok := session.references.Take(method.Reference)
		if !ok {
			return NewError(ProtocolError, fmt.Sprintf("transfer names reference %q which is not closed on session %d", method.Reference, channel))
		}
		body = assembled
	}
	delegate.client.queues.queue(method.Destination).put(&Message{
		Channel:     channel,
		Destination: method.Destination,
		Body:        body,
		Properties:  method.Properties,
		Method:      method,
	})
	delegate.client.metrics.Delivered("transfer")
	return nil
}

func (delegate *clientDelegate) deliver(channel uint16, method *BasicDeliver) error {
	if _, err := delegate.session(channel, method); err != nil {
		return err
	}
	delegate.client.queues.queue(method.ConsumerTag).put(&Message{
		Channel:     channel,
		ConsumerTag: method.ConsumerTag,
		DeliveryTag: method.DeliveryTag,
		Redelivered: method.Redelivered,
		Exchange:    method.Exchange,
		RoutingKey:  method.RoutingKey,
		Body:        method.Body,
		Properties:  method.Properties,
		Method:      method,
	})
	delegate.client.metrics.Delivered("deliver")
	return nil
}
