package amqp

// HandshakeState is the connection start-up state driven by the delegate.
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateMechOffered
	StateSecuring
	StateTuned
	StateOpen
	StateClosed
)

func (state HandshakeState) String() string {
	switch state {
	case StateIdle:
		return "IDLE"
	case StateMechOffered:
		return "MECH_OFFERED"
	case StateSecuring:
		return "SECURING"
	case StateTuned:
		return "TUNED"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StateListener receives handshake state transitions.
type StateListener interface {
	StateChanged(HandshakeState)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(HandshakeState)

func (f StateListenerFunc) StateChanged(state HandshakeState) { f(state) }

// TuneParams are the connection tuning fields. Supplied params are sent in
// connection.tune-ok exactly as given, zero fields included: a zero
// heartbeat disables heartbeats and a zero channel or frame max means no
// limit.
type TuneParams struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// negotiate returns the tune-ok fields: params verbatim when set, otherwise
// the server's proposal.
func (params *TuneParams) negotiate(proposed *ConnectionTune) TuneParams {
	if params != nil {
		return *params
	}
	return TuneParams{
		ChannelMax: proposed.ChannelMax,
		FrameMax:   proposed.FrameMax,
		Heartbeat:  proposed.Heartbeat,
	}
}
