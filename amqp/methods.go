package amqp

// Table is an AMQP field table.
type Table map[string]interface{}

// Frame is one decoded protocol method addressed to a channel. Producing and
// consuming frames on the wire is the job of a Connection implementation.
type Frame struct {
	Channel uint16
	Method  Method
}

// Method is the closed set of protocol methods exchanged by this client. Only
// types declared in this package implement it.
type Method interface {
	MethodName() string
	sealed()
}

// Connection class.

type ConnectionStart struct {
	VersionMajor     uint8
	VersionMinor     uint8
	ServerProperties Table
	Mechanisms       []string
	Locales          []string
}

type ConnectionStartOk struct {
	ClientProperties Table
	Mechanism        string
	Response         []byte
	Locale           string
}

type ConnectionSecure struct {
	Challenge []byte
}

type ConnectionSecureOk struct {
	Response []byte
}

type ConnectionTune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

type ConnectionTuneOk struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

type ConnectionOpen struct {
	VirtualHost  string
	Capabilities string
	Insist       bool
}

type ConnectionOpenOk struct {
	KnownHosts string
}

type ConnectionClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

type ConnectionCloseOk struct{}

// Channel class.

type ChannelPing struct{}

type ChannelOk struct{}

type ChannelOpenOk struct{}

type ChannelClose struct {
	ReplyCode uint16
	ReplyText string
}

type ChannelCloseOk struct{}

// Session class.

type SessionOpen struct {
	Name             string
	DetachedLifetime uint32
}

type SessionAttached struct {
	Name string
}

type SessionClose struct{}

type SessionClosed struct {
	ReplyCode uint16
	ReplyText string
}

type SessionAck struct{}

// Message class. A transfer either carries its body inline or names a
// Reference whose fragments were delivered with MessageOpen/Append/Close.

type MessageTransfer struct {
	Destination string
	Reference   string
	Body        []byte
	Properties  *Struct
}

type MessageOpen struct {
	Reference string
}

type MessageAppend struct {
	Reference string
	Bytes     []byte
}

type MessageClose struct {
	Reference string
}

type MessageAcquired struct {
	Transfers []uint64
}

// Basic class.

type BasicDeliver struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	Body        []byte
	Properties  *Struct
}

// Execution class.

type ExecutionCommand struct {
	CommandID uint32
	Name      string
	Arguments *Struct
}

type ExecutionResult struct {
	CommandID uint32
	Value     *Struct
}

type ExecutionComplete struct {
	CumulativeExecutionMark uint32
}

func (*ConnectionStart) MethodName() string    { return "connection.start" }
func (*ConnectionStartOk) MethodName() string  { return "connection.start-ok" }
func (*ConnectionSecure) MethodName() string   { return "connection.secure" }
func (*ConnectionSecureOk) MethodName() string { return "connection.secure-ok" }
func (*ConnectionTune) MethodName() string     { return "connection.tune" }
func (*ConnectionTuneOk) MethodName() string   { return "connection.tune-ok" }
func (*ConnectionOpen) MethodName() string     { return "connection.open" }
func (*ConnectionOpenOk) MethodName() string   { return "connection.open-ok" }
func (*ConnectionClose) MethodName() string    { return "connection.close" }
func (*ConnectionCloseOk) MethodName() string  { return "connection.close-ok" }
func (*ChannelPing) MethodName() string        { return "channel.ping" }
func (*ChannelOk) MethodName() string          { return "channel.ok" }
func (*ChannelOpenOk) MethodName() string      { return "channel.open-ok" }
func (*ChannelClose) MethodName() string       { return "channel.close" }
func (*ChannelCloseOk) MethodName() string     { return "channel.close-ok" }
func (*SessionOpen) MethodName() string        { return "session.open" }
func (*SessionAttached) MethodName() string    { return "session.attached" }
func (*SessionClose) MethodName() string       { return "session.close" }
func (*SessionClosed) MethodName() string      { return "session.closed" }
func (*SessionAck) MethodName() string         { return "session.ack" }
func (*MessageTransfer) MethodName() string    { return "message.transfer" }
func (*MessageOpen) MethodName() string        { return "message.open" }
func (*MessageAppend) MethodName() string      { return "message.append" }
func (*MessageClose) MethodName() string       { return "message.close" }
func (*MessageAcquired) MethodName() string    { return "message.acquired" }
func (*BasicDeliver) MethodName() string       { return "basic.deliver" }
func (*ExecutionCommand) MethodName() string   { return "execution.command" }
func (*ExecutionResult) MethodName() string    { return "execution.result" }
func (*ExecutionComplete) MethodName() string  { return "execution.complete" }

func (*ConnectionStart) sealed()    {}
func (*ConnectionStartOk) sealed()  {}
func (*ConnectionSecure) sealed()   {}
func (*ConnectionSecureOk) sealed() {}
func (*ConnectionTune) sealed()     {}
func (*ConnectionTuneOk) sealed()   {}
func (*ConnectionOpen) sealed()     {}
func (*ConnectionOpenOk) sealed()   {}
func (*ConnectionClose) sealed()    {}
func (*ConnectionCloseOk) sealed()  {}
func (*ChannelPing) sealed()        {}
func (*ChannelOk) sealed()          {}
func (*ChannelOpenOk) sealed()      {}
func (*ChannelClose) sealed()       {}
func (*ChannelCloseOk) sealed()     {}
func (*SessionOpen) sealed()        {}
func (*SessionAttached) sealed()    {}
func (*SessionClose) sealed()       {}
func (*SessionClosed) sealed()      {}
func (*SessionAck) sealed()         {}
func (*MessageTransfer) sealed()    {}
func (*MessageOpen) sealed()        {}
func (*MessageAppend) sealed()      {}
func (*MessageClose) sealed()       {}
func (*MessageAcquired) sealed()    {}
func (*BasicDeliver) sealed()       {}
func (*ExecutionCommand) sealed()   {}
func (*ExecutionResult) sealed()    {}
func (*ExecutionComplete) sealed()  {}
