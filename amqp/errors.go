package amqp

import (
	"errors"
	"fmt"
)

const (
	AuthenticationError = iota

	ChannelsExhaustedError

	ClosedError

	ConnectionError

	ProtocolError

	TimedOutError

	UsageError

	UnknownError
)

// Error is the typed error returned by client and session operations.
type Error struct {
	Code      int
	Message   string
	ReplyCode uint16
	cause     error
}

func errorName(errorCode int) string {
	switch errorCode {
	case AuthenticationError:
		return "AuthenticationError"
	case ChannelsExhaustedError:
		return "ChannelsExhaustedError"
	case ClosedError:
		return "ClosedError"
	case ConnectionError:
		return "ConnectionError"
	case ProtocolError:
		return "ProtocolError"
	case TimedOutError:
		return "TimedOutError"
	case UsageError:
		return "UsageError"
	default:
		return "UnknownError"
	}
}

func (err *Error) Error() string {
	name := errorName(err.Code)
	if err.Message == "" {
		return name
	}
	if err.ReplyCode != 0 {
		return fmt.Sprintf("%s: %d %s", name, err.ReplyCode, err.Message)
	}
	return fmt.Sprintf("%s: %s", name, err.Message)
}

func (err *Error) Unwrap() error { return err.cause }

// Is matches any *Error carrying the same code, so errors.Is(err, NewError(ClosedError))
// works regardless of message.
func (err *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == err.Code
}

// NewError builds a typed error. An error argument becomes the wrapped cause;
// anything else is formatted into the message.
func NewError(errorCode int, message ...interface{}) error {
	err := &Error{Code: errorCode}
	if errorName(errorCode) == "UnknownError" {
		err.Code = UnknownError
	}

	if len(message) > 0 {
		if cause, ok := message[0].(error); ok {
			err.cause = cause
		}
		err.Message = fmt.Sprint(message[0])
	}

	return err
}

func closedError(replyCode uint16, replyText string) error {
	return &Error{Code: ClosedError, Message: replyText, ReplyCode: replyCode}
}

// IsCode reports whether err is, or wraps, an *Error with the given code.
func IsCode(err error, errorCode int) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == errorCode
}
