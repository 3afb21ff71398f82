// Package sasl selects and drives the SASL mechanism used during connection
// start-up.
//
// Select walks the server's offered mechanisms in order and returns the first
// one that has an implementation here, is permitted by Options, and can be
// satisfied with the supplied credentials. Mechanisms are stateful only for
// multi-round exchanges (SCRAM); a fresh instance is returned by every call.
package sasl

import (
	"errors"
	"strings"
)

// Mechanism names understood by this package.
const (
	Anonymous   = "ANONYMOUS"
	External    = "EXTERNAL"
	Plain       = "PLAIN"
	AMQPlain    = "AMQPLAIN"
	CramMD5     = "CRAM-MD5"
	ScramSHA1   = "SCRAM-SHA-1"
	ScramSHA256 = "SCRAM-SHA-256"
)

var (
	ErrUnexpectedChallenge = errors.New("sasl: mechanism does not accept challenges")
	ErrUnknownMechanism    = errors.New("sasl: unknown mechanism")
	ErrMissingCredentials  = errors.New("sasl: mechanism requires username and password")
)

// Mechanism produces the responses of one authentication exchange.
type Mechanism interface {
	Name() string
	InitialResponse() ([]byte, error)
	Response(challenge []byte) ([]byte, error)
}

// Options narrows mechanism selection.
type Options struct {
	// Allowed, when non-empty, restricts selection to these names.
	Allowed []string
	// AuthzID is the authorization identity sent by PLAIN and SCRAM.
	AuthzID string
}

func (options Options) permits(name string) bool {
	if len(options.Allowed) == 0 {
		return true
	}
	for _, allowed := range options.Allowed {
		if strings.EqualFold(strings.TrimSpace(allowed), name) {
			return true
		}
	}
	return false
}

type factory struct {
	needsCredentials bool
	build            func(username, password string, options Options) (Mechanism, error)
}

var factories = map[string]factory{
	Anonymous: {build: func(string, string, Options) (Mechanism, error) { return anonymous{}, nil }},
	External:  {build: func(string, string, Options) (Mechanism, error) { return external{}, nil }},
	Plain: {needsCredentials: true, build: func(username, password string, options Options) (Mechanism, error) {
		return &plain{authzID: options.AuthzID, username: username, password: password}, nil
	}},
	AMQPlain: {needsCredentials: true, build: func(username, password string, _ Options) (Mechanism, error) {
		return &amqPlain{username: username, password: password}, nil
	}},
	CramMD5: {needsCredentials: true, build: func(username, password string, _ Options) (Mechanism, error) {
		return &cramMD5{username: username, password: password}, nil
	}},
	ScramSHA1: {needsCredentials: true, build: func(username, password string, options Options) (Mechanism, error) {
		return newScram(ScramSHA1, username, password, options.AuthzID)
	}},
	ScramSHA256: {needsCredentials: true, build: func(username, password string, options Options) (Mechanism, error) {
		return newScram(ScramSHA256, username, password, options.AuthzID)
	}},
}

// Select returns the first offered mechanism that can be used, or nil.
func Select(offered []string, username string, password string, options Options) Mechanism {
	hasCredentials := username != "" && password != ""
	for _, name := range offered {
		name = strings.ToUpper(strings.TrimSpace(name))
		f, ok := factories[name]
		if !ok || !options.permits(name) {
			continue
		}
		if f.needsCredentials && !hasCredentials {
			continue
		}
		mechanism, err := f.build(username, password, options)
		if err != nil {
			continue
		}
		return mechanism
	}
	return nil
}

// Lookup builds the named mechanism regardless of what the server offered.
func Lookup(name string, username string, password string, options Options) (Mechanism, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	f, ok := factories[name]
	if !ok {
		return nil, ErrUnknownMechanism
	}
	if f.needsCredentials && (username == "" || password == "") {
		return nil, ErrMissingCredentials
	}
	return f.build(username, password, options)
}

// ParseMechanisms splits a server's space separated mechanism list.
func ParseMechanisms(raw string) []string {
	return strings.Fields(raw)
}

// Supported lists the mechanism names this package implements.
func Supported() []string {
	return []string{Anonymous, External, Plain, AMQPlain, CramMD5, ScramSHA1, ScramSHA256}
}
