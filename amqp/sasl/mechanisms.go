package sasl

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5" // #nosec G501 -- CRAM-MD5 is defined over HMAC-MD5
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

type anonymous struct{}

func (anonymous) Name() string                     { return Anonymous }
func (anonymous) InitialResponse() ([]byte, error) { return []byte{}, nil }
func (anonymous) Response([]byte) ([]byte, error)  { return nil, ErrUnexpectedChallenge }

// external relies on credentials established by the transport (TLS client certs).
type external struct{}

func (external) Name() string                     { return External }
func (external) InitialResponse() ([]byte, error) { return []byte{}, nil }
func (external) Response([]byte) ([]byte, error)  { return nil, ErrUnexpectedChallenge }

type plain struct {
	authzID  string
	username string
	password string
}

func (mechanism *plain) Name() string { return Plain }

func (mechanism *plain) InitialResponse() ([]byte, error) {
	response := make([]byte, 0, len(mechanism.authzID)+len(mechanism.username)+len(mechanism.password)+2)
	response = append(response, mechanism.authzID...)
	response = append(response, 0)
	response = append(response, mechanism.username...)
	response = append(response, 0)
	response = append(response, mechanism.password...)
	return response, nil
}

func (mechanism *plain) Response([]byte) ([]byte, error) { return nil, ErrUnexpectedChallenge }

// amqPlain sends LOGIN and PASSWORD as an AMQP field table body (no length
// prefix), each value a long string.
type amqPlain struct {
	username string
	password string
}

func (mechanism *amqPlain) Name() string { return AMQPlain }

func (mechanism *amqPlain) InitialResponse() ([]byte, error) {
	var buffer bytes.Buffer
	if err := writeLongStringEntry(&buffer, "LOGIN", mechanism.username); err != nil {
		return nil, err
	}
	if err := writeLongStringEntry(&buffer, "PASSWORD", mechanism.password); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (mechanism *amqPlain) Response([]byte) ([]byte, error) { return nil, ErrUnexpectedChallenge }

func writeLongStringEntry(buffer *bytes.Buffer, key string, value string) error {
	if len(key) > math.MaxUint8 {
		return fmt.Errorf("sasl: table key %q too long", key)
	}
	if uint64(len(value)) > math.MaxUint32 {
		return fmt.Errorf("sasl: table value for %q too long", key)
	}
	buffer.WriteByte(byte(len(key)))
	buffer.WriteString(key)
	buffer.WriteByte('S')
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(value))) // #nosec G115 -- bounded above
	buffer.Write(length[:])
	buffer.WriteString(value)
	return nil
}

type cramMD5 struct {
	username string
	password string
}

func (mechanism *cramMD5) Name() string { return CramMD5 }

func (mechanism *cramMD5) InitialResponse() ([]byte, error) { return []byte{}, nil }

func (mechanism *cramMD5) Response(challenge []byte) ([]byte, error) {
	mac := hmac.New(md5.New, []byte(mechanism.password))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return []byte(mechanism.username + " " + digest), nil
}
