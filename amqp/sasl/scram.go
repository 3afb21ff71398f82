package sasl

import (
	"errors"
	"fmt"

	"github.com/xdg-go/scram"
)

var ErrScramComplete = errors.New("sasl: scram conversation already complete")

type scramMechanism struct {
	name         string
	conversation *scram.ClientConversation
}

func newScram(name string, username string, password string, authzID string) (Mechanism, error) {
	var hash scram.HashGeneratorFcn
	switch name {
	case ScramSHA1:
		hash = scram.SHA1
	case ScramSHA256:
		hash = scram.SHA256
	default:
		return nil, ErrUnknownMechanism
	}

	client, err := hash.NewClient(username, password, authzID)
	if err != nil {
		return nil, fmt.Errorf("sasl: %s: %w", name, err)
	}
	return &scramMechanism{name: name, conversation: client.NewConversation()}, nil
}

func (mechanism *scramMechanism) Name() string { return mechanism.name }

func (mechanism *scramMechanism) InitialResponse() ([]byte, error) {
	return mechanism.step("")
}

// Response answers the server-first message, then verifies the server-final
// message (which yields an empty response).
func (mechanism *scramMechanism) Response(challenge []byte) ([]byte, error) {
	return mechanism.step(string(challenge))
}

func (mechanism *scramMechanism) step(challenge string) ([]byte, error) {
	if mechanism.conversation.Done() {
		return nil, ErrScramComplete
	}
	response, err := mechanism.conversation.Step(challenge)
	if err != nil {
		return nil, fmt.Errorf("sasl: %s: %w", mechanism.name, err)
	}
	return []byte(response), nil
}
