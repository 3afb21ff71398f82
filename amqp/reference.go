package amqp

import (
	"fmt"
	"sync"
)

type reference struct {
	chunks [][]byte
	size   int
}

// References reassembles message bodies that arrive as open/append/close
// fragments. A closed reference keeps its assembled body until a transfer
// naming it consumes the body with Take.
type References struct {
	lock      sync.Mutex
	open      map[string]*reference
	assembled map[string][]byte
}

func newReferences() *References {
	return &References{
		open:      make(map[string]*reference),
		assembled: make(map[string][]byte),
	}
}

// Open starts an empty accumulator for id. Reopening an id whose assembled
// body no transfer took drops that body, opens the new reference and reports
// a ProtocolError.
func (references *References) Open(id string) error {
	references.lock.Lock()
	defer references.lock.Unlock()

	if _, exists := references.open[id]; exists {
		return NewError(ProtocolError, fmt.Sprintf("reference %q already open", id))
	}
	references.open[id] = &reference{}
	if _, stale := references.assembled[id]; stale {
		delete(references.assembled, id)
		return NewError(ProtocolError, fmt.Sprintf("reference %q reopened before its body was transferred", id))
	}
	return nil
}

// Append adds a fragment to an open reference.
func (references *References) Append(id string, fragment []byte) error {
	references.lock.Lock()
	defer references.lock.Unlock()

	ref, exists := references.open[id]
	if !exists {
		return NewError(ProtocolError, fmt.Sprintf("append to reference %q that is not open", id))
	}
	ref.chunks = append(ref.chunks, append([]byte(nil), fragment...))
	ref.size += len(fragment)
	return nil
}

// Close finalizes id and returns the assembled body. The body also stays
// available to Take until consumed.
func (references *References) Close(id string) ([]byte, error) {
	references.lock.Lock()
	defer references.lock.Unlock()

	ref, exists := references.open[id]
	if !exists {
		return nil, NewError(ProtocolError, fmt.Sprintf("close of reference %q that is not open", id))
	}
	delete(references.open, id)

	body := make([]byte, 0, ref.size)
	for _, chunk := range ref.chunks {
		body = append(body, chunk...)
	}
	references.assembled[id] = body
	return body, nil
}

// Take consumes the assembled body of a closed reference.
func (references *References) Take(id string) ([]byte, bool) {
	references.lock.Lock()
	defer references.lock.Unlock()

	body, exists := references.assembled[id]
	if exists {
		delete(references.assembled, id)
	}
	return body, exists
}

// discard drops every open and assembled reference once the session ends.
func (references *References) discard() {
	references.lock.Lock()
	references.open = make(map[string]*reference)
	references.assembled = make(map[string][]byte)
	references.lock.Unlock()
}

// Pending reports how many references are open and how many assembled bodies
// are waiting for a transfer.
func (references *References) Pending() (open int, assembled int) {
	references.lock.Lock()
	defer references.lock.Unlock()
	return len(references.open), len(references.assembled)
}
