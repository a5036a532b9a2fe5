package comm

import (
	"fmt"
)

// Message is an immutable application message: an integer id and an opaque
// payload. Messages are comparable with ==.
type Message struct {
	ID      int
	payload string
}

// NewMessage returns a message holding a copy of payload.
func NewMessage(id int, payload []byte) Message {
	return Message{ID: id, payload: string(payload)}
}

// Payload returns a copy of the message payload.
func (m Message) Payload() []byte {
	return []byte(m.payload)
}

// Len returns the payload length in bytes.
func (m Message) Len() int {
	return len(m.payload)
}

// Equal reports whether m and o carry the same id and payload.
func (m Message) Equal(o Message) bool {
	return m == o
}

func (m Message) String() string {
	return fmt.Sprintf("message{id=%d, payload=% x}", m.ID, m.payload)
}
