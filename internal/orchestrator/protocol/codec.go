package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// New builds a Message with the current version, encoding payload as JSON.
func New(typ Type, id string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Message{
		Version:   Version,
		Type:      typ,
		ID:        id,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

// Decode unmarshals a message's payload into out, which should be a
// pointer to the struct matching m.Type.
func (m Message) Decode(out interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, out)
}

// Marshal serializes the envelope itself (version/type/id/timestamp/payload).
func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal parses a framed byte slice back into a Message envelope.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message envelope: %w", err)
	}
	return m, nil
}
