package models

import (
	"encoding/json"
	"time"
)

// Envelope is the per-recipient metadata needed to decrypt a ciphertext.
// The relay stores it as an opaque JSON string.
type Envelope struct {
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	IV                 string `json:"iv"`
}

// Pack serializes the envelope for the session-key column.
func (e Envelope) Pack() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// UnpackEnvelope parses a stored envelope. Unparseable metadata yields an
// empty envelope, the ciphertext is still replayed.
func UnpackEnvelope(packed string) Envelope {
	var e Envelope
	_ = json.Unmarshal([]byte(packed), &e)
	return e
}

// Message is a stored ciphertext. The receiver copy is always present; the
// sender copy is empty for rows written by clients that sent no self-envelope.
type Message struct {
	ID                int64
	Sender            string
	Receiver          string
	Ciphertext        string
	SessionMeta       string
	CiphertextSender  string
	SessionMetaSender string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// HasSenderCopy reports whether the sender can decrypt its own copy.
func (m *Message) HasSenderCopy() bool {
	return m.CiphertextSender != ""
}

// BetweenPair reports whether the message belongs to the conversation of a and b.
func (m *Message) BetweenPair(a, b string) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}
