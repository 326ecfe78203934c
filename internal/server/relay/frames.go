package relay

import (
	"encoding/json"
	"time"
)

// Frame types.
const (
	TypeAuthRequest    = "auth_request"
	TypeAuthChallenge  = "auth_challenge"
	TypeAuthResponse   = "auth_response"
	TypeAuthSuccess    = "auth_success"
	TypeMessage        = "message"
	TypeRequestHistory = "request_history"
	TypeReportAbuse    = "report_abuse"
	TypeError          = "error"
)

// WebSocket close codes.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseInternalError    = 1011
	CloseNotAuthed        = 4001
	CloseMissingKeys      = 4002
	CloseNoPendingAuth    = 4003
	CloseSuspended        = 4003
	CloseInvalidSignature = 4004
)

// Close reasons.
const (
	reasonNotAuthed        = "Not Authed"
	reasonAuthTimeout      = "Auth Timeout"
	reasonMissingKeys      = "Missing Keys"
	reasonNoPendingAuth    = "No Pending Auth"
	reasonSuspended        = "Account Suspended"
	reasonInvalidSignature = "Invalid Signature"
	reasonDirectory        = "Directory Unavailable"
	reasonShutdown         = "Server Shutting Down"
	reasonSuperseded       = "Superseded"
)

// User-visible error notices.
const (
	noticeSuspendedOnAuth = "Account suspended due to violations."
	noticeSuspendedKick   = "Account suspended due to abuse reports."
	noticeDirectory       = "Authentication failed, try again later."
)

// inbound is the union of all client frames. Fields irrelevant to Type are
// ignored.
type inbound struct {
	Type string `json:"type"`

	IdentityPublicKey   string `json:"identityPublicKey"`
	EncryptionPublicKey string `json:"encryptionPublicKey"`
	Signature           string `json:"signature"`

	TargetAddress string          `json:"targetAddress"`
	Payload       *inboundPayload `json:"payload"`
	PayloadSelf   *inboundPayload `json:"payloadSelf"`

	ReportedAddress string `json:"reportedAddress"`
	Reason          string `json:"reason"`
}

type inboundPayload struct {
	Ciphertext         string          `json:"ciphertext"`
	EphemeralPublicKey string          `json:"ephemeralPublicKey"`
	IV                 string          `json:"iv"`
	ExpiresAt          json.RawMessage `json:"expires_at,omitempty"`
}

type authChallengeFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
}

type authSuccessFrame struct {
	Type      string `json:"type"`
	Address   string `json:"address"`
	ShortCode string `json:"shortCode"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MessageFrame is a ciphertext delivered to a client, live or from history.
type MessageFrame struct {
	Type     string         `json:"type"`
	Sender   string         `json:"sender"`
	Receiver string         `json:"receiver,omitempty"`
	Payload  MessagePayload `json:"payload"`
}

// MessagePayload carries one envelope. IsHistory marks replayed messages.
type MessagePayload struct {
	Ciphertext         string    `json:"ciphertext"`
	EphemeralPublicKey string    `json:"ephemeralPublicKey"`
	IV                 string    `json:"iv"`
	Timestamp          time.Time `json:"timestamp"`
	IsHistory          bool      `json:"isHistory,omitempty"`
}
