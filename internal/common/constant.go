package common

import "time"

const (
	// DefaultMessageTTL is the hard upper bound on message lifetime.
	DefaultMessageTTL = 24 * time.Hour

	// Signed HTTP request headers.
	SignatureHeaderName   = "x-signature"
	IdentityPubHeaderName = "x-identity-pub"
	TimestampHeaderName   = "x-timestamp"

	// Prefixes of the strings signed for destructive HTTP requests.
	DeleteSessionAction = "DELETE_SESSION"
	DeleteAccountAction = "DELETE_ACCOUNT"
)
