// Package models defines server-side records persisted in the database.
package models

import "time"

// Identity is a directory entry created on the first successful
// authentication of an Ed25519 identity.
type Identity struct {
	// AddressHash is hex(SHA-256(raw identity public key)), the primary key.
	AddressHash string
	// ShortCode is immutable once allocated.
	ShortCode           string
	IdentityPublicKey   string
	EncryptionPublicKey string
	AbuseScore          int
	LastSeen            time.Time
}

// Suspended reports whether the identity's score has reached threshold.
func (i *Identity) Suspended(threshold int) bool {
	return i.AbuseScore >= threshold
}
