// Package common defines shared constants and sentinel errors used across
// the relay. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrShortCodeTaken  = errors.New("short code taken")
	ErrorIncorrectData = errors.New("incorrect data")

	// Service-level errors.
	ErrAccountSuspended = errors.New("account suspended")

	// Signed request errors.
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidKey       = errors.New("invalid key")
	ErrRequestExpired   = errors.New("request expired")

	// Malformed or out-of-sequence protocol frames.
	ErrProtocolViolation = errors.New("protocol violation")
)
