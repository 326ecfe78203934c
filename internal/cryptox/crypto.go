// Package cryptox holds the relay's only cryptography: Ed25519 signature
// verification and address derivation. The relay never decrypts content.
package cryptox

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/blindrelay/internal/common"
	"golang.org/x/crypto/curve25519"
)

// DecodeKey decodes a base64 public key without checking its size.
func DecodeKey(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidKey, err)
	}
	return raw, nil
}

// DecodeIdentityKey decodes a base64 Ed25519 public key and checks its size.
func DecodeIdentityKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := DecodeKey(b64)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: identity key is %d bytes", common.ErrInvalidKey, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ValidateEncryptionKey checks that b64 decodes to an X25519 public key.
func ValidateEncryptionKey(b64 string) error {
	raw, err := DecodeKey(b64)
	if err != nil {
		return err
	}
	if len(raw) != curve25519.PointSize {
		return fmt.Errorf("%w: encryption key is %d bytes", common.ErrInvalidKey, len(raw))
	}
	return nil
}

// Address returns hex(SHA-256(raw public key bytes)). Clients hash the raw
// key bytes, not the base64 text, and so must we.
func Address(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Verify checks a base64 detached Ed25519 signature over the UTF-8 bytes of
// message.
func Verify(pub ed25519.PublicKey, message string, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, []byte(message), sig) {
		return common.ErrInvalidSignature
	}
	return nil
}

// VerifySignedAction verifies a signature over "<action>:<timestamp>" made by
// the identity key pubB64 and returns the signer's address.
func VerifySignedAction(pubB64, signatureB64, action, timestamp string) (string, error) {
	pub, err := DecodeIdentityKey(pubB64)
	if err != nil {
		return "", err
	}
	if err := Verify(pub, action+":"+timestamp, signatureB64); err != nil {
		return "", err
	}
	return Address(pub), nil
}
