// Package shortcode derives human-shareable aliases for addresses.
//
// A code is the first 60 bits of SHA-256(seed) in RFC 4648 Base32, grouped
// as XXXX-XXXX-XXXX. The seed is the address itself for attempt 0 and
// "<address>_<attempt>" afterwards, so every retry after a collision yields
// an independent candidate.
package shortcode

import (
	"crypto/sha256"
	"encoding/base32"
	"strconv"
	"strings"
)

const (
	// Length is the number of Base32 characters in a code, without hyphens.
	Length = 12
	// GroupSize is the number of characters between hyphens.
	GroupSize = 4
)

// Generate returns the candidate short code for address at the given attempt.
func Generate(address string, attempt int) string {
	seed := address
	if attempt > 0 {
		seed = address + "_" + strconv.Itoa(attempt)
	}

	digest := sha256.Sum256([]byte(seed))

	// 8 bytes encode to 13 Base32 characters; the 13th carries only 4 bits
	// and is dropped.
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:8])
	code := encoded[:Length]

	return code[0:4] + "-" + code[4:8] + "-" + code[8:12]
}

// Normalize prepares user input for an exact lookup.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
