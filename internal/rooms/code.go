package rooms

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"regexp"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength is the length of a room share code.
	CodeLength = 6
	// tokenBytes is the entropy of a creator token (hex-encoded to 64 chars).
	tokenBytes = 32
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidCode reports whether s is a well-formed room code. Lookups are
// case-sensitive exact matches; anything not matching is rejected before
// touching storage.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}

// GenerateCode returns a room code drawn uniformly from [A-Z0-9].
// Uniqueness is enforced by the registry, not here.
func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	buf := make([]byte, 1)
	for i := 0; i < CodeLength; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		// Rejection sampling keeps the draw uniform over the 36-char alphabet.
		if int(buf[0]) >= 256-(256%len(codeAlphabet)) {
			continue
		}
		code[i] = codeAlphabet[int(buf[0])%len(codeAlphabet)]
		i++
	}
	return string(code), nil
}

// NewCreatorToken mints an opaque capability proving creator privilege.
// It lives only in the creating client's local state; losing it demotes
// that client to attendee for good.
func NewCreatorToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate creator token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

var (
	usernameAdjectives = []string{"Rare", "Lateral", "Curious", "Gentle"}
	usernameNouns      = []string{"Rabbit", "Moon", "Tiger", "Eagle"}
)

// GenerateUsername returns a display name like "Curious Eagle". Names are
// stable for a session but not unique across sessions; collisions are fine.
func GenerateUsername() string {
	adj := usernameAdjectives[mrand.Intn(len(usernameAdjectives))]
	noun := usernameNouns[mrand.Intn(len(usernameNouns))]
	return adj + " " + noun
}
