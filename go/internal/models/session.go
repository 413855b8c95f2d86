package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// SessionIDLength is the length of generated session codes.
const SessionIDLength = 6

const sessionIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SessionMeta is the session-level record shared by every participant.
type SessionMeta struct {
	DeckType  DeckType  `json:"deckType"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSessionID generates a random base-36 session code.
func NewSessionID() (string, error) {
	var b strings.Builder
	b.Grow(SessionIDLength)
	max := big.NewInt(int64(len(sessionIDAlphabet)))
	for i := 0; i < SessionIDLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		b.WriteByte(sessionIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeSessionID trims and upper-cases a user supplied session code.
func NormalizeSessionID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidSessionID reports whether id is a non-empty normalized base-36 code.
// Codes shorter than SessionIDLength are accepted since older clients could
// produce them.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 16 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(sessionIDAlphabet, rune(id[i])) {
			return false
		}
	}
	return true
}
