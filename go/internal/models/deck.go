package models

import (
	"errors"
	"fmt"
)

// DeckType defines the card deck used by a session.
type DeckType string

const (
	DeckModified   DeckType = "modified"
	DeckFibonacci  DeckType = "fibonacci"
	DeckTShirt     DeckType = "tshirt"
	DeckSequential DeckType = "sequential"
)

// ErrUnknownDeck is returned for deck names outside the known decks.
var ErrUnknownDeck = errors.New("unknown deck type")

// DefaultDeck is used when a session record carries no deck type.
const DefaultDeck = DeckModified

const (
	// PassVote is the abstain card, accepted with every deck.
	PassVote = "Pass"
	// HalfPointVote is the half-point card of the modified deck.
	HalfPointVote = "½"
)

var decks = map[DeckType][]string{
	DeckModified:   {"0", HalfPointVote, "1", "2", "3", "5", "8", "13", "20", "40", "100"},
	DeckFibonacci:  {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89"},
	DeckTShirt:     {"XS", "S", "M", "L", "XL", "XXL"},
	DeckSequential: {"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"},
}

// ParseDeckType validates a deck name. An empty name selects DefaultDeck.
func ParseDeckType(s string) (DeckType, error) {
	if s == "" {
		return DefaultDeck, nil
	}
	d := DeckType(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownDeck, s)
	}
	return d, nil
}

// Valid reports whether d is a known deck.
func (d DeckType) Valid() bool {
	_, ok := decks[d]
	return ok
}

// Cards returns the selectable values of the deck followed by PassVote.
func (d DeckType) Cards() []string {
	values := decks[d]
	cards := make([]string, 0, len(values)+1)
	cards = append(cards, values...)
	return append(cards, PassVote)
}

// Accepts reports whether value may be cast as a vote with this deck.
func (d DeckType) Accepts(value string) bool {
	if value == PassVote {
		return true
	}
	for _, v := range decks[d] {
		if v == value {
			return true
		}
	}
	return false
}
