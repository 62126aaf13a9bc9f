package poker

import "math/rand"

// Deck is a shuffled deck of cards. The shuffle is driven entirely by
// the seed passed to NewDeck, so a hand can be replayed bit-identically
// from the seed recorded in its start event.
type Deck struct {
	cards []Card
}

// NewDeck creates a full 52-card deck shuffled with the given seed.
func NewDeck(seed int64) *Deck {
	d := &Deck{cards: make([]Card, 0, NumCards)}
	for c := Card(0); c < NumCards; c++ {
		d.cards = append(d.cards, c)
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
	return d
}

// NewDeckFromRemaining rebuilds a deck from a persisted remainder.
func NewDeckFromRemaining(cards []Card) *Deck {
	d := &Deck{cards: make([]Card, len(cards))}
	copy(d.cards, cards)
	return d
}

// Draw removes and returns the top card.
func (d *Deck) Draw() (Card, bool) {
	if len(d.cards) == 0 {
		return 0, false
	}
	c := d.cards[0]
	d.cards = d.cards[1:]
	return c, true
}

// Size returns the number of cards left.
func (d *Deck) Size() int { return len(d.cards) }

// Remaining returns a copy of the undrawn cards, top first.
func (d *Deck) Remaining() []Card {
	out := make([]Card, len(d.cards))
	copy(out, d.cards)
	return out
}
