package engine

import (
	"sort"

	"github.com/holdemlab/dealerd/pkg/poker"
)

// SeatSnapshot is the serializable view of one seat. HoleCards are
// present here; stripping them per viewer is the bridge's job.
type SeatSnapshot struct {
	ID              int          `json:"id"`
	PID             string       `json:"pid"`
	Nickname        string       `json:"nickname,omitempty"`
	Chips           int64        `json:"chips"`
	HoleCards       []poker.Card `json:"holeCards,omitempty"`
	StreetCommitted int64        `json:"streetCommitted"`
	HandCommitted   int64        `json:"handCommitted"`
	State           SeatState    `json:"state"`
	JoinedHand      uint64       `json:"joinedHandNumber"`
}

// PotSnapshot is the serializable view of one pot.
type PotSnapshot struct {
	Amount        int64 `json:"amount"`
	EligibleSeats []int `json:"eligibleSeats"`
}

// TableSnapshot is the full serializable table state. It round-trips
// through JSON losslessly and is what gets persisted under the
// room:<tableId> key. DeckRemaining must never reach a client.
type TableSnapshot struct {
	ID             string         `json:"id"`
	SmallBlind     int64          `json:"smallBlind"`
	BigBlind       int64          `json:"bigBlind"`
	Phase          Phase          `json:"phase"`
	Seats          []SeatSnapshot `json:"seats"`
	CommunityCards []poker.Card   `json:"communityCards"`
	Burns          []poker.Card   `json:"burns"`
	DeckRemaining  []poker.Card   `json:"deckRemaining,omitempty"`
	ButtonSeat     int            `json:"buttonSeat"`
	ActorSeat      int            `json:"actorSeat"`
	CurrentBet     int64          `json:"currentBet"`
	MinRaise       int64          `json:"minRaise"`
	LastAggressor  int            `json:"lastAggressorSeat"`
	Pots           []PotSnapshot  `json:"pots"`
	HandNumber     uint64         `json:"handNumber"`
}

// snapshot captures the table's current state.
func (t *Table) snapshot() *TableSnapshot {
	snap := &TableSnapshot{
		ID:             t.ID,
		SmallBlind:     t.SmallBlind,
		BigBlind:       t.BigBlind,
		Phase:          t.Phase,
		Seats:          make([]SeatSnapshot, NumSeats),
		CommunityCards: append([]poker.Card(nil), t.Community...),
		Burns:          append([]poker.Card(nil), t.Burns...),
		ButtonSeat:     t.Button,
		ActorSeat:      t.Actor,
		CurrentBet:     t.CurrentBet,
		MinRaise:       t.MinRaise,
		LastAggressor:  t.LastAggressor,
		HandNumber:     t.HandNumber,
	}
	if t.deck != nil {
		snap.DeckRemaining = t.deck.Remaining()
	}
	for i := range t.Seats {
		s := &t.Seats[i]
		snap.Seats[i] = SeatSnapshot{
			ID:              s.ID,
			PID:             s.PID,
			Nickname:        s.Nickname,
			Chips:           s.Chips,
			HoleCards:       append([]poker.Card(nil), s.HoleCards...),
			StreetCommitted: s.StreetCommitted,
			HandCommitted:   s.HandCommitted,
			State:           s.State,
			JoinedHand:      s.JoinedHand,
		}
	}
	for _, p := range t.Pots {
		eligible := make([]int, 0, len(p.Eligible))
		for seat := range p.Eligible {
			eligible = append(eligible, seat)
		}
		sort.Ints(eligible)
		snap.Pots = append(snap.Pots, PotSnapshot{Amount: p.Amount, EligibleSeats: eligible})
	}
	return snap
}

// tableFromSnapshot rebuilds a Table from persisted state.
func tableFromSnapshot(snap *TableSnapshot) *Table {
	t := newTable(snap.ID, snap.SmallBlind, snap.BigBlind)
	t.Phase = snap.Phase
	t.Community = append([]poker.Card(nil), snap.CommunityCards...)
	t.Burns = append([]poker.Card(nil), snap.Burns...)
	t.Button = snap.ButtonSeat
	t.Actor = snap.ActorSeat
	t.CurrentBet = snap.CurrentBet
	t.MinRaise = snap.MinRaise
	t.LastAggressor = snap.LastAggressor
	t.HandNumber = snap.HandNumber
	if len(snap.DeckRemaining) > 0 {
		t.deck = poker.NewDeckFromRemaining(snap.DeckRemaining)
	}
	for i, ss := range snap.Seats {
		if i >= NumSeats {
			break
		}
		t.Seats[i] = Seat{
			ID:              ss.ID,
			PID:             ss.PID,
			Nickname:        ss.Nickname,
			Chips:           ss.Chips,
			HoleCards:       append([]poker.Card(nil), ss.HoleCards...),
			StreetCommitted: ss.StreetCommitted,
			HandCommitted:   ss.HandCommitted,
			State:           ss.State,
			JoinedHand:      ss.JoinedHand,
		}
	}
	for _, ps := range snap.Pots {
		eligible := make(map[int]bool, len(ps.EligibleSeats))
		for _, seat := range ps.EligibleSeats {
			eligible[seat] = true
		}
		t.Pots = append(t.Pots, poker.Pot{Amount: ps.Amount, Eligible: eligible})
	}
	return t
}
