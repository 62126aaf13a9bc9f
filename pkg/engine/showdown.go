package engine

import (
	"sort"

	"github.com/holdemlab/dealerd/pkg/poker"
)

const (
	reasonShowdown    = "showdown"
	reasonUncontested = "uncontested"
)

// settle finishes the hand: showdown evaluation when contested, pot
// awards, payout bookkeeping, and the return to waiting.
func (e *Engine) settle(contested bool) {
	t := e.tbl
	t.Actor = noSeat
	t.rebuildPots()

	var evals map[int]poker.HandValue
	if contested {
		t.Phase = PhaseShowdown
		evals = e.runShowdown()
	}
	t.Phase = PhaseSettling

	dists := e.awardPots(contested, evals)
	for _, d := range dists {
		if d.Seat >= 0 {
			t.Seats[d.Seat].Chips += d.Amount
		}
		t.paidOut += d.Amount
	}
	e.commit(Payout{Distributions: dists})
	e.emitWinners(dists)

	e.handEnd()
}

// runShowdown evaluates every contesting hand and commits the reveal.
func (e *Engine) runShowdown() map[int]poker.HandValue {
	t := e.tbl
	evals := make(map[int]poker.HandValue)
	shown := make([]ShownHand, 0, 2)
	for _, i := range t.inHandSeats() {
		s := &t.Seats[i]
		hv, err := poker.Evaluate(s.HoleCards, t.Community)
		if err != nil {
			e.log.Errorf("table %s: evaluating seat %d: %v", t.ID, i, err)
			continue
		}
		evals[i] = hv
		shown = append(shown, ShownHand{
			Seat:        i,
			PID:         s.PID,
			HoleCards:   append([]poker.Card(nil), s.HoleCards...),
			Description: hv.Description,
		})
	}
	e.commit(Showdown{Hands: shown})
	return evals
}

// awardPots resolves every pot, side pots before the main pot. Ties
// split evenly with odd chips going to the earliest winner clockwise
// from the button.
func (e *Engine) awardPots(contested bool, evals map[int]poker.HandValue) []Distribution {
	t := e.tbl
	var dists []Distribution
	for pi := len(t.Pots) - 1; pi >= 0; pi-- {
		pot := t.Pots[pi]
		if pot.Amount == 0 {
			continue
		}
		winners := e.potWinners(pot, contested, evals)
		if len(winners) == 0 {
			// Dead pot: everyone eligible folded out. Hand it to the
			// last seat standing.
			if live := t.inHandSeats(); len(live) > 0 {
				winners = live[:1]
			} else {
				continue
			}
		}
		reason := reasonUncontested
		if contested && len(pot.Eligible) > 1 {
			reason = reasonShowdown
		}

		share := pot.Amount / int64(len(winners))
		odd := pot.Amount % int64(len(winners))
		ordered := t.clockwiseFromButton(winners)
		for _, w := range ordered {
			amount := share
			if odd > 0 {
				amount++
				odd--
			}
			if amount == 0 {
				continue
			}
			dists = append(dists, Distribution{
				PID:    t.Seats[w].PID,
				Seat:   w,
				Amount: amount,
				Pot:    pi,
				Reason: reason,
			})
		}
	}
	return dists
}

// potWinners picks the best eligible live hand(s) for one pot.
func (e *Engine) potWinners(pot poker.Pot, contested bool, evals map[int]poker.HandValue) []int {
	t := e.tbl
	var winners []int
	var best poker.HandValue
	for _, i := range t.inHandSeats() {
		if !pot.IsEligible(i) {
			continue
		}
		if !contested {
			winners = append(winners, i)
			continue
		}
		hv, ok := evals[i]
		if !ok {
			continue
		}
		if len(winners) == 0 {
			winners, best = []int{i}, hv
			continue
		}
		switch poker.Compare(hv, best) {
		case 1:
			winners, best = []int{i}, hv
		case 0:
			winners = append(winners, i)
		}
	}
	return winners
}

// clockwiseFromButton orders seats by distance clockwise from the seat
// after the button.
func (t *Table) clockwiseFromButton(seats []int) []int {
	out := append([]int(nil), seats...)
	dist := func(i int) int {
		return ((i - t.Button - 1) + NumSeats) % NumSeats
	}
	sort.Slice(out, func(a, b int) bool { return dist(out[a]) < dist(out[b]) })
	return out
}

func (e *Engine) emitWinners(dists []Distribution) {
	t := e.tbl
	// One announcement per pot, aggregating its winners.
	byPot := make(map[int]*WinnerAnnouncementPayload)
	var order []int
	for _, d := range dists {
		wa, ok := byPot[d.Pot]
		if !ok {
			wa = &WinnerAnnouncementPayload{TableID: t.ID, PotIndex: d.Pot}
			byPot[d.Pot] = wa
			order = append(order, d.Pot)
		}
		wa.Winners = append(wa.Winners, WinnerSeat{Seat: d.Seat, PlayerID: d.PID})
		wa.PotAmount += d.Amount
	}
	for _, pi := range order {
		e.emit(EmitWinner, *byPot[pi])
	}
}

// handEnd resets per-hand state, parks busted or departing seats and
// schedules the next deal.
func (e *Engine) handEnd() {
	t := e.tbl
	e.commit(HandEnd{})
	e.emit(EmitHandEnd, HandEndPayload{TableID: t.ID, HandNumber: t.HandNumber})

	for i := range t.Seats {
		s := &t.Seats[i]
		s.StreetCommitted = 0
		s.HandCommitted = 0
		s.HoleCards = nil
		switch s.State {
		case SeatEmpty, SeatSittingOut, SeatWaiting:
		default:
			if s.sitOutNext || s.Chips == 0 {
				s.State = SeatSittingOut
				s.sitOutNext = false
			} else {
				s.State = SeatActive
			}
		}
	}
	t.Phase = PhaseWaiting
	t.Actor = noSeat
	t.CurrentBet = 0
	t.MinRaise = 0
	t.LastAggressor = noSeat
	t.toAct = [NumSeats]bool{}
	t.paidOut = 0
	t.Pots = nil

	// Line up the next hand if the table still has a game.
	ready := 0
	for i := range t.Seats {
		s := &t.Seats[i]
		if s.State == SeatActive && s.Chips >= t.BigBlind {
			ready++
		}
	}
	if ready >= 2 {
		e.armCountdown(TimerNewHand, e.cfg.NewHandDelay, noSeat)
	}
}
