package engine

import (
	"time"

	"github.com/holdemlab/dealerd/pkg/poker"
)

// bettingPhase reports whether seats can act in the current phase.
func bettingPhase(p Phase) bool {
	switch p {
	case PhasePreflop, PhaseFlop, PhaseTurn, PhaseRiver:
		return true
	}
	return false
}

func (e *Engine) applyJoin(v PlayerJoin) error {
	t := e.tbl
	if v.Seat < 0 || v.Seat >= NumSeats {
		return ruleErrorf(CodeCommandFailed, "seat %d out of range", v.Seat)
	}
	if v.Chips <= 0 {
		return ruleErrorf(CodeIllegalAmount, "join requires a positive stack")
	}
	if t.Seats[v.Seat].State != SeatEmpty {
		return ruleErrorf(CodeCommandFailed, "seat %d is taken", v.Seat)
	}
	if t.Seats[v.Seat].HandCommitted > 0 {
		// A mid-hand leaver's chips are still in the pot; the seat
		// frees up when the hand settles.
		return ruleErrorf(CodeCommandFailed, "seat %d frees up after this hand", v.Seat)
	}
	if t.seatByPID(v.PID) != nil {
		return ruleErrorf(CodeCommandFailed, "player %s already seated", v.PID)
	}

	e.commit(v)
	s := &t.Seats[v.Seat]
	*s = Seat{
		ID:         v.Seat,
		PID:        v.PID,
		Nickname:   v.Nickname,
		Chips:      v.Chips,
		State:      SeatActive,
		JoinedHand: t.HandNumber + 1,
	}
	if t.Phase != PhaseWaiting {
		// Mid-hand joins wait for the next deal.
		s.State = SeatWaiting
		e.commit(PlayerWaiting{Seat: s.ID, PID: s.PID})
		e.emit(EmitPlayerWaiting, PlayerWaitingPayload{TableID: t.ID, Seat: s.ID, PlayerID: s.PID})
	}
	return nil
}

func (e *Engine) applyLeave(v PlayerLeave) error {
	t := e.tbl
	s := t.seatByPID(v.PID)
	if s == nil {
		return ruleErrorf(CodeCommandFailed, "player %s not seated", v.PID)
	}

	e.commit(v)
	wasActor := t.Actor == s.ID
	if s.inHand() && bettingPhase(t.Phase) {
		// Leaving mid-hand folds the seat first. The vacated seat
		// keeps its hand commitments so the pots stay whole; they are
		// cleared when the hand settles.
		e.foldSeat(s)
		s.PID = ""
		s.Nickname = ""
		s.Chips = 0
		s.HoleCards = nil
		s.sitOutNext = false
		s.State = SeatEmpty
		if wasActor {
			e.afterAction()
		} else if e.roundComplete() {
			e.finishStreet()
		}
		return nil
	}
	t.Seats[s.ID] = Seat{ID: s.ID, State: SeatEmpty}
	return nil
}

func (e *Engine) applySitOut(v PlayerSitOut) error {
	t := e.tbl
	s := t.seatByPID(v.PID)
	if s == nil {
		return ruleErrorf(CodeCommandFailed, "player %s not seated", v.PID)
	}
	if s.State == SeatSittingOut {
		return ruleErrorf(CodeCommandFailed, "player %s already sitting out", v.PID)
	}

	e.commit(v)
	if s.inHand() && bettingPhase(t.Phase) {
		s.sitOutNext = true
		wasActor := t.Actor == s.ID
		if s.State == SeatActive && s.Chips > 0 {
			e.foldSeat(s)
			if wasActor {
				e.afterAction()
			} else if e.roundComplete() {
				e.finishStreet()
			}
		}
		return nil
	}
	s.State = SeatSittingOut
	s.sitOutNext = false
	return nil
}

func (e *Engine) applySitIn(v PlayerSitIn) error {
	t := e.tbl
	s := t.seatByPID(v.PID)
	if s == nil {
		return ruleErrorf(CodeCommandFailed, "player %s not seated", v.PID)
	}
	if s.State != SeatSittingOut {
		return ruleErrorf(CodeCommandFailed, "player %s is not sitting out", v.PID)
	}

	e.commit(v)
	s.sitOutNext = false
	if t.Phase == PhaseWaiting {
		s.State = SeatActive
	} else {
		s.State = SeatWaiting
		e.commit(PlayerWaiting{Seat: s.ID, PID: s.PID})
		e.emit(EmitPlayerWaiting, PlayerWaitingPayload{TableID: t.ID, Seat: s.ID, PlayerID: s.PID})
	}
	return nil
}

func (e *Engine) applyStartHand(v StartHand) error {
	t := e.tbl
	if t.Phase != PhaseWaiting {
		return ruleErrorf(CodeCommandFailed, "hand already in flight")
	}

	// Seats that joined or sat back in mid-hand play from this deal.
	var participants []int
	for i := range t.Seats {
		s := &t.Seats[i]
		if (s.State == SeatActive || s.State == SeatWaiting) && s.Chips >= t.BigBlind {
			participants = append(participants, i)
		}
	}
	if len(participants) < 2 {
		return ruleErrorf(CodeCommandFailed, "need at least 2 players with %d chips", t.BigBlind)
	}
	for i := range t.Seats {
		s := &t.Seats[i]
		if s.State == SeatWaiting {
			s.State = SeatActive
		}
		if s.State == SeatActive && s.Chips < t.BigBlind {
			// Short stacks sit out until they reload.
			s.State = SeatSittingOut
		}
	}

	e.commit(v)

	t.HandNumber++
	t.Phase = PhasePreflop
	t.Community = nil
	t.Burns = nil
	t.Pots = nil
	t.paidOut = 0
	t.CurrentBet = 0
	t.MinRaise = t.BigBlind
	t.LastAggressor = noSeat
	t.toAct = [NumSeats]bool{}
	for _, i := range participants {
		s := &t.Seats[i]
		s.HoleCards = nil
		s.StreetCommitted = 0
		s.HandCommitted = 0
	}
	t.deck = poker.NewDeck(v.Seed)

	isParticipant := func(s *Seat) bool { return s.State == SeatActive }
	t.Button = t.nextFrom(t.Button, isParticipant)

	headsUp := len(participants) == 2
	if headsUp {
		// Heads-up the dealer posts the small blind.
		t.sbSeat = t.Button
	} else {
		t.sbSeat = t.nextFrom(t.Button, isParticipant)
	}
	t.bbSeat = t.nextFrom(t.sbSeat, isParticipant)

	e.emit(EmitHandStart, HandStartPayload{TableID: t.ID, HandNumber: t.HandNumber, ButtonSeat: t.Button})

	e.postBlind(t.sbSeat, t.SmallBlind, false)
	e.postBlind(t.bbSeat, t.BigBlind, true)
	// The blind defines the price of entry even when posted short.
	t.CurrentBet = t.BigBlind

	e.dealHoleCards(participants)

	// Everyone with chips owes a decision, including the big blind:
	// the forced post is not a voluntary action, so the seat keeps its
	// option until it checks or raises.
	for _, i := range participants {
		if t.Seats[i].canAct() {
			t.toAct[i] = true
		}
	}
	e.trimLoneActor()

	first := e.firstToActPreflop(headsUp)
	if first == noSeat || e.roundComplete() {
		e.finishStreet()
		return nil
	}
	e.setActor(first)
	return nil
}

func (e *Engine) postBlind(seat int, blind int64, big bool) {
	t := e.tbl
	s := &t.Seats[seat]
	amount := blind
	if amount > s.Chips {
		amount = s.Chips
	}
	t.commitChips(s, amount)
	e.commit(PostBlind{Seat: seat, Amount: amount, Big: big})
}

func (e *Engine) dealHoleCards(participants []int) {
	t := e.tbl
	// Two passes, one card at a time, starting left of the button.
	order := make([]int, 0, len(participants))
	idx := t.Button
	for range participants {
		idx = t.nextFrom(idx, func(s *Seat) bool { return s.inHand() })
		order = append(order, idx)
	}
	for pass := 0; pass < 2; pass++ {
		for _, i := range order {
			card, ok := t.deck.Draw()
			if !ok {
				return
			}
			t.Seats[i].HoleCards = append(t.Seats[i].HoleCards, card)
		}
	}
	e.commit(DealHole{Seats: order})
}

func (e *Engine) firstToActPreflop(headsUp bool) int {
	t := e.tbl
	if headsUp {
		if t.toAct[t.Button] && t.Seats[t.Button].canAct() {
			return t.Button
		}
		return t.nextToAct(t.Button)
	}
	return t.nextToAct(t.bbSeat)
}

// nextToAct walks clockwise after idx for a seat owing a decision.
func (t *Table) nextToAct(idx int) int {
	return t.nextFrom(idx, func(s *Seat) bool { return t.toAct[s.ID] && s.canAct() })
}

// trimLoneActor drops the to-act mark from a seat that is alone with
// chips and already matched: with nobody left to bet against there is
// no action to take.
func (e *Engine) trimLoneActor() {
	t := e.tbl
	if t.countCanAct() != 1 {
		return
	}
	for i := range t.Seats {
		s := &t.Seats[i]
		if s.canAct() && t.toAct[i] && s.StreetCommitted >= t.CurrentBet {
			t.toAct[i] = false
		}
	}
}

func (e *Engine) applyAction(v PlayerAction) error {
	t := e.tbl
	s := t.seatByPID(v.PID)
	if s == nil {
		return ruleErrorf(CodeIllegalAction, "player %s not seated", v.PID)
	}
	if !bettingPhase(t.Phase) {
		return ruleErrorf(CodeIllegalAction, "no betting in phase %s", t.Phase)
	}
	if t.Actor != s.ID {
		return ruleErrorf(CodeIllegalAction, "not seat %d's turn", s.ID)
	}

	kind, amount := normalizeAction(t, s, v.Action, v.Amount)
	if err := e.validateAction(s, kind, amount); err != nil {
		return err
	}

	e.commit(v)
	e.performAction(s, kind, amount)
	e.afterAction()
	return nil
}

// normalizeAction maps client intent onto the action the table state
// admits: a tagged BET into a live bet is a raise, and ALLIN becomes
// whatever the resulting commitment makes it.
func normalizeAction(t *Table, s *Seat, kind ActionKind, amount int64) (ActionKind, int64) {
	switch kind {
	case ActionBet:
		if t.CurrentBet > 0 {
			return ActionRaise, amount
		}
	case ActionRaise:
		if t.CurrentBet == 0 {
			return ActionBet, amount
		}
	case ActionAllIn:
		total := s.StreetCommitted + s.Chips
		switch {
		case t.CurrentBet == 0:
			return ActionBet, total
		case total <= t.CurrentBet:
			return ActionCall, 0
		default:
			return ActionRaise, total
		}
	}
	return kind, amount
}

func (e *Engine) validateAction(s *Seat, kind ActionKind, amount int64) error {
	t := e.tbl
	toCall := t.CurrentBet - s.StreetCommitted
	switch kind {
	case ActionFold:
		return nil
	case ActionCheck:
		if toCall != 0 {
			return ruleErrorf(CodeIllegalAction, "cannot check facing a bet of %d", t.CurrentBet)
		}
		return nil
	case ActionCall:
		if toCall <= 0 {
			return ruleErrorf(CodeIllegalAction, "nothing to call")
		}
		return nil
	case ActionBet:
		if t.CurrentBet != 0 {
			return ruleErrorf(CodeIllegalAction, "bet not allowed over a live bet")
		}
		pay := amount - s.StreetCommitted
		if amount <= 0 || pay > s.Chips {
			return ruleErrorf(CodeIllegalAmount, "bet of %d with stack %d", amount, s.Chips)
		}
		if amount < t.BigBlind && pay != s.Chips {
			return ruleErrorf(CodeIllegalAmount, "bet %d below minimum %d", amount, t.BigBlind)
		}
		return nil
	case ActionRaise:
		if t.CurrentBet == 0 {
			return ruleErrorf(CodeIllegalAction, "nothing to raise")
		}
		pay := amount - s.StreetCommitted
		if pay <= 0 || pay > s.Chips {
			return ruleErrorf(CodeIllegalAmount, "raise to %d with stack %d committed %d", amount, s.Chips, s.StreetCommitted)
		}
		increment := amount - t.CurrentBet
		if increment <= 0 {
			return ruleErrorf(CodeIllegalAmount, "raise to %d does not exceed bet %d", amount, t.CurrentBet)
		}
		if increment < t.MinRaise && pay != s.Chips {
			return ruleErrorf(CodeIllegalAmount, "raise increment %d below minimum %d", increment, t.MinRaise)
		}
		return nil
	default:
		return ruleErrorf(CodeIllegalAction, "unknown action %q", kind)
	}
}

// performAction mutates the table for a validated action.
func (e *Engine) performAction(s *Seat, kind ActionKind, amount int64) {
	t := e.tbl
	switch kind {
	case ActionFold:
		e.foldSeat(s)
	case ActionCheck:
		t.toAct[s.ID] = false
	case ActionCall:
		toCall := t.CurrentBet - s.StreetCommitted
		t.commitChips(s, toCall)
		t.toAct[s.ID] = false
	case ActionBet:
		t.commitChips(s, amount-s.StreetCommitted)
		t.MinRaise = s.StreetCommitted
		t.LastAggressor = s.ID
		e.reopenAction(s.ID)
	case ActionRaise:
		increment := amount - t.CurrentBet
		full := increment >= t.MinRaise
		t.commitChips(s, amount-s.StreetCommitted)
		if full {
			// A full raise reopens the betting and resets the bar for
			// the next raise.
			t.MinRaise = increment
			t.LastAggressor = s.ID
			e.reopenAction(s.ID)
		} else {
			// Short all-in: players who already matched keep their
			// round closed.
			t.toAct[s.ID] = false
		}
	}
	e.tbl.rebuildPots()
}

// reopenAction marks every other live seat as owing a decision.
func (e *Engine) reopenAction(aggressor int) {
	t := e.tbl
	for i := range t.Seats {
		if i == aggressor {
			t.toAct[i] = false
			continue
		}
		t.toAct[i] = t.Seats[i].canAct()
	}
}

func (e *Engine) foldSeat(s *Seat) {
	s.State = SeatFolded
	e.tbl.toAct[s.ID] = false
	e.tbl.rebuildPots()
}

func (e *Engine) applyActionTimeout(v ActionTimeout) error {
	t := e.tbl
	if !e.replaying && v.Gen != e.timers.gen(TimerAction) {
		// Stale fire from a cancelled timer.
		return nil
	}
	if t.Actor != v.Seat || !bettingPhase(t.Phase) {
		return nil
	}

	e.commit(v)
	e.emit(EmitTimer, TimerPayload{TableID: t.ID, Countdown: 0})
	s := &t.Seats[v.Seat]
	if t.CurrentBet-s.StreetCommitted == 0 {
		e.performAction(s, ActionCheck, 0)
	} else {
		e.performAction(s, ActionFold, 0)
	}
	e.afterAction()
	return nil
}

// afterAction advances the turn or closes the street.
func (e *Engine) afterAction() {
	t := e.tbl
	e.timers.cancel(TimerAction)
	if e.roundComplete() {
		e.finishStreet()
		return
	}
	next := t.nextToAct(t.Actor)
	if next == noSeat {
		e.finishStreet()
		return
	}
	e.setActor(next)
}

// roundComplete implements the betting-round completion rule. The
// toAct marks encode both the return-to-aggressor condition and the
// big blind's preflop option; a short all-in leaves matched seats
// unmarked, which is the no-reopen rule.
func (e *Engine) roundComplete() bool {
	t := e.tbl
	if len(t.inHandSeats()) <= 1 {
		return true
	}
	if t.countCanAct() == 0 {
		return true
	}
	return !t.anyToAct()
}

func (e *Engine) setActor(seat int) {
	t := e.tbl
	t.Actor = seat
	e.armCountdown(TimerAction, e.cfg.ActionTimeout, seat)
}

// armCountdown starts a timer and commits the CountdownStart that lets
// clients render it. Arming replaces any prior timer of the same kind.
func (e *Engine) armCountdown(kind TimerKind, d time.Duration, seat int) {
	if e.replaying {
		return
	}
	t := e.tbl
	var pid string
	if seat != noSeat {
		pid = t.Seats[seat].PID
	}
	now := time.Now()
	switch kind {
	case TimerAction:
		e.timers.arm(kind, d, func(gen uint64) {
			e.dispatchAsync(ActionTimeout{Seat: seat, Gen: gen})
		})
	case TimerNewHand:
		e.timers.arm(kind, d, func(uint64) {
			if e.cfg.AutoStartHands {
				e.dispatchAsync(StartHand{Seed: e.cfg.SeedFn()})
			}
		})
	case TimerStreetDeal:
		// Client pacing only; nothing to dispatch on expiry.
	}
	e.commit(CountdownStart{Timer: kind, Start: now.UnixMilli(), DurationMs: d.Milliseconds(), Seat: seat, PID: pid})
	meta := map[string]interface{}{}
	if pid != "" {
		meta["seat"] = seat
		meta["playerId"] = pid
	}
	e.emit(EmitCountdown, CountdownPayload{
		TableID:       t.ID,
		CountdownType: string(kind),
		StartTime:     now.UnixMilli(),
		DurationMs:    d.Milliseconds(),
		Metadata:      meta,
	})
}

// finishStreet closes the current betting round: it settles the hand
// if it is over, otherwise deals forward, running out the board when
// nobody is left to bet.
func (e *Engine) finishStreet() {
	t := e.tbl
	t.Actor = noSeat
	e.timers.cancel(TimerAction)

	if len(t.inHandSeats()) <= 1 {
		e.settle(false)
		return
	}
	for {
		if t.Phase == PhaseRiver {
			e.settle(true)
			return
		}
		e.enterNextStreet()
		if t.countCanAct() >= 2 || e.unmatchedLiveSeat() {
			for i := range t.Seats {
				t.toAct[i] = t.Seats[i].canAct()
			}
			e.trimLoneActor()
			first := t.nextToAct(t.Button)
			if first != noSeat {
				e.setActor(first)
				return
			}
		}
		// All-in runout: keep dealing.
	}
}

// unmatchedLiveSeat reports whether a seat with chips still owes chips
// to the pot (a lone live seat facing an all-in).
func (e *Engine) unmatchedLiveSeat() bool {
	t := e.tbl
	for i := range t.Seats {
		s := &t.Seats[i]
		if s.canAct() && s.StreetCommitted < t.CurrentBet {
			return true
		}
	}
	return false
}

func (e *Engine) enterNextStreet() {
	t := e.tbl
	var next Phase
	var deal int
	switch t.Phase {
	case PhasePreflop:
		next, deal = PhaseFlop, 3
	case PhaseFlop:
		next, deal = PhaseTurn, 1
	case PhaseTurn:
		next, deal = PhaseRiver, 1
	default:
		return
	}

	// Street bets move behind the pots; commitments reset.
	for i := range t.Seats {
		t.Seats[i].StreetCommitted = 0
	}
	t.CurrentBet = 0
	t.MinRaise = t.BigBlind
	t.LastAggressor = noSeat
	t.toAct = [NumSeats]bool{}
	t.Phase = next

	if burn, ok := t.deck.Draw(); ok {
		t.Burns = append(t.Burns, burn)
	}
	cards := make([]poker.Card, 0, deal)
	for i := 0; i < deal; i++ {
		if c, ok := t.deck.Draw(); ok {
			t.Community = append(t.Community, c)
			cards = append(cards, c)
		}
	}
	e.commit(EnterStreet{Street: next, Cards: cards})

	switch next {
	case PhaseFlop:
		e.emit(EmitDealFlop, DealFlopPayload{TableID: t.ID, Cards: cards})
	case PhaseTurn:
		e.emit(EmitDealTurn, DealCardPayload{TableID: t.ID, Card: cards[0]})
	case PhaseRiver:
		e.emit(EmitDealRiver, DealCardPayload{TableID: t.ID, Card: cards[0]})
	}
	e.armCountdown(TimerStreetDeal, e.cfg.StreetDealDelay, noSeat)
}
