package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, small, big int64) *Engine {
	t.Helper()
	e := New(Config{
		TableID:       "t1",
		SmallBlind:    small,
		BigBlind:      big,
		ActionTimeout: time.Hour, // scenarios drive actions themselves
	})
	t.Cleanup(e.Close)
	return e
}

func seatPlayers(t *testing.T, e *Engine, chips ...int64) {
	t.Helper()
	for i, c := range chips {
		err := e.Dispatch(PlayerJoin{Seat: i, PID: pid(i), Chips: c})
		require.NoError(t, err)
	}
}

func pid(i int) string {
	return string(rune('a' + i))
}

func act(t *testing.T, e *Engine, seat int, kind ActionKind, amount int64) {
	t.Helper()
	require.NoError(t, e.Dispatch(PlayerAction{PID: pid(seat), Action: kind, Amount: amount}))
}

func chipTotal(snap *TableSnapshot) int64 {
	var total int64
	for _, s := range snap.Seats {
		total += s.Chips + s.HandCommitted
	}
	return total
}

func payoutOf(t *testing.T, entries []LogEntry) Payout {
	t.Helper()
	for _, le := range entries {
		if p, ok := le.Event.(Payout); ok {
			return p
		}
	}
	t.Fatal("no Payout in log")
	return Payout{}
}

func countKind(entries []LogEntry, kind EventKind) int {
	n := 0
	for _, le := range entries {
		if le.Event.Kind() == kind {
			n++
		}
	}
	return n
}

// Walk: the button folds preflop and the big blind collects the
// blinds uncontested.
func TestWalk(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 1}))

	snap := e.Snapshot()
	require.Equal(t, PhasePreflop, snap.Phase)
	require.Equal(t, 0, snap.ButtonSeat)
	// Heads-up the dealer posts the small blind and acts first.
	require.Equal(t, 0, snap.ActorSeat)
	require.Equal(t, int64(5), snap.Seats[0].StreetCommitted)
	require.Equal(t, int64(10), snap.Seats[1].StreetCommitted)

	act(t, e, 0, ActionFold, 0)

	snap = e.Snapshot()
	require.Equal(t, PhaseWaiting, snap.Phase)
	require.Equal(t, int64(95), snap.Seats[0].Chips)
	require.Equal(t, int64(105), snap.Seats[1].Chips)
	require.Equal(t, int64(200), chipTotal(snap))

	entries := e.EventLog()
	require.Equal(t, 1, countKind(entries, EvHandEnd))
	p := payoutOf(t, entries)
	require.Len(t, p.Distributions, 1)
	require.Equal(t, int64(15), p.Distributions[0].Amount)
	require.Equal(t, 1, p.Distributions[0].Seat)
	require.Equal(t, reasonUncontested, p.Distributions[0].Reason)
}

// Limp-check-down: both players check every street; showdown awards
// the 20-chip pot and chips are conserved.
func TestLimpCheckDown(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 7}))

	act(t, e, 0, ActionCall, 0)
	// The big blind keeps its option after the forced post.
	snap := e.Snapshot()
	require.Equal(t, PhasePreflop, snap.Phase)
	require.Equal(t, 1, snap.ActorSeat)
	act(t, e, 1, ActionCheck, 0)

	for _, street := range []Phase{PhaseFlop, PhaseTurn, PhaseRiver} {
		snap = e.Snapshot()
		require.Equal(t, street, snap.Phase)
		// Post-flop the non-dealer acts first heads-up.
		require.Equal(t, 1, snap.ActorSeat)
		act(t, e, 1, ActionCheck, 0)
		act(t, e, 0, ActionCheck, 0)
	}

	snap = e.Snapshot()
	require.Equal(t, PhaseWaiting, snap.Phase)
	require.Len(t, snap.CommunityCards, 5)
	require.Equal(t, int64(200), chipTotal(snap))

	entries := e.EventLog()
	require.Equal(t, 1, countKind(entries, EvShowdown))
	var paid int64
	for _, d := range payoutOf(t, entries).Distributions {
		paid += d.Amount
	}
	require.Equal(t, int64(20), paid)
}

// 3-bet all-in: both stacks go in preflop, the board runs out with no
// further actions and one 200-chip pot is awarded at showdown.
func TestThreeBetAllIn(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 11}))

	act(t, e, 0, ActionRaise, 30)
	act(t, e, 1, ActionRaise, 100)
	act(t, e, 0, ActionCall, 0)

	snap := e.Snapshot()
	require.Equal(t, PhaseWaiting, snap.Phase)
	require.Len(t, snap.CommunityCards, 5)
	require.Equal(t, int64(200), chipTotal(snap))

	entries := e.EventLog()
	require.Equal(t, 1, countKind(entries, EvShowdown))
	dists := payoutOf(t, entries).Distributions
	var paid int64
	for _, d := range dists {
		paid += d.Amount
	}
	require.Equal(t, int64(200), paid)
	// No actions were possible after the call.
	require.Equal(t, 3, countKind(entries, EvAction))
}

// Short all-in side pot: stacks 100/100/30 all-in preflop build a
// 90-chip main pot for everyone and a 140-chip side pot for the two
// covering stacks, each evaluated independently.
func TestShortAllInSidePots(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100, 30)
	require.NoError(t, e.Dispatch(StartHand{Seed: 3}))

	snap := e.Snapshot()
	require.Equal(t, 0, snap.ButtonSeat)
	// Multi-way: small blind 1, big blind 2, button under the gun.
	require.Equal(t, 0, snap.ActorSeat)

	act(t, e, 0, ActionAllIn, 0)
	act(t, e, 1, ActionAllIn, 0)
	act(t, e, 2, ActionAllIn, 0)

	snap = e.Snapshot()
	require.Equal(t, PhaseWaiting, snap.Phase)
	require.Equal(t, int64(230), chipTotal(snap))

	perPot := map[int]int64{}
	eligible := map[int]map[int]bool{}
	for _, d := range payoutOf(t, e.EventLog()).Distributions {
		perPot[d.Pot] += d.Amount
		if eligible[d.Pot] == nil {
			eligible[d.Pot] = map[int]bool{}
		}
		eligible[d.Pot][d.Seat] = true
	}
	require.Equal(t, int64(90), perPot[0])
	require.Equal(t, int64(140), perPot[1])
	// The short stack can never win chips from the side pot.
	require.False(t, eligible[1][2])
}

// A short all-in raise below the minimum does not reopen action for a
// player who already matched the previous bet.
func TestShortAllInDoesNotReopenAction(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 500, 500, 45)
	require.NoError(t, e.Dispatch(StartHand{Seed: 5}))

	act(t, e, 0, ActionRaise, 30)
	act(t, e, 1, ActionFold, 0)
	// Seat 2 shoves to 45: an increment of 15 against a minimum of 20.
	act(t, e, 2, ActionAllIn, 0)

	// The hand must have run out without seat 0 acting again.
	snap := e.Snapshot()
	require.Equal(t, PhaseWaiting, snap.Phase)
	require.Equal(t, 3, countKind(e.EventLog(), EvAction))

	// Seat 2's uncalled 15 came back as a single-eligible side pot.
	perPot := map[int]int64{}
	for _, d := range payoutOf(t, e.EventLog()).Distributions {
		perPot[d.Pot] += d.Amount
	}
	require.Equal(t, int64(15), perPot[1])
	require.Equal(t, int64(1045), chipTotal(snap))
}

// ActionTimeout folds a player facing a bet; the pot goes to the
// opponent.
func TestActionTimeoutFoldsFacingBet(t *testing.T) {
	e := New(Config{
		TableID:       "t1",
		SmallBlind:    5,
		BigBlind:      10,
		ActionTimeout: 40 * time.Millisecond,
	})
	t.Cleanup(e.Close)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 13}))

	// Seat 0 faces the big blind and never acts.
	require.Eventually(t, func() bool {
		return e.Snapshot().Phase == PhaseWaiting
	}, 2*time.Second, 10*time.Millisecond)

	snap := e.Snapshot()
	require.Equal(t, int64(95), snap.Seats[0].Chips)
	require.Equal(t, int64(105), snap.Seats[1].Chips)
	require.Equal(t, 1, countKind(e.EventLog(), EvActionTimeout))
}

// ActionTimeout checks when checking is legal.
func TestActionTimeoutChecksWhenLegal(t *testing.T) {
	e := New(Config{
		TableID:       "t1",
		SmallBlind:    5,
		BigBlind:      10,
		ActionTimeout: 40 * time.Millisecond,
	})
	t.Cleanup(e.Close)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 17}))

	act(t, e, 0, ActionCall, 0)
	// The big blind's option times out; a check is legal so the hand
	// continues to the flop instead of folding.
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.Phase != PhasePreflop
	}, 2*time.Second, 10*time.Millisecond)

	snap := e.Snapshot()
	for _, s := range snap.Seats[:2] {
		require.NotEqual(t, SeatFolded, s.State)
	}
}

func TestBetBelowMinimumRejected(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 19}))

	act(t, e, 0, ActionCall, 0)
	act(t, e, 1, ActionCheck, 0)

	// Flop, seat 1 first. A 5-chip bet is below the big blind.
	err := e.Dispatch(PlayerAction{PID: pid(1), Action: ActionBet, Amount: 5})
	re, ok := AsRuleError(err)
	require.True(t, ok)
	require.Equal(t, CodeIllegalAmount, re.Code)

	// State unchanged: still seat 1's turn.
	require.Equal(t, 1, e.Snapshot().ActorSeat)
}

func TestActingOutOfTurnRejected(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 23}))

	err := e.Dispatch(PlayerAction{PID: pid(1), Action: ActionCheck})
	re, ok := AsRuleError(err)
	require.True(t, ok)
	require.Equal(t, CodeIllegalAction, re.Code)
}

func TestCheckFacingBetRejected(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 29}))

	err := e.Dispatch(PlayerAction{PID: pid(0), Action: ActionCheck})
	re, ok := AsRuleError(err)
	require.True(t, ok)
	require.Equal(t, CodeIllegalAction, re.Code)
}

// A client-tagged BET into a live bet is treated as a raise.
func TestBetNormalizedToRaise(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 31}))

	act(t, e, 0, ActionBet, 30)
	snap := e.Snapshot()
	require.Equal(t, int64(30), snap.CurrentBet)
	require.Equal(t, 0, snap.LastAggressor)
	require.Equal(t, int64(20), snap.MinRaise)
}

// A seat whose whole stack is the blind posts all-in and contests only
// the main pot, capped at its contribution.
func TestBlindPostedAllIn(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100, 10)
	require.NoError(t, e.Dispatch(StartHand{Seed: 37}))

	snap := e.Snapshot()
	require.Equal(t, SeatAllIn, snap.Seats[2].State)
	require.Equal(t, int64(0), snap.Seats[2].Chips)

	// Button calls, small blind completes, and the live stacks check
	// the hand down around the all-in blind.
	act(t, e, 0, ActionCall, 0)
	act(t, e, 1, ActionCall, 0)
	for _, street := range []Phase{PhaseFlop, PhaseTurn, PhaseRiver} {
		require.Equal(t, street, e.Snapshot().Phase)
		act(t, e, 1, ActionCheck, 0)
		act(t, e, 0, ActionCheck, 0)
	}

	snap = e.Snapshot()
	require.Equal(t, PhaseWaiting, snap.Phase)
	require.Equal(t, int64(210), chipTotal(snap))

	// One level of commitment, one pot, the short stack contests it.
	p := payoutOf(t, e.EventLog())
	perPot := map[int]int64{}
	for _, d := range p.Distributions {
		perPot[d.Pot] += d.Amount
	}
	require.Equal(t, int64(30), perPot[0])
	require.Len(t, perPot, 1)
}

func TestStartHandNeedsTwoPlayers(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100)
	err := e.Dispatch(StartHand{Seed: 41})
	re, ok := AsRuleError(err)
	require.True(t, ok)
	require.Equal(t, CodeCommandFailed, re.Code)
	require.Equal(t, PhaseWaiting, e.Snapshot().Phase)
}

func TestButtonRotates(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 1000, 1000, 1000)
	require.NoError(t, e.Dispatch(StartHand{Seed: 43}))
	require.Equal(t, 0, e.Snapshot().ButtonSeat)

	// Everyone folds to the big blind to end the hand quickly.
	act(t, e, 0, ActionFold, 0)
	act(t, e, 1, ActionFold, 0)
	require.Equal(t, PhaseWaiting, e.Snapshot().Phase)

	require.NoError(t, e.Dispatch(StartHand{Seed: 47}))
	require.Equal(t, 1, e.Snapshot().ButtonSeat)
}

// Leaving mid-hand on one's turn folds first, then vacates the seat;
// committed chips stay in the pot.
func TestLeaveMidHandImplicitFold(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 53}))

	require.NoError(t, e.Dispatch(PlayerLeave{PID: pid(0)}))

	snap := e.Snapshot()
	require.Equal(t, SeatEmpty, snap.Seats[0].State)
	require.Equal(t, PhaseWaiting, snap.Phase)
	// The blind the leaver posted went to the winner.
	require.Equal(t, int64(105), snap.Seats[1].Chips)
}

func TestMidHandJoinWaitsForNextHand(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100)
	require.NoError(t, e.Dispatch(StartHand{Seed: 59}))

	require.NoError(t, e.Dispatch(PlayerJoin{Seat: 5, PID: "late", Chips: 200}))
	snap := e.Snapshot()
	require.Equal(t, SeatWaiting, snap.Seats[5].State)

	act(t, e, 0, ActionFold, 0)
	// After settlement the late joiner is dealt in.
	require.NoError(t, e.Dispatch(StartHand{Seed: 61}))
	snap = e.Snapshot()
	require.Equal(t, SeatActive, snap.Seats[5].State)
	require.Len(t, snap.Seats[5].HoleCards, 2)
}

func TestSitOutSkippedAtDeal(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 100, 100, 100)
	require.NoError(t, e.Dispatch(PlayerSitOut{PID: pid(2)}))
	require.NoError(t, e.Dispatch(StartHand{Seed: 67}))

	snap := e.Snapshot()
	require.Equal(t, SeatSittingOut, snap.Seats[2].State)
	require.Empty(t, snap.Seats[2].HoleCards)

	// Heads-up rules apply to the two remaining players.
	require.Equal(t, 0, snap.ActorSeat)
}

func TestChipConservationAcrossHands(t *testing.T) {
	e := testEngine(t, 5, 10)
	seatPlayers(t, e, 300, 300, 300)

	seeds := []int64{71, 73, 79}
	for _, seed := range seeds {
		if err := e.Dispatch(StartHand{Seed: seed}); err != nil {
			break
		}
		// Shove every hand; the engine runs the board out.
		for i := 0; i < 3; i++ {
			snap := e.Snapshot()
			if snap.Phase == PhaseWaiting {
				break
			}
			actor := snap.ActorSeat
			if actor < 0 {
				break
			}
			_ = e.Dispatch(PlayerAction{PID: snap.Seats[actor].PID, Action: ActionAllIn})
		}
		require.Equal(t, PhaseWaiting, e.Snapshot().Phase)
		require.Equal(t, int64(900), chipTotal(e.Snapshot()))
	}
}
