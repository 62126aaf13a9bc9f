package poker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPotsSingleLevel(t *testing.T) {
	pots := BuildPots([]int64{10, 10, 10}, []bool{false, false, false})
	require.Len(t, pots, 1)
	require.Equal(t, int64(30), pots[0].Amount)
	for seat := 0; seat < 3; seat++ {
		require.True(t, pots[0].IsEligible(seat))
	}
}

func TestBuildPotsShortAllInSidePot(t *testing.T) {
	// Stacks 100/100/30, everyone all-in: main pot 90 for all three,
	// side pot 140 for the two big stacks.
	pots := BuildPots([]int64{100, 100, 30}, []bool{false, false, false})
	require.Len(t, pots, 2)

	require.Equal(t, int64(90), pots[0].Amount)
	require.True(t, pots[0].IsEligible(0))
	require.True(t, pots[0].IsEligible(1))
	require.True(t, pots[0].IsEligible(2))

	require.Equal(t, int64(140), pots[1].Amount)
	require.True(t, pots[1].IsEligible(0))
	require.True(t, pots[1].IsEligible(1))
	require.False(t, pots[1].IsEligible(2))

	require.Equal(t, int64(230), TotalPot(pots))
}

func TestBuildPotsFoldedChipsAreDeadMoney(t *testing.T) {
	// Seat 1 folded after committing 20; its chips stay in the pot but
	// it can win nothing.
	pots := BuildPots([]int64{50, 20, 50}, []bool{false, true, false})
	require.Len(t, pots, 1)
	require.Equal(t, int64(120), pots[0].Amount)
	require.False(t, pots[0].IsEligible(1))
	require.True(t, pots[0].IsEligible(0))
	require.True(t, pots[0].IsEligible(2))
}

func TestBuildPotsUncalledBetTopLayer(t *testing.T) {
	// Seat 0 bet 80, seat 1 called only 50 all-in, seat 2 folded at 10.
	// The uncalled 30 forms a top layer only seat 0 can win, which is
	// how it finds its way back.
	pots := BuildPots([]int64{80, 50, 10}, []bool{false, false, true})
	require.Len(t, pots, 2)

	require.Equal(t, int64(110), pots[0].Amount) // 50+50+10 dead
	require.True(t, pots[0].IsEligible(0))
	require.True(t, pots[0].IsEligible(1))

	require.Equal(t, int64(30), pots[1].Amount)
	require.True(t, pots[1].IsEligible(0))
	require.False(t, pots[1].IsEligible(1))
}

func TestBuildPotsFoldedOverpayFallsIntoTopPot(t *testing.T) {
	// A seat that folded after committing more than any live seat
	// leaves its surplus as dead money in the top pot.
	pots := BuildPots([]int64{40, 60, 0}, []bool{false, true, false})
	require.Len(t, pots, 1)
	require.Equal(t, int64(100), pots[0].Amount)
	require.True(t, pots[0].IsEligible(0))
	require.False(t, pots[0].IsEligible(1))
}

func TestBuildPotsAllFolded(t *testing.T) {
	pots := BuildPots([]int64{5, 10, 0}, []bool{true, true, true})
	require.Len(t, pots, 1)
	require.Equal(t, int64(15), pots[0].Amount)
	require.Empty(t, pots[0].Eligible)
}

func TestBuildPotsEmpty(t *testing.T) {
	require.Nil(t, BuildPots([]int64{0, 0}, []bool{false, false}))
}

func TestBuildPotsThreeLevels(t *testing.T) {
	pots := BuildPots([]int64{10, 40, 100, 100}, []bool{false, false, false, false})
	require.Len(t, pots, 3)
	require.Equal(t, int64(40), pots[0].Amount)  // 10 x 4
	require.Equal(t, int64(90), pots[1].Amount)  // 30 x 3
	require.Equal(t, int64(120), pots[2].Amount) // 60 x 2
	require.Equal(t, int64(250), TotalPot(pots))
	require.True(t, pots[0].IsEligible(0))
	require.False(t, pots[1].IsEligible(0))
	require.True(t, pots[1].IsEligible(1))
	require.False(t, pots[2].IsEligible(1))
	require.True(t, pots[2].IsEligible(2))
	require.True(t, pots[2].IsEligible(3))
}
