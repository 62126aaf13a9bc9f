package poker

import "sort"

// Pot is a single pot: the chips collected at one commitment layer and
// the set of seats entitled to contest it.
type Pot struct {
	Amount   int64        `json:"amount"`
	Eligible map[int]bool `json:"eligible"`
}

// IsEligible reports whether the seat can win this pot.
func (p Pot) IsEligible(seat int) bool { return p.Eligible[seat] }

// BuildPots constructs the main pot and any side pots from each seat's
// total commitment this hand. committed[i] is seat i's handCommitted;
// folded[i] marks seats whose chips stay in the pot but who cannot win.
//
// Pots are layered by distinct commitment level ascending: the layer at
// level L collects min(committed, L) - min(committed, prevL) from every
// seat, and is contested by the non-folded seats that reached L. A bet
// nobody matched therefore forms a top layer only its owner is eligible
// for, which is how uncalled chips find their way home at payout.
func BuildPots(committed []int64, folded []bool) []Pot {
	levels := make([]int64, 0, len(committed))
	seen := make(map[int64]bool)
	for i, c := range committed {
		// Folded seats do not open layers of their own; their chips are
		// absorbed into the layers live seats reach.
		if c > 0 && !folded[i] && !seen[c] {
			seen[c] = true
			levels = append(levels, c)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	if len(levels) == 0 {
		// Everyone with chips in has folded; a single dead pot.
		var total int64
		for _, c := range committed {
			total += c
		}
		if total == 0 {
			return nil
		}
		return []Pot{{Amount: total, Eligible: map[int]bool{}}}
	}

	pots := make([]Pot, 0, len(levels))
	var prev int64
	for _, level := range levels {
		pot := Pot{Eligible: make(map[int]bool)}
		for i, c := range committed {
			in := c
			if in > level {
				in = level
			}
			if in > prev {
				pot.Amount += in - prev
			}
			if !folded[i] && c >= level {
				pot.Eligible[i] = true
			}
		}
		pots = append(pots, pot)
		prev = level
	}

	// A folded seat can have committed past the highest live level;
	// those chips are dead and fall into the top pot.
	for _, c := range committed {
		if c > prev {
			pots[len(pots)-1].Amount += c - prev
		}
	}

	// Collapse empty trailing layers produced by identical commitments.
	out := pots[:0]
	for _, p := range pots {
		if p.Amount > 0 {
			out = append(out, p)
		}
	}
	return out
}

// TotalPot sums all pot amounts.
func TotalPot(pots []Pot) int64 {
	var total int64
	for _, p := range pots {
		total += p.Amount
	}
	return total
}
