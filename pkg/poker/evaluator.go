package poker

import (
	"fmt"

	evallib "github.com/chehsunliu/poker"
)

// HandRank classifies the strength category of a five-card hand.
type HandRank int

const (
	HighCard HandRank = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
)

// HandValue is the evaluation of a seat's best five-card hand out of
// hole cards plus community cards.
type HandValue struct {
	Rank        HandRank
	Score       int32 // chehsunliu rank: lower is better
	Description string
}

func toEvalCard(c Card) (evallib.Card, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("invalid card code %d", int(c))
	}
	return evallib.NewCard(c.String()), nil
}

func rankFromClass(class int32) HandRank {
	switch class {
	case 1:
		return StraightFlush
	case 2:
		return FourOfAKind
	case 3:
		return FullHouse
	case 4:
		return Flush
	case 5:
		return Straight
	case 6:
		return ThreeOfAKind
	case 7:
		return TwoPair
	case 8:
		return Pair
	default:
		return HighCard
	}
}

// Evaluate finds the best five-card hand from the union of hole and
// community cards. Between five and seven cards must be supplied.
func Evaluate(hole, community []Card) (HandValue, error) {
	all := make([]Card, 0, len(hole)+len(community))
	all = append(all, hole...)
	all = append(all, community...)
	if len(all) < 5 || len(all) > 7 {
		return HandValue{}, fmt.Errorf("evaluate needs 5-7 cards, got %d", len(all))
	}

	cards := make([]evallib.Card, 0, len(all))
	for _, c := range all {
		ec, err := toEvalCard(c)
		if err != nil {
			return HandValue{}, err
		}
		cards = append(cards, ec)
	}

	score := evallib.Evaluate(cards)
	return HandValue{
		Rank:        rankFromClass(evallib.RankClass(score)),
		Score:       score,
		Description: evallib.RankString(score),
	}, nil
}

// Compare returns 1 if a beats b, -1 if b beats a and 0 on a tie.
// The underlying library scores lower-is-better; this inverts it to
// the usual comparison contract.
func Compare(a, b HandValue) int {
	switch {
	case a.Score < b.Score:
		return 1
	case a.Score > b.Score:
		return -1
	default:
		return 0
	}
}
