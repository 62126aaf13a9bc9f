package engine

import (
	"github.com/holdemlab/dealerd/pkg/poker"
)

// Broadcast types fanned out to subscribers. The bridge forwards these
// to clients verbatim, except TABLE_SNAPSHOT which it sanitizes per
// viewer before sending.
const (
	EmitSnapshot      = "TABLE_SNAPSHOT"
	EmitHandStart     = "HAND_START"
	EmitDealFlop      = "DEAL_FLOP"
	EmitDealTurn      = "DEAL_TURN"
	EmitDealRiver     = "DEAL_RIVER"
	EmitHandEnd       = "HAND_END"
	EmitWinner        = "WINNER_ANNOUNCEMENT"
	EmitCountdown     = "COUNTDOWN_START"
	EmitTimer         = "TIMER"
	EmitPlayerWaiting = "PLAYER_WAITING"
)

// Emitted is one broadcast produced while applying an event. For
// EmitSnapshot the payload is the full unsanitized *TableSnapshot.
type Emitted struct {
	Type    string
	Payload interface{}
}

// Subscriber receives, in emission order, the broadcasts produced by a
// single dispatched event. It is invoked on the engine loop: the
// dispatch does not return until every subscriber has run.
type Subscriber func(tableID string, emits []Emitted)

// HandStartPayload announces a new hand.
type HandStartPayload struct {
	TableID    string `json:"tableId"`
	HandNumber uint64 `json:"handNumber"`
	ButtonSeat int    `json:"buttonSeat"`
}

// DealFlopPayload carries the three flop cards.
type DealFlopPayload struct {
	TableID string       `json:"tableId"`
	Cards   []poker.Card `json:"cards"`
}

// DealCardPayload carries the turn or river card.
type DealCardPayload struct {
	TableID string     `json:"tableId"`
	Card    poker.Card `json:"card"`
}

// HandEndPayload announces settlement is complete.
type HandEndPayload struct {
	TableID    string `json:"tableId"`
	HandNumber uint64 `json:"handNumber"`
}

// WinnerSeat identifies one winner of a pot.
type WinnerSeat struct {
	Seat     int    `json:"seat"`
	PlayerID string `json:"playerId"`
}

// WinnerAnnouncementPayload reports the award of a single pot.
type WinnerAnnouncementPayload struct {
	TableID   string       `json:"tableId"`
	Winners   []WinnerSeat `json:"winners"`
	PotAmount int64        `json:"potAmount"`
	PotIndex  int          `json:"potIndex"`
}

// CountdownPayload mirrors a committed CountdownStart for clients.
type CountdownPayload struct {
	TableID       string                 `json:"tableId"`
	CountdownType string                 `json:"countdownType"`
	StartTime     int64                  `json:"startTime"`
	DurationMs    int64                  `json:"durationMs"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// TimerPayload is sent when an action countdown expires.
type TimerPayload struct {
	TableID   string `json:"tableId"`
	Countdown int    `json:"countdown"`
}

// PlayerWaitingPayload reports a seat waiting for the next hand.
type PlayerWaitingPayload struct {
	TableID  string `json:"tableId"`
	Seat     int    `json:"seat"`
	PlayerID string `json:"playerId"`
}
