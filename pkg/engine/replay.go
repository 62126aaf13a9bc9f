package engine

import (
	"fmt"

	"github.com/decred/slog"
)

// Replay re-applies the external events of a log on top of a starting
// snapshot and returns the resulting state. Derived events regenerate
// deterministically because the deck seed travels in StartHand, so a
// finished hand replays to a state identical to the live one. Timers
// and broadcasts are suppressed.
func Replay(start *TableSnapshot, entries []LogEntry) (*TableSnapshot, error) {
	e := &Engine{
		cfg:       Config{TableID: start.ID, SmallBlind: start.SmallBlind, BigBlind: start.BigBlind},
		log:       slog.Disabled,
		tbl:       tableFromSnapshot(start),
		timers:    newTimerSet(),
		replaying: true,
	}
	e.cfg.fillDefaults()

	for _, entry := range entries {
		if !external(entry.Event.Kind()) {
			continue
		}
		if err := e.apply(entry.Event); err != nil {
			if _, ok := AsRuleError(err); ok {
				// A rejected event left no trace live; skip it here too.
				continue
			}
			return nil, fmt.Errorf("replaying seq %d (%s): %w", entry.Seq, entry.Event.Kind(), err)
		}
		if verr := e.checkInvariants(); verr != nil {
			return nil, fmt.Errorf("invariant after seq %d (%s): %w", entry.Seq, entry.Event.Kind(), verr)
		}
	}
	return e.tbl.snapshot(), nil
}
