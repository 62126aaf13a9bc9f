package engine

import (
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"
)

// Defaults for the table clocks.
const (
	DefaultActionTimeout   = 15 * time.Second
	DefaultStreetDealDelay = 800 * time.Millisecond
	DefaultNewHandDelay    = 5 * time.Second
)

// Config describes a table engine.
type Config struct {
	TableID    string
	SmallBlind int64
	BigBlind   int64

	ActionTimeout   time.Duration
	StreetDealDelay time.Duration
	NewHandDelay    time.Duration

	// AutoStartHands makes the engine attempt a StartHand when the
	// newHand countdown expires.
	AutoStartHands bool
	// SeedFn supplies deck seeds for auto-started hands. A fixed source
	// can be injected; the default is time-derived.
	SeedFn func() int64

	Log slog.Logger
}

func (c *Config) fillDefaults() {
	if c.ActionTimeout == 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.StreetDealDelay == 0 {
		c.StreetDealDelay = DefaultStreetDealDelay
	}
	if c.NewHandDelay == 0 {
		c.NewHandDelay = DefaultNewHandDelay
	}
	if c.SeedFn == nil {
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		var mu sync.Mutex
		c.SeedFn = func() int64 {
			mu.Lock()
			defer mu.Unlock()
			return src.Int63()
		}
	}
	if c.Log == nil {
		c.Log = slog.Disabled
	}
}

type request struct {
	ev    Event
	reply chan error
	snap  chan *TableSnapshot
	logq  chan []LogEntry
}

// Engine is the authoritative per-table hand machine. Events are
// serialized through a single loop goroutine: exactly one event is in
// flight at a time and concurrent dispatches queue in FIFO order.
type Engine struct {
	cfg Config
	log slog.Logger

	tbl     *Table
	entries []LogEntry
	seq     uint64

	reqs chan request
	done chan struct{}
	once sync.Once

	subMu sync.RWMutex
	subs  []Subscriber

	timers *timerSet

	// Per-dispatch scratch state, only touched on the loop goroutine.
	emits     []Emitted
	committed int

	// replaying suppresses timers and emissions while re-applying a
	// log; see Replay.
	replaying bool
}

// New creates an engine and starts its event loop.
func New(cfg Config) *Engine {
	cfg.fillDefaults()
	e := &Engine{
		cfg:    cfg,
		log:    cfg.Log,
		tbl:    newTable(cfg.TableID, cfg.SmallBlind, cfg.BigBlind),
		reqs:   make(chan request),
		done:   make(chan struct{}),
		timers: newTimerSet(),
	}
	go e.run()
	return e
}

// Restore creates an engine from a persisted snapshot and starts its
// loop. A hand that was in flight is abandoned back to waiting; chips
// and seating survive.
func Restore(cfg Config, snap *TableSnapshot) *Engine {
	cfg.fillDefaults()
	tbl := tableFromSnapshot(snap)
	if tbl.Phase != PhaseWaiting {
		tbl.Phase = PhaseWaiting
		tbl.Actor = noSeat
		tbl.CurrentBet = 0
		tbl.MinRaise = 0
		tbl.LastAggressor = noSeat
		tbl.Pots = nil
		for i := range tbl.Seats {
			s := &tbl.Seats[i]
			if s.State == SeatEmpty || s.State == SeatSittingOut {
				continue
			}
			// Committed chips go back to their stacks: the interrupted
			// hand never settled.
			s.Chips += s.HandCommitted
			s.StreetCommitted = 0
			s.HandCommitted = 0
			s.HoleCards = nil
			s.State = SeatActive
		}
	}
	e := &Engine{
		cfg:    cfg,
		log:    cfg.Log,
		tbl:    tbl,
		reqs:   make(chan request),
		done:   make(chan struct{}),
		timers: newTimerSet(),
	}
	go e.run()
	return e
}

// TableID returns the table's identifier.
func (e *Engine) TableID() string { return e.cfg.TableID }

// Subscribe registers a broadcast subscriber.
func (e *Engine) Subscribe(fn Subscriber) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs = append(e.subs, fn)
}

// Dispatch applies an event. It returns after the event and every
// synchronously derived event have been applied, subscribers notified
// and timers armed. A returned RuleError means the event was rejected
// and state is unchanged.
func (e *Engine) Dispatch(ev Event) error {
	req := request{ev: ev, reply: make(chan error, 1)}
	select {
	case e.reqs <- req:
		return <-req.reply
	case <-e.done:
		return ErrClosed
	}
}

// dispatchAsync feeds timer expiries back into the loop.
func (e *Engine) dispatchAsync(ev Event) {
	go func() {
		if err := e.Dispatch(ev); err != nil && err != ErrClosed {
			if _, ok := AsRuleError(err); !ok {
				e.log.Errorf("table %s: async %s: %v", e.cfg.TableID, ev.Kind(), err)
			}
		}
	}()
}

// Snapshot returns the current table state, serialized through the
// event loop.
func (e *Engine) Snapshot() *TableSnapshot {
	req := request{snap: make(chan *TableSnapshot, 1)}
	select {
	case e.reqs <- req:
		return <-req.snap
	case <-e.done:
		return e.tbl.snapshot()
	}
}

// EventLog returns a copy of the append-only log.
func (e *Engine) EventLog() []LogEntry {
	req := request{logq: make(chan []LogEntry, 1)}
	select {
	case e.reqs <- req:
		return <-req.logq
	case <-e.done:
		return append([]LogEntry(nil), e.entries...)
	}
}

// Close stops the loop and cancels all timers. In-flight events drain
// to completion first.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.timers.stopAll()
		close(e.done)
	})
}

func (e *Engine) run() {
	for {
		select {
		case req := <-e.reqs:
			e.serve(req)
		case <-e.done:
			for {
				select {
				case req := <-e.reqs:
					if req.reply != nil {
						req.reply <- ErrClosed
					}
					if req.snap != nil {
						req.snap <- e.tbl.snapshot()
					}
					if req.logq != nil {
						req.logq <- append([]LogEntry(nil), e.entries...)
					}
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) serve(req request) {
	if req.snap != nil {
		req.snap <- e.tbl.snapshot()
		return
	}
	if req.logq != nil {
		req.logq <- append([]LogEntry(nil), e.entries...)
		return
	}

	e.emits = nil
	e.committed = 0
	err := e.apply(req.ev)
	if err == nil && e.committed > 0 {
		if verr := e.checkInvariants(); verr != nil {
			e.log.Errorf("table %s: invariant violated after %s: %v",
				e.cfg.TableID, req.ev.Kind(), verr)
			e.abortHand()
		}
		e.emit(EmitSnapshot, e.tbl.snapshot())
	}
	if len(e.emits) > 0 {
		e.notify(e.emits)
	}
	req.reply <- err
}

// apply routes an external event to its handler. Derived kinds are not
// accepted from outside.
func (e *Engine) apply(ev Event) error {
	switch v := ev.(type) {
	case PlayerJoin:
		return e.applyJoin(v)
	case PlayerLeave:
		return e.applyLeave(v)
	case PlayerSitOut:
		return e.applySitOut(v)
	case PlayerSitIn:
		return e.applySitIn(v)
	case StartHand:
		return e.applyStartHand(v)
	case PlayerAction:
		return e.applyAction(v)
	case ActionTimeout:
		return e.applyActionTimeout(v)
	default:
		return ruleErrorf(CodeCommandFailed, "event %s cannot be dispatched externally", ev.Kind())
	}
}

// commit appends an event to the log and re-derives the pots.
func (e *Engine) commit(ev Event) {
	e.seq++
	e.entries = append(e.entries, LogEntry{Seq: e.seq, At: time.Now(), Event: ev})
	e.committed++
	e.tbl.rebuildPots()
}

func (e *Engine) emit(typ string, payload interface{}) {
	if e.replaying {
		return
	}
	e.emits = append(e.emits, Emitted{Type: typ, Payload: payload})
}

func (e *Engine) notify(emits []Emitted) {
	if e.replaying {
		return
	}
	e.subMu.RLock()
	subs := append([]Subscriber(nil), e.subs...)
	e.subMu.RUnlock()
	for _, fn := range subs {
		fn(e.cfg.TableID, emits)
	}
}

// abortHand is the invariant-violation escape hatch: the table is
// forced back to waiting and stays available for new hands.
func (e *Engine) abortHand() {
	t := e.tbl
	e.timers.stopAll()
	for i := range t.Seats {
		s := &t.Seats[i]
		if s.State == SeatEmpty || s.State == SeatSittingOut {
			continue
		}
		s.Chips += s.HandCommitted
		s.StreetCommitted = 0
		s.HandCommitted = 0
		s.HoleCards = nil
		s.State = SeatActive
	}
	t.Phase = PhaseWaiting
	t.Actor = noSeat
	t.CurrentBet = 0
	t.MinRaise = 0
	t.LastAggressor = noSeat
	t.Pots = nil
	t.paidOut = 0
}

// checkInvariants verifies the structural invariants that must hold
// after every committed event.
func (e *Engine) checkInvariants() error {
	t := e.tbl
	if t.Actor != noSeat {
		s := &t.Seats[t.Actor]
		if !s.canAct() {
			return ruleErrorf(CodeCommandFailed, "actor seat %d is %s with %d chips", t.Actor, s.State, s.Chips)
		}
	}
	var committed int64
	var maxStreet int64
	for i := range t.Seats {
		s := &t.Seats[i]
		committed += s.HandCommitted
		if s.inHand() && s.StreetCommitted > maxStreet {
			maxStreet = s.StreetCommitted
		}
	}
	if t.CurrentBet < maxStreet {
		return ruleErrorf(CodeCommandFailed, "currentBet %d below street max %d", t.CurrentBet, maxStreet)
	}
	if got, want := t.potTotal(), committed-t.paidOut; got != want {
		return ruleErrorf(CodeCommandFailed, "pot total %d != committed %d - paid %d", got, committed, t.paidOut)
	}
	return nil
}
