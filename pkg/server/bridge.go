package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"github.com/holdemlab/dealerd/pkg/engine"
	"github.com/holdemlab/dealerd/pkg/poker"
)

// BridgeConfig wires the bridge's collaborators.
type BridgeConfig struct {
	Sessions  *SessionManager
	Registry  *SeatRegistry
	Store     Store
	Directory []LobbyTable

	ActionTimeout time.Duration
	AutoStart     bool

	Log slog.Logger
}

// Bridge translates client commands into engine events and fans engine
// broadcasts back out to subscribed sessions, sanitizing snapshots per
// viewer. It holds no game state of its own.
type Bridge struct {
	log      slog.Logger
	sessions *SessionManager
	registry *SeatRegistry
	store    Store

	actionTimeout time.Duration
	autoStart     bool

	mu      sync.RWMutex
	engines map[string]*engine.Engine
	lobby   map[string]LobbyTable
	order   []string
}

// NewBridge creates the bridge and pre-creates an engine for every
// directory table.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	b := &Bridge{
		log:           cfg.Log,
		sessions:      cfg.Sessions,
		registry:      cfg.Registry,
		store:         cfg.Store,
		actionTimeout: cfg.ActionTimeout,
		autoStart:     cfg.AutoStart,
		engines:       make(map[string]*engine.Engine),
		lobby:         make(map[string]LobbyTable),
	}
	for _, lt := range cfg.Directory {
		b.addTable(lt)
	}
	b.loadPersistedTables()
	return b
}

// loadPersistedTables restores engines for dynamically created tables
// that survived a restart under room: keys. Directory tables restore
// their snapshots inside addTable.
func (b *Bridge) loadPersistedTables() {
	keys, err := b.store.KeysWithPrefix(roomKeyPrefix)
	if err != nil {
		b.log.Warnf("listing persisted rooms: %v", err)
		return
	}
	for _, key := range keys {
		id := key[len(roomKeyPrefix):]
		if _, ok := b.engineFor(id); ok {
			continue
		}
		snap, err := b.loadRoomSnapshot(id)
		if err != nil {
			b.log.Warnf("restoring room %s: %v", id, err)
			continue
		}
		b.addTable(NewLobbyTable(id, id, snap.SmallBlind, snap.BigBlind, "low"))
	}
}

func (b *Bridge) loadRoomSnapshot(tableID string) (*engine.TableSnapshot, error) {
	raw, ok, err := b.store.Get(roomKeyPrefix + tableID)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("no snapshot")
		}
		return nil, err
	}
	var snap engine.TableSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (b *Bridge) addTable(lt LobbyTable) *engine.Engine {
	engCfg := engine.Config{
		TableID:        lt.ID,
		SmallBlind:     lt.Blinds.Small,
		BigBlind:       lt.Blinds.Big,
		ActionTimeout:  b.actionTimeout,
		AutoStartHands: b.autoStart,
		Log:            b.log,
	}
	var eng *engine.Engine
	if snap, err := b.loadRoomSnapshot(lt.ID); err == nil {
		eng = engine.Restore(engCfg, snap)
	} else {
		eng = engine.New(engCfg)
	}
	eng.Subscribe(b.broadcast)
	b.mu.Lock()
	b.engines[lt.ID] = eng
	b.lobby[lt.ID] = lt
	b.order = append(b.order, lt.ID)
	b.mu.Unlock()
	return eng
}

// Lobby returns the table catalog in creation order.
func (b *Bridge) Lobby() []LobbyTable {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]LobbyTable, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.lobby[id])
	}
	return out
}

// TableCount reports the number of live engines.
func (b *Bridge) TableCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.engines)
}

func (b *Bridge) engineFor(tableID string) (*engine.Engine, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	eng, ok := b.engines[tableID]
	return eng, ok
}

// Close shuts down every engine.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, eng := range b.engines {
		eng.Close()
	}
}

// HandleCommand validates and routes one client command.
func (b *Bridge) HandleCommand(sess *Session, cmd Command) {
	switch cmd.Type {
	case CmdListTables:
		b.send(sess, EvtTableList, TableListPayload{Tables: b.Lobby()})
	case CmdJoinTable:
		b.handleJoinTable(sess, cmd)
	case CmdCreateTable:
		b.handleCreateTable(sess, cmd)
	case CmdSit:
		b.handleSit(sess, cmd)
	case CmdLeave:
		b.handleLeave(sess)
	case CmdSitOut:
		b.handleSitToggle(sess, true)
	case CmdSitIn:
		b.handleSitToggle(sess, false)
	case CmdAction:
		b.handleAction(sess, cmd)
	case CmdAttach:
		b.handleAttach(sess, cmd)
	case CmdReattach:
		// REATTACH rebinds the transport; the connection layer owns it.
		b.sendError(sess, CodeCommandFailed, "REATTACH must be the first frame on a new connection")
	default:
		b.log.Debugf("session %s: unknown command %q", sess.ID, cmd.Type)
		b.sendError(sess, CodeUnknownCommand, fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

// canonicalID resolves the identity a command acts as: an explicit
// playerId wins and is bound to the session, then the session's bound
// user, then the raw session id.
func (b *Bridge) canonicalID(sess *Session, cmd Command) string {
	if cmd.PlayerID != "" {
		norm := NormalizeUserID(cmd.PlayerID)
		if err := b.sessions.Bind(sess, norm); err != nil {
			b.log.Debugf("session %s: binding %q: %v", sess.ID, norm, err)
		}
		return norm
	}
	if sess.UserID != "" {
		return sess.UserID
	}
	return NormalizeUserID(sess.ID)
}

func (b *Bridge) handleAttach(sess *Session, cmd Command) {
	if cmd.UserID == "" {
		b.sendError(sess, CodeCommandFailed, "ATTACH requires userId")
		return
	}
	if err := b.sessions.Bind(sess, cmd.UserID); err != nil {
		b.sendError(sess, CodeCommandFailed, err.Error())
		return
	}
	b.send(sess, EvtSession, SessionPayload{SessionID: sess.ID, UserID: sess.UserID})
}

func (b *Bridge) handleJoinTable(sess *Session, cmd Command) {
	if cmd.TableID == "" {
		b.sendError(sess, CodeCommandFailed, "JOIN_TABLE requires tableId")
		return
	}
	eng, ok := b.engineFor(cmd.TableID)
	if !ok {
		b.sendError(sess, CodeTableNotFound, fmt.Sprintf("no table %q", cmd.TableID))
		return
	}
	b.sessions.SetRoom(sess, cmd.TableID)
	b.sendSnapshot(sess, eng.Snapshot())
}

func (b *Bridge) handleCreateTable(sess *Session, cmd Command) {
	name := cmd.Name
	if name == "" {
		b.sendError(sess, CodeCommandFailed, "CREATE_TABLE requires name")
		return
	}
	id := "table-" + uuid.NewString()[:8]
	lt := NewLobbyTable(id, name, 5, 10, "low")
	b.addTable(lt)
	payload, err := frame(EvtTableCreated, TableCreatedPayload{Table: lt})
	if err != nil {
		b.log.Errorf("encoding TABLE_CREATED: %v", err)
		return
	}
	// Everyone sees new tables, not just the creator.
	for _, other := range b.sessions.All() {
		b.sessions.Send(other, payload)
	}
}

func (b *Bridge) handleSit(sess *Session, cmd Command) {
	tableID := cmd.TableID
	if tableID == "" {
		tableID = sess.RoomID
	}
	if tableID == "" {
		b.sendError(sess, CodeCommandFailed, "SIT requires tableId")
		return
	}
	eng, ok := b.engineFor(tableID)
	if !ok {
		b.sendError(sess, CodeTableNotFound, fmt.Sprintf("no table %q", tableID))
		return
	}
	if cmd.Seat == nil || *cmd.Seat < 0 || *cmd.Seat >= engine.NumSeats {
		b.sendError(sess, CodeCommandFailed, "SIT requires seat 0-8")
		return
	}

	b.mu.RLock()
	lt := b.lobby[tableID]
	b.mu.RUnlock()
	chips := cmd.Chips
	if chips == 0 {
		chips = lt.BuyIn.Default
	}
	if chips < lt.BuyIn.Min || chips > lt.BuyIn.Max {
		b.sendError(sess, engine.CodeIllegalAmount,
			fmt.Sprintf("buy-in %d outside %d-%d", chips, lt.BuyIn.Min, lt.BuyIn.Max))
		return
	}

	pid := b.canonicalID(sess, cmd)
	nickname := sess.Nickname
	if nickname == "" {
		nickname = pid
	}
	err := eng.Dispatch(engine.PlayerJoin{Seat: *cmd.Seat, PID: pid, Nickname: nickname, Chips: chips})
	if err != nil {
		b.reject(sess, eng, err)
		return
	}
	b.registry.Set(tableID, pid, *cmd.Seat)
	b.sessions.UpdateSeat(sess, tableID, *cmd.Seat, chips, nickname)
	b.saveRoomAsync(eng)
}

func (b *Bridge) handleLeave(sess *Session) {
	eng, pid, ok := b.seatContext(sess)
	if !ok {
		b.sendError(sess, CodeCommandFailed, "not at a table")
		return
	}
	if err := eng.Dispatch(engine.PlayerLeave{PID: pid}); err != nil {
		b.reject(sess, eng, err)
		return
	}
	b.registry.RemovePlayer(eng.TableID(), pid)
	b.sessions.UpdateSeat(sess, "", -1, 0, "")
	b.saveRoomAsync(eng)
}

func (b *Bridge) handleSitToggle(sess *Session, out bool) {
	eng, pid, ok := b.seatContext(sess)
	if !ok {
		b.sendError(sess, CodeCommandFailed, "not at a table")
		return
	}
	var err error
	if out {
		err = eng.Dispatch(engine.PlayerSitOut{PID: pid})
	} else {
		err = eng.Dispatch(engine.PlayerSitIn{PID: pid})
	}
	if err != nil {
		b.reject(sess, eng, err)
		return
	}
	b.saveRoomAsync(eng)
}

// seatContext resolves the session's current engine and canonical id.
func (b *Bridge) seatContext(sess *Session) (*engine.Engine, string, bool) {
	if sess.RoomID == "" {
		return nil, "", false
	}
	eng, ok := b.engineFor(sess.RoomID)
	if !ok {
		return nil, "", false
	}
	pid := sess.UserID
	if pid == "" {
		pid = NormalizeUserID(sess.ID)
	}
	return eng, pid, true
}

var allowedActions = map[string]engine.ActionKind{
	"FOLD":  engine.ActionFold,
	"CHECK": engine.ActionCheck,
	"CALL":  engine.ActionCall,
	"BET":   engine.ActionBet,
	"RAISE": engine.ActionRaise,
	"ALLIN": engine.ActionAllIn,
}

func (b *Bridge) handleAction(sess *Session, cmd Command) {
	if sess.RoomID == "" {
		b.sendError(sess, CodeCommandFailed, "not at a table")
		return
	}
	eng, ok := b.engineFor(sess.RoomID)
	if !ok {
		b.sendError(sess, CodeTableNotFound, fmt.Sprintf("no table %q", sess.RoomID))
		return
	}
	kind, ok := allowedActions[cmd.Action]
	if !ok {
		b.sendError(sess, engine.CodeIllegalAction, fmt.Sprintf("unknown action %q", cmd.Action))
		return
	}
	if (kind == engine.ActionBet || kind == engine.ActionRaise) && cmd.Amount <= 0 {
		b.sendError(sess, engine.CodeIllegalAmount, "amount must be positive")
		return
	}

	pid := b.resolveSeatIdentity(sess, eng, cmd)
	if err := eng.Dispatch(engine.PlayerAction{PID: pid, Action: kind, Amount: cmd.Amount}); err != nil {
		b.reject(sess, eng, err)
		return
	}
}

// resolveSeatIdentity finds the identity actually seated for this
// session, repairing the seat registry when it has drifted: a missing
// mapping is rebuilt from the engine's seats, and a seat held under
// the raw session id is rebound to the canonical identity.
func (b *Bridge) resolveSeatIdentity(sess *Session, eng *engine.Engine, cmd Command) string {
	tableID := eng.TableID()
	pid := b.canonicalID(sess, cmd)
	raw := NormalizeUserID(sess.ID)
	snap := eng.Snapshot()
	if seat, ok := b.registry.SeatOf(tableID, pid); ok {
		// A mapping repaired from the raw session id points at a seat
		// the engine still holds under that id.
		if raw != pid && snap.Seats[seat].PID == raw {
			return raw
		}
		return pid
	}

	for _, seat := range snap.Seats {
		if seat.State == engine.SeatEmpty {
			continue
		}
		if seat.PID == pid {
			b.log.Debugf("table %s: repairing seat mapping for %s -> seat %d", tableID, pid, seat.ID)
			b.registry.Set(tableID, pid, seat.ID)
			return pid
		}
	}

	// The seat may be held under the raw session id from before an
	// ATTACH; repair it to the canonical identity.
	if raw != pid {
		for _, seat := range snap.Seats {
			if seat.State != engine.SeatEmpty && seat.PID == raw {
				b.log.Debugf("table %s: rebinding seat %d from session id to %s", tableID, seat.ID, pid)
				b.registry.Set(tableID, pid, seat.ID)
				return raw
			}
		}
	}
	return pid
}

// reject surfaces an engine error and resyncs the offending client
// with a fresh snapshot.
func (b *Bridge) reject(sess *Session, eng *engine.Engine, err error) {
	if re, ok := engine.AsRuleError(err); ok {
		b.log.Debugf("session %s: rejected: %v", sess.ID, re)
		b.sendError(sess, re.Code, re.Reason)
	} else {
		b.log.Errorf("session %s: dispatch failed: %v", sess.ID, err)
		b.sendError(sess, CodeCommandFailed, err.Error())
	}
	b.sendSnapshot(sess, eng.Snapshot())
}

// broadcast fans one dispatch's emissions out to every session in the
// room. Snapshots are sanitized per viewer; everything else goes out
// verbatim. This runs on the engine loop, so broadcasts preserve event
// order per table.
func (b *Bridge) broadcast(tableID string, emits []engine.Emitted) {
	viewers := b.sessions.InRoom(tableID)
	var snapshotted bool
	for _, em := range emits {
		if em.Type == engine.EmitSnapshot {
			snap, ok := em.Payload.(*engine.TableSnapshot)
			if !ok {
				continue
			}
			for _, sess := range viewers {
				b.sendSnapshot(sess, snap)
			}
			if !snapshotted {
				snapshotted = true
				go b.saveRoomSnapshotAsync(snap)
			}
			continue
		}
		payload, err := frame(em.Type, em.Payload)
		if err != nil {
			b.log.Errorf("encoding %s broadcast: %v", em.Type, err)
			continue
		}
		for _, sess := range viewers {
			b.sessions.Send(sess, payload)
		}
	}
}

// sendSnapshot delivers a per-viewer sanitized snapshot.
func (b *Bridge) sendSnapshot(sess *Session, snap *engine.TableSnapshot) {
	viewer := sess.UserID
	if viewer == "" {
		viewer = NormalizeUserID(sess.ID)
	}
	payload, err := frame(engine.EmitSnapshot, SnapshotPayload{
		TableID: snap.ID,
		Table:   SanitizeSnapshot(snap, viewer),
	})
	if err != nil {
		b.log.Errorf("encoding snapshot: %v", err)
		return
	}
	b.sessions.Send(sess, payload)
}

// SanitizeSnapshot strips everything a viewer must not see: the deck,
// other seats' hole cards, and any non-card values that might have
// crept into the board or burn lists. This is the single choke point
// between engine state and client eyes.
func SanitizeSnapshot(snap *engine.TableSnapshot, viewerPID string) *engine.TableSnapshot {
	out := *snap
	out.DeckRemaining = nil
	out.CommunityCards = filterCards(snap.CommunityCards)
	out.Burns = filterCards(snap.Burns)
	out.Seats = make([]engine.SeatSnapshot, len(snap.Seats))
	for i, seat := range snap.Seats {
		out.Seats[i] = seat
		if seat.PID != viewerPID {
			out.Seats[i].HoleCards = nil
		} else {
			out.Seats[i].HoleCards = filterCards(seat.HoleCards)
		}
	}
	return &out
}

func filterCards(cards []poker.Card) []poker.Card {
	out := make([]poker.Card, 0, len(cards))
	for _, c := range cards {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// HandleDisconnect runs the disconnect flow: announce the drop to the
// table, then hand the session to the grace timer. If the grace
// expires the seat is vacated. conn identifies the transport that
// closed so a stale close cannot clobber a reattached session.
func (b *Bridge) HandleDisconnect(sess *Session, conn Conn) {
	if sess.RoomID != "" && sess.Seat >= 0 {
		pid := sess.UserID
		if pid == "" {
			pid = NormalizeUserID(sess.ID)
		}
		payload, err := frame(EvtPlayerDisconnected, PlayerDisconnectedPayload{
			TableID:  sess.RoomID,
			Seat:     sess.Seat,
			PlayerID: pid,
		})
		if err == nil {
			for _, other := range b.sessions.InRoom(sess.RoomID) {
				if other != sess {
					b.sessions.Send(other, payload)
				}
			}
		}
		b.broadcastReconnectCountdown(sess.RoomID, sess.Seat, pid)
	}

	b.sessions.HandleDisconnect(sess, conn, func(expired *Session) {
		if expired.RoomID == "" || expired.Seat < 0 {
			return
		}
		eng, ok := b.engineFor(expired.RoomID)
		if !ok {
			return
		}
		pid := expired.UserID
		if pid == "" {
			pid = NormalizeUserID(expired.ID)
		}
		if err := eng.Dispatch(engine.PlayerLeave{PID: pid}); err != nil {
			b.log.Debugf("vacating seat for expired session %s: %v", expired.ID, err)
			return
		}
		b.registry.RemovePlayer(expired.RoomID, pid)
		b.saveRoomAsync(eng)
	})
}

// broadcastReconnectCountdown lets the table render the grace window.
func (b *Bridge) broadcastReconnectCountdown(tableID string, seat int, pid string) {
	payload, err := frame(engine.EmitCountdown, engine.CountdownPayload{
		TableID:       tableID,
		CountdownType: string(engine.TimerReconnect),
		StartTime:     time.Now().UnixMilli(),
		DurationMs:    b.sessions.Grace().Milliseconds(),
		Metadata:      map[string]interface{}{"seat": seat, "playerId": pid},
	})
	if err != nil {
		return
	}
	for _, sess := range b.sessions.InRoom(tableID) {
		b.sessions.Send(sess, payload)
	}
}

// saveRoomAsync persists the engine's current snapshot best-effort.
func (b *Bridge) saveRoomAsync(eng *engine.Engine) {
	go b.saveRoomSnapshotAsync(eng.Snapshot())
}

func (b *Bridge) saveRoomSnapshotAsync(snap *engine.TableSnapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		b.log.Errorf("encoding room %s: %v", snap.ID, err)
		return
	}
	if err := b.store.Set(roomKeyPrefix+snap.ID, raw); err != nil {
		b.log.Warnf("persisting room %s: %v", snap.ID, err)
	}
}

func (b *Bridge) send(sess *Session, typ string, payload interface{}) {
	raw, err := frame(typ, payload)
	if err != nil {
		b.log.Errorf("encoding %s: %v", typ, err)
		return
	}
	b.sessions.Send(sess, raw)
}

func (b *Bridge) sendError(sess *Session, code, msg string) {
	b.send(sess, EvtError, ErrorPayload{Code: code, Msg: msg})
}
