package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/require"

	"github.com/holdemlab/dealerd/pkg/engine"
	"github.com/holdemlab/dealerd/pkg/poker"
)

func cardList(vals ...int) []poker.Card {
	out := make([]poker.Card, 0, len(vals))
	for _, v := range vals {
		out = append(out, poker.Card(v))
	}
	return out
}

type testRig struct {
	bridge   *Bridge
	sessions *SessionManager
	registry *SeatRegistry
	store    Store
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store := NewMemStore()
	sessions := NewSessionManager(store, time.Minute, slog.Disabled)
	registry := NewSeatRegistry()
	bridge := NewBridge(BridgeConfig{
		Sessions:      sessions,
		Registry:      registry,
		Store:         store,
		Directory:     DefaultDirectory(),
		ActionTimeout: time.Hour,
		Log:           slog.Disabled,
	})
	t.Cleanup(bridge.Close)
	return &testRig{bridge: bridge, sessions: sessions, registry: registry, store: store}
}

func (r *testRig) connect(t *testing.T, userID string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess := r.sessions.Create(conn)
	if userID != "" {
		r.bridge.HandleCommand(sess, Command{Type: CmdAttach, UserID: userID})
	}
	return sess, conn
}

func (r *testRig) sit(t *testing.T, sess *Session, tableID string, seat int, chips int64) {
	t.Helper()
	r.bridge.HandleCommand(sess, Command{Type: CmdJoinTable, TableID: tableID})
	r.bridge.HandleCommand(sess, Command{Type: CmdSit, TableID: tableID, Seat: &seat, Chips: chips})
}

func TestListTables(t *testing.T) {
	r := newTestRig(t)
	sess, conn := r.connect(t, "")
	r.bridge.HandleCommand(sess, Command{Type: CmdListTables})

	lists := conn.typed(t, EvtTableList)
	require.Len(t, lists, 1)
	tables := lists[0]["tables"].([]interface{})
	require.Len(t, tables, len(DefaultDirectory()))
}

func TestUnknownCommand(t *testing.T) {
	r := newTestRig(t)
	sess, conn := r.connect(t, "")
	r.bridge.HandleCommand(sess, Command{Type: "DANCE"})

	errs := conn.typed(t, EvtError)
	require.Len(t, errs, 1)
	require.Equal(t, CodeUnknownCommand, errs[0]["code"])
}

func TestJoinUnknownTable(t *testing.T) {
	r := newTestRig(t)
	sess, conn := r.connect(t, "")
	r.bridge.HandleCommand(sess, Command{Type: CmdJoinTable, TableID: "nope"})

	errs := conn.typed(t, EvtError)
	require.Len(t, errs, 1)
	require.Equal(t, CodeTableNotFound, errs[0]["code"])
}

func TestSitBindsSeatAndRegistry(t *testing.T) {
	r := newTestRig(t)
	sess, conn := r.connect(t, "Alice")
	r.sit(t, sess, "low-1", 2, 1000)

	seat, ok := r.registry.SeatOf("low-1", "alice")
	require.True(t, ok)
	require.Equal(t, 2, seat)
	require.Equal(t, "low-1", sess.RoomID)
	require.Equal(t, 2, sess.Seat)
	require.True(t, r.registry.ValidateConsistency("low-1"))
	require.Empty(t, conn.typed(t, EvtError))
}

func TestSitBuyInBounds(t *testing.T) {
	r := newTestRig(t)
	sess, conn := r.connect(t, "alice")
	seat := 0
	r.bridge.HandleCommand(sess, Command{Type: CmdJoinTable, TableID: "low-1"})
	r.bridge.HandleCommand(sess, Command{Type: CmdSit, TableID: "low-1", Seat: &seat, Chips: 5})

	errs := conn.typed(t, EvtError)
	require.NotEmpty(t, errs)
	require.Equal(t, engine.CodeIllegalAmount, errs[0]["code"])
}

func TestSnapshotSanitizedPerViewer(t *testing.T) {
	r := newTestRig(t)
	alice, aliceConn := r.connect(t, "alice")
	bob, bobConn := r.connect(t, "bob")
	r.sit(t, alice, "low-1", 0, 1000)
	r.sit(t, bob, "low-1", 1, 1000)

	eng, ok := r.bridge.engineFor("low-1")
	require.True(t, ok)
	require.NoError(t, eng.Dispatch(engine.StartHand{Seed: 42}))

	assertNoLeak := func(conn *fakeConn, ownPID string) {
		snaps := conn.typed(t, engine.EmitSnapshot)
		require.NotEmpty(t, snaps)
		for _, snap := range snaps {
			table, ok := snap["table"].(map[string]interface{})
			if !ok {
				continue
			}
			require.Nil(t, table["deckRemaining"], "deck must never reach a client")
			seats, _ := table["seats"].([]interface{})
			for _, raw := range seats {
				seat := raw.(map[string]interface{})
				if seat["pid"] == ownPID {
					continue
				}
				require.Nil(t, seat["holeCards"],
					"viewer %s saw hole cards of %v", ownPID, seat["pid"])
			}
		}
	}
	assertNoLeak(aliceConn, "alice")
	assertNoLeak(bobConn, "bob")

	// Each player does see their own cards once the hand is dealt.
	own := func(conn *fakeConn, pid string) bool {
		for _, snap := range conn.typed(t, engine.EmitSnapshot) {
			table, ok := snap["table"].(map[string]interface{})
			if !ok {
				continue
			}
			seats, _ := table["seats"].([]interface{})
			for _, raw := range seats {
				seat := raw.(map[string]interface{})
				if seat["pid"] == pid && seat["holeCards"] != nil {
					return true
				}
			}
		}
		return false
	}
	require.True(t, own(aliceConn, "alice"))
	require.True(t, own(bobConn, "bob"))
}

func TestActionSelfHealsRegistry(t *testing.T) {
	r := newTestRig(t)
	alice, _ := r.connect(t, "alice")
	bob, _ := r.connect(t, "bob")
	r.sit(t, alice, "low-1", 0, 1000)
	r.sit(t, bob, "low-1", 1, 1000)

	eng, _ := r.bridge.engineFor("low-1")
	require.NoError(t, eng.Dispatch(engine.StartHand{Seed: 42}))

	// Simulate registry drift: the mapping is gone but the engine
	// still seats alice.
	r.registry.RemovePlayer("low-1", "alice")
	_, ok := r.registry.SeatOf("low-1", "alice")
	require.False(t, ok)

	r.bridge.HandleCommand(alice, Command{Type: CmdAction, Action: "CALL"})

	// The mapping was repaired and the action applied.
	seat, ok := r.registry.SeatOf("low-1", "alice")
	require.True(t, ok)
	require.Equal(t, 0, seat)
	snap := eng.Snapshot()
	require.Equal(t, int64(10), snap.Seats[0].StreetCommitted)
}

func TestActionValidation(t *testing.T) {
	r := newTestRig(t)
	alice, conn := r.connect(t, "alice")
	bob, _ := r.connect(t, "bob")
	r.sit(t, alice, "low-1", 0, 1000)
	r.sit(t, bob, "low-1", 1, 1000)

	eng, _ := r.bridge.engineFor("low-1")
	require.NoError(t, eng.Dispatch(engine.StartHand{Seed: 42}))

	r.bridge.HandleCommand(alice, Command{Type: CmdAction, Action: "JUGGLE"})
	errs := conn.typed(t, EvtError)
	require.NotEmpty(t, errs)
	require.Equal(t, engine.CodeIllegalAction, errs[len(errs)-1]["code"])

	r.bridge.HandleCommand(alice, Command{Type: CmdAction, Action: "RAISE"})
	errs = conn.typed(t, EvtError)
	require.Equal(t, engine.CodeIllegalAmount, errs[len(errs)-1]["code"])
}

func TestRejectedActionResyncsWithSnapshot(t *testing.T) {
	r := newTestRig(t)
	alice, _ := r.connect(t, "alice")
	bob, bobConn := r.connect(t, "bob")
	r.sit(t, alice, "low-1", 0, 1000)
	r.sit(t, bob, "low-1", 1, 1000)

	eng, _ := r.bridge.engineFor("low-1")
	require.NoError(t, eng.Dispatch(engine.StartHand{Seed: 42}))
	before := len(bobConn.typed(t, engine.EmitSnapshot))

	// Bob acts out of turn: error plus a fresh snapshot to resync.
	r.bridge.HandleCommand(bob, Command{Type: CmdAction, Action: "CHECK"})
	errs := bobConn.typed(t, EvtError)
	require.NotEmpty(t, errs)
	require.Equal(t, engine.CodeIllegalAction, errs[len(errs)-1]["code"])
	require.Greater(t, len(bobConn.typed(t, engine.EmitSnapshot)), before)
}

func TestCreateTableAnnounced(t *testing.T) {
	r := newTestRig(t)
	alice, aliceConn := r.connect(t, "alice")
	_, bobConn := r.connect(t, "bob")

	r.bridge.HandleCommand(alice, Command{Type: CmdCreateTable, Name: "Backroom"})

	created := aliceConn.typed(t, EvtTableCreated)
	require.Len(t, created, 1)
	table := created[0]["table"].(map[string]interface{})
	require.Equal(t, "Backroom", table["name"])
	require.Len(t, bobConn.typed(t, EvtTableCreated), 1)

	id := table["id"].(string)
	_, ok := r.bridge.engineFor(id)
	require.True(t, ok)
}

func TestLeaveClearsBindings(t *testing.T) {
	r := newTestRig(t)
	alice, _ := r.connect(t, "alice")
	r.sit(t, alice, "low-1", 0, 1000)

	r.bridge.HandleCommand(alice, Command{Type: CmdLeave})
	_, ok := r.registry.SeatOf("low-1", "alice")
	require.False(t, ok)
	require.Equal(t, "", alice.RoomID)
	require.Equal(t, -1, alice.Seat)
}

func TestRoomSnapshotPersisted(t *testing.T) {
	r := newTestRig(t)
	alice, _ := r.connect(t, "alice")
	r.sit(t, alice, "low-1", 0, 1000)

	require.Eventually(t, func() bool {
		_, ok, err := r.store.Get(roomKeyPrefix + "low-1")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeRestoresPersistedTables(t *testing.T) {
	store := NewMemStore()
	snap := &engine.TableSnapshot{
		ID:         "backroom-1",
		SmallBlind: 5,
		BigBlind:   10,
		Phase:      engine.PhaseWaiting,
		ButtonSeat: -1,
		ActorSeat:  -1,
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, store.Set(roomKeyPrefix+"backroom-1", raw))

	sessions := NewSessionManager(store, time.Minute, slog.Disabled)
	bridge := NewBridge(BridgeConfig{
		Sessions:      sessions,
		Registry:      NewSeatRegistry(),
		Store:         store,
		Directory:     DefaultDirectory(),
		ActionTimeout: time.Hour,
		Log:           slog.Disabled,
	})
	t.Cleanup(bridge.Close)

	eng, ok := bridge.engineFor("backroom-1")
	require.True(t, ok)
	require.Equal(t, engine.PhaseWaiting, eng.Snapshot().Phase)
	require.Len(t, bridge.Lobby(), len(DefaultDirectory())+1)
}

func TestSanitizeSnapshotDirect(t *testing.T) {
	snap := &engine.TableSnapshot{
		ID: "t",
		Seats: []engine.SeatSnapshot{
			{ID: 0, PID: "alice", HoleCards: cardList(1, 2), State: engine.SeatActive},
			{ID: 1, PID: "bob", HoleCards: cardList(3, 4), State: engine.SeatActive},
		},
		CommunityCards: cardList(5, 6, 999), // 999 is not a card
		DeckRemaining:  cardList(7, 8),
	}
	out := SanitizeSnapshot(snap, "alice")
	require.Nil(t, out.DeckRemaining)
	require.Len(t, out.CommunityCards, 2)
	require.NotEmpty(t, out.Seats[0].HoleCards)
	require.Nil(t, out.Seats[1].HoleCards)

	// The original snapshot is untouched.
	require.NotEmpty(t, snap.Seats[1].HoleCards)
	require.Len(t, snap.CommunityCards, 3)
}
