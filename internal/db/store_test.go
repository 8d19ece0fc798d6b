package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/veltro-project/blazingbarrels/internal/events"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "test.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAdminRosterPersists(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.SeedAdmins([]string{"Root", "ops"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SeedAdmins([]string{"ROOT"}); err != nil {
		t.Fatal(err)
	}
	if !s.IsAdmin("root") || !s.IsAdmin("OPS") || s.IsAdmin("alice") {
		t.Fatalf("got roster %v", s.Admins())
	}
	if err := s.RemoveAdmin("ops"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if got := reopened.Admins(); len(got) != 1 || got[0] != "Root" {
		t.Fatalf("got %v want [Root]", got)
	}
}

func TestSessionsAndKillsFromEvents(t *testing.T) {
	s, _ := newTestStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	s.Subscribe(bus)

	ctx := context.Background()
	t0 := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	emit := func(typ events.EventType, at time.Time, payload interface{}) {
		t.Helper()
		if err := bus.EmitSync(ctx, events.Event{Type: typ, Time: at, Payload: payload}); err != nil {
			t.Fatal(err)
		}
	}

	emit(events.EventPlayerJoined, t0, events.PlayerJoinedPayload{Name: "alice", Address: "127.0.0.1:6001"})
	emit(events.EventPlayerJoined, t0, events.PlayerJoinedPayload{Name: "bob", Address: "127.0.0.1:6002", Admin: true})
	emit(events.EventPlayerKilled, t0.Add(time.Second), events.PlayerKilledPayload{Victim: "bob", Killer: "alice", Weapon: 4})
	emit(events.EventPlayerKilled, t0.Add(2*time.Second), events.PlayerKilledPayload{Victim: "alice", Killer: "bob", Weapon: 2, Distance: 120})
	emit(events.EventPlayerKilled, t0.Add(3*time.Second), events.PlayerKilledPayload{Victim: "bob", Killer: "alice", Weapon: 0})
	emit(events.EventPlayerLeft, t0.Add(4*time.Second), events.PlayerLeftPayload{Name: "Alice", Reason: "kick"})

	sessions, err := s.RecentSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions want 2", len(sessions))
	}
	bob, alice := sessions[0], sessions[1]
	if bob.LeftAt != nil || !bob.Admin {
		t.Fatalf("bob session %+v", bob)
	}
	if alice.LeftAt == nil || alice.Reason != "kick" || !alice.JoinedAt.Equal(t0) {
		t.Fatalf("alice session %+v", alice)
	}

	kills, err := s.RecentKills(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(kills) != 2 || kills[0].Killer != "alice" || kills[1].Distance != 120 {
		t.Fatalf("got kills %+v", kills)
	}

	board, err := s.Leaderboard(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 || board[0] != (KillCount{Name: "alice", Kills: 2}) {
		t.Fatalf("got leaderboard %+v", board)
	}

	n, err := s.CloseOpenSessions("shutdown", time.Now())
	if err != nil || n != 1 {
		t.Fatalf("closed %d sessions, err %v", n, err)
	}
}

func TestCleanupKeepsRecentAndOpenRows(t *testing.T) {
	s, _ := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.OpenSession("old", "", false, false, old))
	must(s.CloseSession("old", "quit", old))
	must(s.OpenSession("lingering", "", false, false, old))
	must(s.OpenSession("new", "", false, false, recent))
	must(s.CloseSession("new", "quit", recent))
	must(s.RecordKill("a", "b", 1, 0, old))
	must(s.RecordKill("a", "b", 1, 0, recent))

	res, err := s.Cleanup(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if res.Sessions != 1 || res.Kills != 1 {
		t.Fatalf("got %+v want 1 session and 1 kill", res)
	}

	sessions, _ := s.RecentSessions(10)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions want 2", len(sessions))
	}
}

func TestHistoryFileUsesWAL(t *testing.T) {
	s, _ := newTestStore(t)
	rows, err := s.db.Query("PRAGMA journal_mode")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var mode string
	if !rows.Next() {
		t.Fatal("no journal mode row")
	}
	if err := rows.Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("got journal mode %q want wal", mode)
	}
}
