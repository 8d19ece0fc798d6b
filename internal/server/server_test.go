package server

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/protocol"
)

func testSettings(t *testing.T, password string) Settings {
	t.Helper()
	s := DefaultSettings()
	s.DeauthDelay = time.Hour
	s.InboundQueueSize = 64
	s.OutboundQueueSize = 1024
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatal(err)
		}
		s.PasswordHash = hash
	}
	return s
}

func newTestServer(t *testing.T, settings Settings, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	s := New(settings, opts...)
	t.Cleanup(s.deauth.Close)
	return s
}

func addrFor(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// step feeds packets from the given address and runs one cycle, returning
// what the cycle sent.
func step(s *Server, from *net.UDPAddr, bodies ...protocol.Body) []protocol.Packet {
	for _, b := range bodies {
		s.inbound <- protocol.Packet{Addr: from, Body: b}
	}
	s.Cycle(context.Background())
	return drain(s)
}

func drain(s *Server) []protocol.Packet {
	var out []protocol.Packet
	for {
		select {
		case pkt := <-s.outbound:
			out = append(out, pkt)
		default:
			return out
		}
	}
}

func join(t *testing.T, s *Server, name string, from *net.UDPAddr) *game.Player {
	t.Helper()
	step(s, from, protocol.AuthRequest{Username: name})
	step(s, from, protocol.Join{Username: name})
	p, ok := s.world.Lookup(name)
	if !ok {
		t.Fatalf("%s did not join", name)
	}
	return p
}

func verdictFor(t *testing.T, out []protocol.Packet, name string) protocol.Verdict {
	t.Helper()
	for _, pkt := range out {
		if r, ok := pkt.Body.(protocol.AuthResponse); ok && r.Username == name {
			return r.Verdict
		}
	}
	t.Fatalf("no auth response for %s in %v", name, out)
	return 0
}

func bodiesOf[T protocol.Body](out []protocol.Packet) []protocol.Packet {
	var res []protocol.Packet
	for _, pkt := range out {
		if _, ok := pkt.Body.(T); ok {
			res = append(res, pkt)
		}
	}
	return res
}

func TestAuthorizationWithPassword(t *testing.T) {
	s := newTestServer(t, testSettings(t, "secret"))
	alice := addrFor(6001)

	out := step(s, alice, protocol.AuthRequest{Username: "alice", Password: "secret"})
	if len(out) != 1 || out[0].String() != "1 alice 3" || out[0].Addr != alice {
		t.Fatalf("got %v want [1 alice 3] to %s", out, alice)
	}
	if _, ok := s.deauth.Lookup("alice"); !ok {
		t.Fatal("no deauth task armed for alice")
	}

	out = step(s, addrFor(6002), protocol.AuthRequest{Username: "bob", Password: "wrong"})
	if v := verdictFor(t, out, "bob"); v != protocol.VerdictBadPassword {
		t.Fatalf("got %s want bad_password", v)
	}
	if _, ok := s.deauth.Lookup("bob"); ok {
		t.Fatal("rejected request must not arm a task")
	}
}

func TestJoinAfterAuthorization(t *testing.T) {
	s := newTestServer(t, testSettings(t, "secret"))
	alice := addrFor(6001)

	step(s, alice, protocol.AuthRequest{Username: "alice", Password: "secret"})
	out := step(s, alice, protocol.Join{Username: "alice"})

	if _, ok := s.deauth.Lookup("alice"); ok {
		t.Fatal("deauth task not cancelled by join")
	}
	p, ok := s.world.Lookup("alice")
	if !ok {
		t.Fatal("alice not in world")
	}
	if p.Health() != 100 {
		t.Fatalf("got health %d want 100", p.Health())
	}

	connects := bodiesOf[protocol.Connect](out)
	if len(connects) != 1 || connects[0].Addr != alice {
		t.Fatalf("got connects %v", connects)
	}
	snaps := bodiesOf[protocol.Snapshot](out)
	if len(snaps) != 1 || snaps[0].Addr != alice {
		t.Fatalf("got snapshots %v", snaps)
	}
	snap := snaps[0].Body.(protocol.Snapshot)
	if snap.Header == nil || snap.Header.Radius != 500 || len(snap.Entries) != 1 || snap.Entries[0].Name != "alice" {
		t.Fatalf("got snapshot %+v", snap)
	}
	if got := s.Players(); len(got) != 1 || got[0].Name != "alice" || got[0].Address != alice.String() {
		t.Fatalf("published roster %+v", got)
	}
}

func TestJoinBroadcastsConnectToEveryone(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	join(t, s, "alice", addrFor(6001))

	step(s, addrFor(6002), protocol.AuthRequest{Username: "bob"})
	out := step(s, addrFor(6002), protocol.Join{Username: "bob", Spectator: true})

	connects := bodiesOf[protocol.Connect](out)
	if len(connects) != 2 {
		t.Fatalf("got %d connects want 2", len(connects))
	}
	c := connects[0].Body.(protocol.Connect)
	if c.Username != "bob" || !c.Vanished {
		t.Fatalf("got %+v", c)
	}
	bob, _ := s.world.Lookup("bob")
	if !bob.FlyMode || !bob.GodMode || !bob.Vanished {
		t.Fatalf("spectator flags not set: %+v", bob.State())
	}
}

func TestJoinWithoutAuthorizationIgnored(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	out := step(s, addrFor(6001), protocol.Join{Username: "mallory"})
	if len(out) != 0 || s.world.Len() != 0 {
		t.Fatalf("got %v, %d players", out, s.world.Len())
	}
}

func TestAuthAndJoinInOneCycle(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	// join arrives first but the auth band is processed first
	step(s, addrFor(6001), protocol.Join{Username: "alice"}, protocol.AuthRequest{Username: "alice"})
	if _, ok := s.world.Lookup("alice"); !ok {
		t.Fatal("alice not joined")
	}
}

func TestNamesAreUniqueIgnoringCase(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	join(t, s, "alice", addrFor(6001))

	out := step(s, addrFor(6002), protocol.AuthRequest{Username: "ALICE"})
	if v := verdictFor(t, out, "ALICE"); v != protocol.VerdictNameTaken {
		t.Fatalf("got %s want name_taken", v)
	}

	step(s, addrFor(6003), protocol.AuthRequest{Username: "bob"})
	out = step(s, addrFor(6004), protocol.AuthRequest{Username: "Bob"})
	if v := verdictFor(t, out, "Bob"); v != protocol.VerdictNameTaken {
		t.Fatalf("pending name from another address: got %s want name_taken", v)
	}
	out = step(s, addrFor(6003), protocol.AuthRequest{Username: "bob"})
	if v := verdictFor(t, out, "bob"); v != protocol.VerdictOK {
		t.Fatalf("repeat from the same address: got %s want ok", v)
	}

	step(s, addrFor(6003), protocol.Join{Username: "bob"})
	step(s, addrFor(6004), protocol.Join{Username: "BOB"})
	if s.world.Len() != 2 {
		t.Fatalf("got %d players want 2", s.world.Len())
	}
}

func TestPlayerCapCountsPendingAndSparesAdmins(t *testing.T) {
	settings := testSettings(t, "")
	settings.PlayerCap = 1
	settings.Admins = []string{"Root"}
	s := newTestServer(t, settings)

	step(s, addrFor(6001), protocol.AuthRequest{Username: "alice"})
	out := step(s, addrFor(6002), protocol.AuthRequest{Username: "bob"})
	if v := verdictFor(t, out, "bob"); v != protocol.VerdictCapReached {
		t.Fatalf("got %s want cap_reached", v)
	}

	out = step(s, addrFor(6003), protocol.AuthRequest{Username: "root"})
	if v := verdictFor(t, out, "root"); v != protocol.VerdictOK {
		t.Fatalf("admin got %s want ok", v)
	}
	step(s, addrFor(6003), protocol.Join{Username: "root"})
	if p, _ := s.world.Lookup("root"); p == nil || !p.Admin {
		t.Fatal("roster admin joined without admin flag")
	}
}

func TestAreaWeaponRespawnsEveryoneElse(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	alice := join(t, s, "alice", addrFor(6001))
	bob := join(t, s, "bob", addrFor(6002))
	carol := join(t, s, "carol", addrFor(6003))

	bus := events.NewEventBus()
	defer bus.Stop()
	kills := make(chan events.PlayerKilledPayload, 4)
	bus.Subscribe(events.EventPlayerKilled, "test", func(_ context.Context, e events.Event) error {
		kills <- e.Payload.(events.PlayerKilledPayload)
		return nil
	})
	s.eventBus = bus

	out := step(s, addrFor(6001), protocol.Fire{Username: "alice", Trajectory: alice.Location, Weapon: game.WeaponNuke})

	if alice.Health() != 100 {
		t.Fatalf("shooter health %d", alice.Health())
	}
	updates := map[string]protocol.Update{}
	for _, pkt := range bodiesOf[protocol.Update](out) {
		u := pkt.Body.(protocol.Update)
		updates[u.Username] = u
	}
	for _, victim := range []*game.Player{bob, carol} {
		if victim.Health() != 100 {
			t.Errorf("%s health %d want respawned at 100", victim.Name, victim.Health())
		}
		u, ok := updates[victim.Name]
		if !ok || !u.HasHealth || !u.HasLocation || u.Health != 100 {
			t.Errorf("%s: got update %+v want health and location", victim.Name, u)
		}
	}
	if _, ok := updates["alice"]; ok {
		t.Error("shooter must not get an update")
	}

	if fires := bodiesOf[protocol.Fire](out); len(fires) != 3 {
		t.Fatalf("got %d fire rebroadcasts want 3", len(fires))
	}

	for i := 0; i < 2; i++ {
		select {
		case k := <-kills:
			if k.Killer != "alice" || k.Weapon != int(game.WeaponNuke) {
				t.Errorf("got kill %+v", k)
			}
		case <-time.After(time.Second):
			t.Fatal("kill not emitted")
		}
	}
}

func TestAreaWeaponKillsWithLargeHealthCap(t *testing.T) {
	settings := testSettings(t, "")
	settings.HealthCap = 20000
	s := newTestServer(t, settings)
	alice := join(t, s, "alice", addrFor(6001))
	bob := join(t, s, "bob", addrFor(6002))

	bus := events.NewEventBus()
	defer bus.Stop()
	kills := make(chan events.PlayerKilledPayload, 1)
	bus.Subscribe(events.EventPlayerKilled, "test", func(_ context.Context, e events.Event) error {
		kills <- e.Payload.(events.PlayerKilledPayload)
		return nil
	})
	s.eventBus = bus

	out := step(s, addrFor(6001), protocol.Fire{Username: "alice", Trajectory: alice.Location, Weapon: game.WeaponNuke})

	if bob.Health() != 20000 {
		t.Fatalf("got bob health %d want 20000 after respawn", bob.Health())
	}
	respawned := false
	for _, pkt := range bodiesOf[protocol.Update](out) {
		u := pkt.Body.(protocol.Update)
		if u.Username == "bob" && u.HasHealth && u.HasLocation {
			respawned = true
		}
	}
	if !respawned {
		t.Fatalf("no respawn update for bob in %v", out)
	}
	select {
	case k := <-kills:
		if k.Victim != "bob" || k.Killer != "alice" {
			t.Fatalf("got kill %+v want bob killed by alice", k)
		}
	case <-time.After(time.Second):
		t.Fatal("kill not emitted")
	}
}

func TestPanickingHandlerSparesTheCycle(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	join(t, s, "alice", addrFor(6001))
	bob := join(t, s, "bob", addrFor(6002))

	orig := handlers[protocol.KindFire]
	handlers[protocol.KindFire] = func(context.Context, *Server, protocol.Packet) []protocol.Packet {
		panic("corrupt fire")
	}
	t.Cleanup(func() { handlers[protocol.KindFire] = orig })

	s.inbound <- protocol.Packet{Addr: addrFor(6001), Body: protocol.Fire{Username: "alice", Weapon: game.WeaponNuke}}
	s.inbound <- protocol.Packet{Addr: addrFor(6002), Body: protocol.Update{Username: "bob", HasLocation: true, Location: game.Location{X: 12}}}
	s.Cycle(context.Background())
	out := drain(s)

	if bob.Location.X != 12 {
		t.Fatalf("got bob x %v want 12", bob.Location.X)
	}
	updates := bodiesOf[protocol.Update](out)
	if len(updates) != 2 {
		t.Fatalf("got %d updates want bob's move sent to both players: %v", len(updates), out)
	}
	for _, pkt := range updates {
		if u := pkt.Body.(protocol.Update); u.Username != "bob" || !u.HasLocation {
			t.Fatalf("got %+v want bob's location", u)
		}
	}
	if got := s.Stats().HandlerPanics; got != 1 {
		t.Fatalf("got %d handler panics want 1", got)
	}
	if got := s.Stats().Cycles; got == 0 {
		t.Fatal("cycle not counted")
	}
}

func TestDisconnectNoticeSkipsPlayersAlreadyGone(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	join(t, s, "alice", addrFor(6001))
	join(t, s, "bob", addrFor(6002))
	join(t, s, "carol", addrFor(6003))

	s.inbound <- protocol.Packet{Addr: addrFor(6001), Body: protocol.Disconnect{Username: "alice"}}
	s.inbound <- protocol.Packet{Addr: addrFor(6002), Body: protocol.Disconnect{Username: "bob"}}
	s.Cycle(context.Background())
	out := drain(s)

	toCarol := 0
	for _, pkt := range bodiesOf[protocol.Disconnect](out) {
		d := pkt.Body.(protocol.Disconnect)
		if d.Username == "bob" && sameAddr(pkt.Addr, addrFor(6001)) {
			t.Fatalf("removed player alice was sent %+v", d)
		}
		if sameAddr(pkt.Addr, addrFor(6003)) {
			toCarol++
		}
	}
	if toCarol != 2 {
		t.Fatalf("got %d notices to carol want 2", toCarol)
	}
	if n := len(bodiesOf[protocol.Disconnect](out)); n != 5 {
		t.Fatalf("got %d disconnect notices want 5", n)
	}
}

func TestFireFromUnknownShooterIgnored(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	join(t, s, "alice", addrFor(6001))
	out := step(s, addrFor(6009), protocol.Fire{Username: "ghost", Weapon: game.WeaponNuke})
	if len(out) != 0 {
		t.Fatalf("got %v", out)
	}
}

func TestDisconnectSuppressesOtherChanges(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	join(t, s, "alice", addrFor(6001))
	join(t, s, "bob", addrFor(6002))

	out := step(s, addrFor(6002),
		protocol.Update{Username: "bob", HasLocation: true, Location: game.Location{X: 7}},
		protocol.Disconnect{Username: "bob", Reason: game.ReasonKick},
	)

	disconnects := bodiesOf[protocol.Disconnect](out)
	if len(disconnects) != 2 {
		t.Fatalf("got %d disconnect notices want 2", len(disconnects))
	}
	if d := disconnects[0].Body.(protocol.Disconnect); d.Username != "bob" || d.Reason != game.ReasonQuit {
		t.Fatalf("got %+v want bob quit", d)
	}
	if u := bodiesOf[protocol.Update](out); len(u) != 0 {
		t.Fatalf("leaving player still got updates: %v", u)
	}
	if _, ok := s.world.Lookup("bob"); ok {
		t.Fatal("bob still registered")
	}

	out = step(s, addrFor(6002), protocol.Update{Username: "bob", HasLocation: true})
	if len(out) != 0 {
		t.Fatalf("removed player produced %v", out)
	}
}

func TestUpdateFieldsNeedAdmin(t *testing.T) {
	settings := testSettings(t, "")
	settings.Admins = []string{"root"}
	s := newTestServer(t, settings)
	alice := join(t, s, "alice", addrFor(6001))
	join(t, s, "root", addrFor(6002))

	moved := game.Location{X: 1, Y: 2, Z: 3}
	out := step(s, addrFor(6011), protocol.Update{Username: "alice", HasLocation: true, Location: moved, HasHealth: true, Health: 5, ToggleGod: true, ToggleFly: true})
	if alice.Health() != 100 || alice.GodMode {
		t.Fatalf("non-admin changed admin fields: %+v", alice.State())
	}
	if !alice.FlyMode || alice.Location != moved || alice.Addr.Port != 6011 {
		t.Fatalf("open fields not applied: %+v %s", alice.State(), alice.Addr)
	}
	updates := bodiesOf[protocol.Update](out)
	if len(updates) != 2 {
		t.Fatalf("got %d updates want one per player", len(updates))
	}
	if got := updates[0].Body.(protocol.Update); got.HasHealth || !got.HasLocation || got.ToggleGod {
		t.Fatalf("got %+v", got)
	}

	out = step(s, addrFor(6002), protocol.Update{Username: "root", HasHealth: true, Health: 5, ToggleGod: true})
	updates = bodiesOf[protocol.Update](out)
	if len(updates) != 2 {
		t.Fatalf("got %d updates want 2", len(updates))
	}
	if got := updates[0].String(); got != "30 root h5 g" {
		t.Fatalf("got %q", got)
	}
}

func TestVanishedPlayersHideLocation(t *testing.T) {
	settings := testSettings(t, "")
	settings.Admins = []string{"root"}
	s := newTestServer(t, settings)
	join(t, s, "root", addrFor(6001))

	out := step(s, addrFor(6001), protocol.Update{Username: "root", ToggleVisibility: true, HasLocation: true, Location: game.Location{X: 9}})
	if got := bodiesOf[protocol.Update](out); len(got) != 1 || got[0].String() != "30 root v" {
		t.Fatalf("got %v want [30 root v]", got)
	}

	out = step(s, addrFor(6001), protocol.Update{Username: "root", ToggleVisibility: true})
	got := bodiesOf[protocol.Update](out)
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
	if u := got[0].Body.(protocol.Update); !u.HasLocation || !u.HasHealth || !u.ToggleVisibility {
		t.Fatalf("reappearing player should send location and health: %+v", u)
	}
}

func TestPeriodicSnapshotReplacesDeltas(t *testing.T) {
	settings := testSettings(t, "")
	settings.SnapshotInterval = 3
	s := newTestServer(t, settings)
	join(t, s, "alice", addrFor(6001))

	out := step(s, addrFor(6001), protocol.Update{Username: "alice", HasLocation: true, Location: game.Location{X: 1}})
	if len(bodiesOf[protocol.Update](out)) != 0 || len(bodiesOf[protocol.Snapshot](out)) != 1 {
		t.Fatalf("third cycle should snapshot: %v", out)
	}

	out = step(s, addrFor(6001), protocol.Update{Username: "alice", HasLocation: true, Location: game.Location{X: 2}})
	if len(bodiesOf[protocol.Update](out)) != 1 || len(bodiesOf[protocol.Snapshot](out)) != 0 {
		t.Fatalf("fourth cycle should send a delta: %v", out)
	}
}

func TestKick(t *testing.T) {
	s := newTestServer(t, testSettings(t, ""))
	join(t, s, "alice", addrFor(6001))

	if err := s.Kick("nobody"); !errors.Is(err, ErrNoSuchPlayer) {
		t.Fatalf("got %v want ErrNoSuchPlayer", err)
	}
	if err := s.Kick("ALICE"); err != nil {
		t.Fatal(err)
	}
	out := step(s, addrFor(6001))
	if len(out) != 1 || out[0].String() != "22 alice 2" {
		t.Fatalf("got %v want [22 alice 2]", out)
	}
	if len(s.Players()) != 0 {
		t.Fatal("kicked player still published")
	}
}

func TestExpiredAuthorizationCannotJoin(t *testing.T) {
	settings := testSettings(t, "")
	settings.DeauthWarnings = 1
	settings.DeauthDelay = 10 * time.Millisecond
	s := newTestServer(t, settings)

	step(s, addrFor(6001), protocol.AuthRequest{Username: "alice"})

	deadline := time.Now().Add(2 * time.Second)
	for s.deauth.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("authorization never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w := bodiesOf[protocol.DeauthWarning](drain(s)); len(w) != 1 {
		t.Fatalf("got %d warnings want 1", len(w))
	}

	step(s, addrFor(6001), protocol.Join{Username: "alice"})
	if s.world.Len() != 0 {
		t.Fatal("expired authorization joined")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	settings := testSettings(t, "")
	settings.CyclePeriod = time.Millisecond
	s := newTestServer(t, settings)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Cycles < 5 {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher not cycling")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
