package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/veltro-project/blazingbarrels/internal/config"
	"github.com/veltro-project/blazingbarrels/internal/db"
	"github.com/veltro-project/blazingbarrels/internal/events"
	intnet "github.com/veltro-project/blazingbarrels/internal/network"
	"github.com/veltro-project/blazingbarrels/internal/protocol"
	"github.com/veltro-project/blazingbarrels/internal/server"
)

const (
	testPassword = "hunter2"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

type fixture struct {
	api   *Server
	game  *server.Server
	store *db.Store
	bus   *events.EventBus
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.ServerData.Password = password
	cfg.ApplicationData.API.JWTSecret = testSecret
	cfg.ApplicationData.API.RateLimitRPS = 0

	settings, err := server.SettingsFromConfig(cfg.GetServerData())
	if err != nil {
		t.Fatal(err)
	}

	store, err := db.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	game := server.New(settings, server.WithEventBus(bus))
	s := NewServer(cfg, Dependencies{
		Game:     game,
		Store:    store,
		Lag:      server.NewLagMonitor(bus),
		Network:  &intnet.Counters{},
		EventBus: bus,
	})
	// gin.SetMode in NewServer follows the config
	gin.SetMode(gin.TestMode)
	return &fixture{api: s, game: game, store: store, bus: bus}
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) join(name string, port int) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	f.game.Inbound() <- protocol.Packet{Addr: addr, Body: protocol.AuthRequest{Username: name, Password: testPassword}}
	f.game.Inbound() <- protocol.Packet{Addr: addr, Body: protocol.Join{Username: name}}
	f.game.Cycle(context.Background())
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	w := f.do(http.MethodPost, "/api/public/token", "", `{"password":"`+testPassword+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("token: got status %d want 200: %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func TestPing(t *testing.T) {
	f := newFixture(t, testPassword)
	w := f.do(http.MethodGet, "/api/public/ping", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("got body %s", w.Body)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("got X-Content-Type-Options %q want nosniff", got)
	}
}

func TestServerInfoIsPublic(t *testing.T) {
	f := newFixture(t, testPassword)
	w := f.do(http.MethodGet, "/api/public/server_info", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", w.Code)
	}
	var info struct {
		PlayerCap        int  `json:"player_cap"`
		PasswordRequired bool `json:"password_required"`
		Weapons          []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"weapons"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.PlayerCap != 5 || !info.PasswordRequired {
		t.Fatalf("got %+v", info)
	}
	if len(info.Weapons) != 6 || info.Weapons[4].Kind != "area" {
		t.Fatalf("got weapons %+v want 6 with nuke as area", info.Weapons)
	}
}

func TestTokenRequest(t *testing.T) {
	f := newFixture(t, testPassword)

	if w := f.do(http.MethodPost, "/api/public/token", "", `{"password":"wrong"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: got status %d want 401", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/public/token", "", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty body: got status %d want 400", w.Code)
	}

	token := f.token(t)
	sub, err := ParseToken([]byte(testSecret), token)
	if err != nil {
		t.Fatal(err)
	}
	if sub != tokenSubject {
		t.Fatalf("got subject %q want %q", sub, tokenSubject)
	}
}

func TestTokenRefusedWithoutServerPassword(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodPost, "/api/public/token", "", `{"password":"anything"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d want 403", w.Code)
	}
}

func TestMonitorRequiresToken(t *testing.T) {
	f := newFixture(t, testPassword)
	for _, path := range []string{"/api/monitor/players", "/api/monitor/stats", "/api/monitor/config"} {
		if w := f.do(http.MethodGet, path, "", ""); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: got status %d want 401", path, w.Code)
		}
		if w := f.do(http.MethodGet, path, "not-a-token", ""); w.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad token: got status %d want 401", path, w.Code)
		}
	}
	if w := f.do(http.MethodPost, "/api/control/stop", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("stop: got status %d want 401", w.Code)
	}
}

func TestPlayersAndStats(t *testing.T) {
	f := newFixture(t, testPassword)
	f.join("alice", 7001)
	token := f.token(t)

	w := f.do(http.MethodGet, "/api/monitor/players", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", w.Code)
	}
	var resp struct {
		Players []server.PlayerInfo `json:"players"`
		Total   int                 `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Players[0].Name != "alice" {
		t.Fatalf("got %+v", resp)
	}

	w = f.do(http.MethodGet, "/api/monitor/stats", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: got status %d want 200", w.Code)
	}
	var stats struct {
		Server server.Stats `json:"server"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Server.Cycles != 1 || stats.Server.Players != 1 {
		t.Fatalf("got %+v", stats.Server)
	}
}

func TestConfigIsRedacted(t *testing.T) {
	f := newFixture(t, testPassword)
	w := f.do(http.MethodGet, "/api/monitor/config", f.token(t), "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, testPassword) || strings.Contains(body, testSecret) {
		t.Fatalf("secrets leaked: %s", body)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, testPassword)
	now := time.Now()
	if err := f.store.OpenSession("alice", "127.0.0.1:7001", false, false, now); err != nil {
		t.Fatal(err)
	}
	if err := f.store.RecordKill("bob", "alice", 1, 42, now); err != nil {
		t.Fatal(err)
	}

	w := f.do(http.MethodGet, "/api/monitor/history?limit=10", f.token(t), "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", w.Code)
	}
	var resp struct {
		Sessions    []db.Session   `json:"sessions"`
		Kills       []db.Kill      `json:"kills"`
		Leaderboard []db.KillCount `json:"leaderboard"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sessions) != 1 || len(resp.Kills) != 1 || len(resp.Leaderboard) != 1 {
		t.Fatalf("got %+v", resp)
	}
}

func TestKick(t *testing.T) {
	f := newFixture(t, testPassword)
	f.join("alice", 7001)
	token := f.token(t)

	if w := f.do(http.MethodPost, "/api/control/kick/bob", token, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown player: got status %d want 404", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/control/kick/ALICE", token, ""); w.Code != http.StatusAccepted {
		t.Fatalf("got status %d want 202", w.Code)
	}

	f.game.Cycle(context.Background())
	if n := len(f.game.Players()); n != 0 {
		t.Fatalf("got %d players after kick want 0", n)
	}
}

func TestStopEmitsShutdown(t *testing.T) {
	f := newFixture(t, testPassword)
	got := make(chan events.Event, 1)
	f.bus.Subscribe(events.EventShutdown, "test", func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})

	if w := f.do(http.MethodPost, "/api/control/stop", f.token(t), ""); w.Code != http.StatusAccepted {
		t.Fatalf("got status %d want 202", w.Code)
	}
	select {
	case e := <-got:
		if e.Source != "api" {
			t.Fatalf("got source %q want api", e.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no shutdown event")
	}
}

func TestFeedStreamsEvents(t *testing.T) {
	f := newFixture(t, testPassword)
	ts := httptest.NewServer(f.api.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/monitor/feed?token=" + f.token(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.api.feed.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("feed client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.bus.Emit(context.Background(), events.Event{
		Type:    events.EventPlayerJoined,
		Source:  "test",
		Payload: events.PlayerJoinedPayload{Name: "alice"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev struct {
		Type    string `json:"type"`
		Payload struct {
			Name string `json:"name"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != string(events.EventPlayerJoined) || ev.Payload.Name != "alice" {
		t.Fatalf("got %s", msg)
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte(testSecret)
	now := time.Now()

	expired, err := IssueToken(secret, time.Minute, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(secret, expired); err == nil {
		t.Error("expired token accepted")
	}

	valid, err := IssueToken(secret, time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken([]byte("another-secret"), valid); err == nil {
		t.Error("token accepted with the wrong secret")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	for i := 0; i < 2; i++ {
		if !rl.Allow("a", now) {
			t.Fatalf("request %d refused inside the burst", i)
		}
	}
	if rl.Allow("a", now) {
		t.Fatal("request beyond the burst allowed")
	}
	if !rl.Allow("b", now) {
		t.Fatal("buckets must be per client")
	}
	if !rl.Allow("a", now.Add(time.Second)) {
		t.Fatal("bucket did not refill")
	}
	if !NewRateLimiter(0).Allow("a", now) {
		t.Fatal("zero rate must disable limiting")
	}
}
