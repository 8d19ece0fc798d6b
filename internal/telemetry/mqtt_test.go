package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/veltro-project/blazingbarrels/internal/config"
	"github.com/veltro-project/blazingbarrels/internal/events"
)

func TestTopic(t *testing.T) {
	cases := []struct {
		prefix, suffix, want string
	}{
		{"blazingbarrels", "player_joined", "blazingbarrels/player_joined"},
		{"/bb/", "heartbeat", "bb/heartbeat"},
		{"", "player_left", "player_left"},
	}
	for _, c := range cases {
		if got := Topic(c.prefix, c.suffix); got != c.want {
			t.Errorf("Topic(%q, %q): got %q want %q", c.prefix, c.suffix, got, c.want)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := map[string]interface{}{"hostname": "box"}
	msg := BuildMessage(meta, events.PlayerLeftPayload{Name: "alice", Reason: "kick"}, now)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Hostname  string `json:"hostname"`
		Timestamp string `json:"timestamp"`
		Payload   struct {
			Name   string `json:"name"`
			Reason string `json:"reason"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Hostname != "box" || decoded.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("got %+v", decoded)
	}
	if decoded.Payload.Name != "alice" || decoded.Payload.Reason != "kick" {
		t.Fatalf("got payload %+v", decoded.Payload)
	}
	if _, ok := meta["payload"]; ok {
		t.Fatal("metadata map must not be mutated")
	}
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus()); err == nil {
		t.Fatal("got nil error for disabled MQTT")
	}
}

func TestNewMQTTHandlerMissingCA(t *testing.T) {
	cfg := config.MQTTConfig{
		Enabled:   true,
		BrokerURL: "localhost",
		Port:      8883,
		UseTLS:    true,
		CAFile:    t.TempDir() + "/missing.pem",
	}
	if _, err := NewMQTTHandler(cfg, events.NewEventBus()); err == nil {
		t.Fatal("got nil error for missing CA file")
	}
}
