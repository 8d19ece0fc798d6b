// Package events defines the event bus that carries game and lifecycle
// notifications from the dispatcher to the store, telemetry, API feed and
// lag monitor.
package events

import "time"

// EventType names a kind of event carried by the EventBus.
type EventType string

const (
	// Player lifecycle
	EventPlayerAuthorized     EventType = "player_authorized"
	EventPlayerJoined         EventType = "player_joined"
	EventPlayerLeft           EventType = "player_left"
	EventPlayerKilled         EventType = "player_killed"
	EventAuthorizationExpired EventType = "authorization_expired"

	// Cycle timing
	EventCycleOverrun EventType = "cycle_overrun"

	// System
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// GameEvents lists the events forwarded to external observers.
var GameEvents = []EventType{
	EventPlayerAuthorized,
	EventPlayerJoined,
	EventPlayerLeft,
	EventPlayerKilled,
	EventAuthorizationExpired,
	EventCycleOverrun,
	EventHeartbeat,
}

// Event is a single notification.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// PlayerAuthorizedPayload accompanies EventPlayerAuthorized.
type PlayerAuthorizedPayload struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// PlayerJoinedPayload accompanies EventPlayerJoined.
type PlayerJoinedPayload struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Admin     bool   `json:"admin"`
	Spectator bool   `json:"spectator"`
}

// PlayerLeftPayload accompanies EventPlayerLeft. Reason is quit, timeout or kick.
type PlayerLeftPayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// PlayerKilledPayload accompanies EventPlayerKilled.
type PlayerKilledPayload struct {
	Victim   string  `json:"victim"`
	Killer   string  `json:"killer"`
	Weapon   int     `json:"weapon"`
	Distance float64 `json:"distance"`
}

// AuthorizationExpiredPayload accompanies EventAuthorizationExpired.
type AuthorizationExpiredPayload struct {
	Name string `json:"name"`
}

// CycleOverrunPayload accompanies EventCycleOverrun.
type CycleOverrunPayload struct {
	Cycle    uint64        `json:"cycle"`
	Duration time.Duration `json:"duration_ns"`
	Period   time.Duration `json:"period_ns"`
}

// HeartbeatPayload accompanies EventHeartbeat.
type HeartbeatPayload struct {
	Players       int     `json:"players"`
	Pending       int     `json:"pending"`
	Cycles        uint64  `json:"cycles"`
	Overruns      uint64  `json:"overruns"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}
