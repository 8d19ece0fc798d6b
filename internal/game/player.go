package game

import (
	"net"
	"strings"
)

// ShieldRadius is the collision radius around every player.
const ShieldRadius = 20.0

// Player is one joined client. Health is only written through World so the
// [1, healthCap] invariant holds.
type Player struct {
	Name     string
	Addr     *net.UDPAddr
	Location Location

	Admin    bool
	FlyMode  bool
	GodMode  bool
	Vanished bool

	health int

	baseline   PlayerState
	forced     ChangeSet
	disconnect ChangeSet
}

// Key is the case-insensitive registry key for a player name.
func Key(name string) string {
	return strings.ToLower(name)
}

// Health returns the current health.
func (p *Player) Health() int {
	return p.health
}

// State returns the broadcastable view of the player.
func (p *Player) State() PlayerState {
	return PlayerState{
		Name:     p.Name,
		Location: p.Location,
		Health:   p.health,
		Admin:    p.Admin,
		FlyMode:  p.FlyMode,
		GodMode:  p.GodMode,
		Vanished: p.Vanished,
	}
}

// Disconnect marks the player for removal at the next broadcast. The first
// reason recorded wins.
func (p *Player) Disconnect(reason DisconnectReason) {
	if p.disconnect == 0 {
		p.disconnect = disconnectTag(reason)
	}
}

// Disconnecting reports whether a disconnect is pending.
func (p *Player) Disconnecting() bool {
	return p.disconnect != 0
}

// Changes returns the tags accumulated since the last Commit. A pending
// disconnect suppresses every other tag.
func (p *Player) Changes() ChangeSet {
	if p.disconnect != 0 {
		return p.disconnect
	}
	return Diff(p.baseline, p.State()) | p.forced
}

// Commit records the current state as broadcast and clears all tags except a
// pending disconnect.
func (p *Player) Commit() {
	p.baseline = p.State()
	p.forced = 0
}
