package game

import "strings"

// DisconnectReason is the reason code carried by a disconnect notification.
type DisconnectReason int

const (
	ReasonQuit DisconnectReason = iota
	ReasonTimeout
	ReasonKick
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonKick:
		return "kick"
	default:
		return "quit"
	}
}

// Valid reports whether r is a known reason code.
func (r DisconnectReason) Valid() bool {
	return r >= ReasonQuit && r <= ReasonKick
}

// ChangeSet is a bit set of change tags accumulated for one player since the
// last broadcast.
type ChangeSet uint16

const (
	ChangeKick ChangeSet = 1 << iota
	ChangeTimeout
	ChangeQuit
	ChangeAdmin
	ChangeGodMode
	ChangeHealth
	ChangeLocation
	ChangeVisibility
)

const disconnectMask = ChangeKick | ChangeTimeout | ChangeQuit

var changeNames = []struct {
	tag  ChangeSet
	name string
}{
	{ChangeKick, "disconnect-kick"},
	{ChangeTimeout, "disconnect-timeout"},
	{ChangeQuit, "disconnect-quit"},
	{ChangeAdmin, "admin"},
	{ChangeGodMode, "godmode"},
	{ChangeHealth, "health"},
	{ChangeLocation, "location"},
	{ChangeVisibility, "visibility"},
}

// Has reports whether every tag in t is present.
func (c ChangeSet) Has(t ChangeSet) bool {
	return c&t == t
}

// Empty reports whether no tag is present.
func (c ChangeSet) Empty() bool {
	return c == 0
}

// IsDisconnect reports whether the set carries a disconnect tag.
func (c ChangeSet) IsDisconnect() bool {
	return c&disconnectMask != 0
}

// Reason maps the disconnect tag to its reason code.
func (c ChangeSet) Reason() (DisconnectReason, bool) {
	switch {
	case c.Has(ChangeKick):
		return ReasonKick, true
	case c.Has(ChangeTimeout):
		return ReasonTimeout, true
	case c.Has(ChangeQuit):
		return ReasonQuit, true
	}
	return 0, false
}

func (c ChangeSet) String() string {
	var names []string
	for _, n := range changeNames {
		if c.Has(n.tag) {
			names = append(names, n.name)
		}
	}
	return "[" + strings.Join(names, ",") + "]"
}

func disconnectTag(r DisconnectReason) ChangeSet {
	switch r {
	case ReasonKick:
		return ChangeKick
	case ReasonTimeout:
		return ChangeTimeout
	default:
		return ChangeQuit
	}
}

// PlayerState is the broadcastable view of a player.
type PlayerState struct {
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Health   int      `json:"health"`
	Admin    bool     `json:"admin"`
	FlyMode  bool     `json:"fly_mode"`
	GodMode  bool     `json:"god_mode"`
	Vanished bool     `json:"vanished"`
}

// Diff compares two states of the same player. Fly mode is never broadcast
// and so never produces a tag.
func Diff(prev, cur PlayerState) ChangeSet {
	var c ChangeSet
	if prev.Location != cur.Location {
		c |= ChangeLocation
	}
	if prev.Health != cur.Health {
		c |= ChangeHealth
	}
	if prev.Admin != cur.Admin {
		c |= ChangeAdmin
	}
	if prev.GodMode != cur.GodMode {
		c |= ChangeGodMode
	}
	if prev.Vanished != cur.Vanished {
		c |= ChangeVisibility
	}
	return c
}
