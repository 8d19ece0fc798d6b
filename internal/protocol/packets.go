// Package protocol implements the BlazingBarrels UDP wire format: one ASCII
// datagram per packet, `<typeID> <field> <field> ...`, space delimited.
package protocol

import (
	"fmt"
	"net"

	"github.com/veltro-project/blazingbarrels/internal/game"
)

// Kind is the wire type identifier of a packet.
type Kind int

const (
	KindAuthRequest   Kind = 0
	KindAuthResponse  Kind = 1
	KindDeauthWarning Kind = 2
	KindSnapshot      Kind = 10
	KindJoin          Kind = 20
	KindConnect       Kind = 21
	KindDisconnect    Kind = 22
	KindUpdate        Kind = 30
	KindFire          Kind = 40
)

var kindNames = map[Kind]string{
	KindAuthRequest:   "auth_request",
	KindAuthResponse:  "auth_response",
	KindDeauthWarning: "deauth_warning",
	KindSnapshot:      "snapshot",
	KindJoin:          "join",
	KindConnect:       "connect",
	KindDisconnect:    "disconnect",
	KindUpdate:        "update",
	KindFire:          "fire",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Priority is the coarse band packets are processed in within a cycle.
// Lower bands run first.
func (k Kind) Priority() int {
	return int(k) / 10
}

// Role selects which packet kinds a decoder accepts.
type Role int

const (
	// RoleServer decodes what clients send to the server.
	RoleServer Role = iota
	// RoleClient decodes what the server sends to clients.
	RoleClient
)

var allowList = map[Role]map[Kind]bool{
	RoleServer: {
		KindAuthRequest: true,
		KindJoin:        true,
		KindDisconnect:  true,
		KindUpdate:      true,
		KindFire:        true,
	},
	RoleClient: {
		KindAuthResponse:  true,
		KindDeauthWarning: true,
		KindSnapshot:      true,
		KindConnect:       true,
		KindDisconnect:    true,
		KindUpdate:        true,
		KindFire:          true,
	},
}

// Accepts reports whether r decodes packets of kind k.
func (r Role) Accepts(k Kind) bool {
	return allowList[r][k]
}

// Body is the type-specific payload of a packet. The set of bodies is closed.
type Body interface {
	Kind() Kind
	payload() string
}

// Packet is a body bound to a peer address: the source for inbound packets,
// the destination for outbound ones.
type Packet struct {
	Addr *net.UDPAddr
	Body Body
}

// Kind returns the body's kind.
func (p Packet) Kind() Kind {
	return p.Body.Kind()
}

// To returns a copy of p addressed to addr. The body is shared.
func (p Packet) To(addr *net.UDPAddr) Packet {
	return Packet{Addr: addr, Body: p.Body}
}

func (p Packet) String() string {
	return string(Encode(p.Body))
}

// Verdict is the outcome of an authorization request.
type Verdict int

const (
	VerdictCapReached Verdict = iota
	VerdictNameTaken
	VerdictBadPassword
	VerdictOK
)

func (v Verdict) String() string {
	switch v {
	case VerdictCapReached:
		return "cap_reached"
	case VerdictNameTaken:
		return "name_taken"
	case VerdictBadPassword:
		return "bad_password"
	case VerdictOK:
		return "ok"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// AuthRequest (0) asks to be authorized under a name.
type AuthRequest struct {
	Username string
	Password string
}

// AuthResponse (1) answers an AuthRequest.
type AuthResponse struct {
	Username string
	Verdict  Verdict
}

// DeauthWarning (2) reminds an authorized client to send its join packet.
type DeauthWarning struct {
	Username string
}

// WorldHeader opens the first packet of a snapshot series.
type WorldHeader struct {
	Radius    int
	HealthCap int
}

// SnapshotEntry is one player's block in a snapshot.
type SnapshotEntry struct {
	Name     string
	Location game.Location
	Health   int
	Admin    bool
	Vanished bool
}

// EntryFromState converts a player state to its snapshot block.
func EntryFromState(s game.PlayerState) SnapshotEntry {
	return SnapshotEntry{
		Name:     s.Name,
		Location: s.Location,
		Health:   s.Health,
		Admin:    s.Admin,
		Vanished: s.Vanished,
	}
}

// Snapshot (10) carries full state for some or all players.
type Snapshot struct {
	Header  *WorldHeader
	Entries []SnapshotEntry
}

// Join (20) completes the handshake for an authorized name.
type Join struct {
	Username  string
	Spectator bool
}

// Connect (21) announces a newly joined player.
type Connect struct {
	Username string
	Location game.Location
	Health   int
	Admin    bool
	Vanished bool
}

// Disconnect (22) is a quit request from a client, or a removal notice from
// the server.
type Disconnect struct {
	Username string
	Reason   game.DisconnectReason
}

// Update (30) carries changed fields for one player. Toggle fields flip the
// corresponding flag.
type Update struct {
	Username string

	HasLocation bool
	Location    game.Location
	HasHealth   bool
	Health      int

	ToggleAdmin      bool
	ToggleFly        bool
	ToggleGod        bool
	ToggleVisibility bool
}

// Empty reports whether the update carries no field.
func (u Update) Empty() bool {
	return !u.HasLocation && !u.HasHealth &&
		!u.ToggleAdmin && !u.ToggleFly && !u.ToggleGod && !u.ToggleVisibility
}

// Fire (40) is a weapon discharge. Username is empty when a client sends it
// without naming the shooter.
type Fire struct {
	Username   string
	Trajectory game.Location
	Weapon     game.WeaponID
}

func (AuthRequest) Kind() Kind   { return KindAuthRequest }
func (AuthResponse) Kind() Kind  { return KindAuthResponse }
func (DeauthWarning) Kind() Kind { return KindDeauthWarning }
func (Snapshot) Kind() Kind      { return KindSnapshot }
func (Join) Kind() Kind          { return KindJoin }
func (Connect) Kind() Kind       { return KindConnect }
func (Disconnect) Kind() Kind    { return KindDisconnect }
func (Update) Kind() Kind        { return KindUpdate }
func (Fire) Kind() Kind          { return KindFire }
