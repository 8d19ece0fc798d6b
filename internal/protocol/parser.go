package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// MaxUsernameLength bounds player names so a snapshot block always fits in
// one snapshot packet.
const MaxUsernameLength = 24

// MaxDatagramSize is the largest datagram the server accepts.
const MaxDatagramSize = 512

var (
	// ErrUnknownType is returned for type identifiers outside the role's allow-list.
	ErrUnknownType = errors.New("unknown packet type")
	// ErrMalformed is returned for packets with bad field counts or values.
	ErrMalformed = errors.New("malformed packet")
)

// Parser decodes datagrams for one role.
type Parser struct {
	role   Role
	logger zerolog.Logger
}

// NewParser creates a parser that accepts the kinds role expects to receive.
func NewParser(role Role) *Parser {
	return &Parser{
		role:   role,
		logger: util.ComponentLogger("parser"),
	}
}

// Parse decodes one datagram received from addr.
func (p *Parser) Parse(data []byte, from *net.UDPAddr) (Packet, error) {
	body, err := Decode(p.role, data)
	if err != nil {
		p.logger.Trace().
			Err(err).
			Stringer("remote", from).
			Int("len", len(data)).
			Msg("discarding datagram")
		return Packet{}, err
	}
	return Packet{Addr: from, Body: body}, nil
}

// Decode parses a datagram into a body. Every failure wraps ErrUnknownType
// or ErrMalformed.
func Decode(role Role, data []byte) (Body, error) {
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: %d tokens", ErrMalformed, len(fields))
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: type %q", ErrMalformed, fields[0])
	}
	k := Kind(id)
	if !role.Accepts(k) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, id)
	}

	args := fields[1:]
	var body Body
	switch k {
	case KindAuthRequest:
		body, err = parseAuthRequest(args)
	case KindAuthResponse:
		body, err = parseAuthResponse(args)
	case KindDeauthWarning:
		body, err = parseDeauthWarning(args)
	case KindSnapshot:
		body, err = parseSnapshot(args)
	case KindJoin:
		body, err = parseJoin(args)
	case KindConnect:
		body, err = parseConnect(args)
	case KindDisconnect:
		body, err = parseDisconnect(args)
	case KindUpdate:
		body, err = parseUpdate(args)
	case KindFire:
		body, err = parseFire(role, args)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, k, err)
	}
	return body, nil
}

// ValidUsername reports whether name can be carried by every packet kind.
func ValidUsername(name string) bool {
	if name == "" || len(name) > MaxUsernameLength {
		return false
	}
	return !strings.ContainsAny(name, blockSep+game.LocationSeparator)
}

func checkArgs(args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		return fmt.Errorf("got %d fields, want %d..%d", len(args), lo, hi)
	}
	return nil
}

func parseName(s string) (string, error) {
	if !ValidUsername(s) {
		return "", fmt.Errorf("invalid username %q", s)
	}
	return s, nil
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag %q", s)
}

func parseAuthRequest(args []string) (Body, error) {
	if err := checkArgs(args, 1, 2); err != nil {
		return nil, err
	}
	name, err := parseName(args[0])
	if err != nil {
		return nil, err
	}
	req := AuthRequest{Username: name}
	if len(args) == 2 {
		req.Password = args[1]
	}
	return req, nil
}

func parseAuthResponse(args []string) (Body, error) {
	if err := checkArgs(args, 2, 2); err != nil {
		return nil, err
	}
	name, err := parseName(args[0])
	if err != nil {
		return nil, err
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || v < int(VerdictCapReached) || v > int(VerdictOK) {
		return nil, fmt.Errorf("invalid verdict %q", args[1])
	}
	return AuthResponse{Username: name, Verdict: Verdict(v)}, nil
}

func parseDeauthWarning(args []string) (Body, error) {
	if err := checkArgs(args, 1, 1); err != nil {
		return nil, err
	}
	name, err := parseName(args[0])
	if err != nil {
		return nil, err
	}
	return DeauthWarning{Username: name}, nil
}

func isHeaderToken(tok string) bool {
	return strings.HasPrefix(tok, headerPrefix+blockSep) && strings.Count(tok, blockSep) == 2
}

func parseSnapshot(args []string) (Body, error) {
	var s Snapshot
	for i, tok := range args {
		if i == 0 && isHeaderToken(tok) {
			parts := strings.Split(tok, blockSep)
			radius, err1 := strconv.Atoi(parts[1])
			hc, err2 := strconv.Atoi(parts[2])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("invalid header %q", tok)
			}
			s.Header = &WorldHeader{Radius: radius, HealthCap: hc}
			continue
		}
		e, err := parseSnapshotEntry(tok)
		if err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}

// parseSnapshotEntry splits `name.x:y:z:yaw:pitch:roll.health.admin.vanished`.
// Names never contain the separator and the three trailing fields are
// integers, so the location is whatever lies between.
func parseSnapshotEntry(tok string) (SnapshotEntry, error) {
	i := strings.Index(tok, blockSep)
	if i < 0 {
		return SnapshotEntry{}, fmt.Errorf("invalid block %q", tok)
	}
	name, err := parseName(tok[:i])
	if err != nil {
		return SnapshotEntry{}, err
	}
	parts := strings.Split(tok[i+1:], blockSep)
	if len(parts) < 4 {
		return SnapshotEntry{}, fmt.Errorf("invalid block %q", tok)
	}
	n := len(parts)
	loc, err := game.ParseLocation(strings.Join(parts[:n-3], blockSep))
	if err != nil {
		return SnapshotEntry{}, err
	}
	health, err := strconv.Atoi(parts[n-3])
	if err != nil {
		return SnapshotEntry{}, fmt.Errorf("invalid health %q", parts[n-3])
	}
	admin, err := parseFlag(parts[n-2])
	if err != nil {
		return SnapshotEntry{}, err
	}
	vanished, err := parseFlag(parts[n-1])
	if err != nil {
		return SnapshotEntry{}, err
	}
	return SnapshotEntry{Name: name, Location: loc, Health: health, Admin: admin, Vanished: vanished}, nil
}

func parseJoin(args []string) (Body, error) {
	if err := checkArgs(args, 1, 2); err != nil {
		return nil, err
	}
	name, err := parseName(args[0])
	if err != nil {
		return nil, err
	}
	j := Join{Username: name}
	if len(args) == 2 {
		if !strings.EqualFold(args[1], spectatorFlag) {
			return nil, fmt.Errorf("invalid join mode %q", args[1])
		}
		j.Spectator = true
	}
	return j, nil
}

func parseConnect(args []string) (Body, error) {
	if err := checkArgs(args, 5, 5); err != nil {
		return nil, err
	}
	name, err := parseName(args[0])
	if err != nil {
		return nil, err
	}
	loc, err := game.ParseLocation(args[1])
	if err != nil {
		return nil, err
	}
	health, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, fmt.Errorf("invalid health %q", args[2])
	}
	admin, err := parseFlag(args[3])
	if err != nil {
		return nil, err
	}
	vanished, err := parseFlag(args[4])
	if err != nil {
		return nil, err
	}
	return Connect{Username: name, Location: loc, Health: health, Admin: admin, Vanished: vanished}, nil
}

func parseDisconnect(args []string) (Body, error) {
	if err := checkArgs(args, 1, 2); err != nil {
		return nil, err
	}
	name, err := parseName(args[0])
	if err != nil {
		return nil, err
	}
	d := Disconnect{Username: name, Reason: game.ReasonQuit}
	if len(args) == 2 {
		r, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid reason %q", args[1])
		}
		// unknown codes read as quit
		if game.DisconnectReason(r).Valid() {
			d.Reason = game.DisconnectReason(r)
		}
	}
	return d, nil
}

func parseUpdate(args []string) (Body, error) {
	if err := checkArgs(args, 1, 7); err != nil {
		return nil, err
	}
	name, err := parseName(args[0])
	if err != nil {
		return nil, err
	}
	u := Update{Username: name}
	seen := make(map[byte]bool, len(args)-1)
	for _, tok := range args[1:] {
		flag := tok[0]
		if seen[flag] {
			return nil, fmt.Errorf("duplicate field %q", tok)
		}
		seen[flag] = true

		switch flag {
		case flagLocation:
			loc, err := game.ParseLocation(tok[1:])
			if err != nil {
				return nil, err
			}
			u.HasLocation, u.Location = true, loc
			continue
		case flagHealth:
			h, err := strconv.Atoi(tok[1:])
			if err != nil {
				return nil, fmt.Errorf("invalid health %q", tok)
			}
			u.HasHealth, u.Health = true, h
			continue
		}

		if len(tok) != 1 {
			return nil, fmt.Errorf("invalid field %q", tok)
		}
		switch flag {
		case flagAdmin:
			u.ToggleAdmin = true
		case flagFly:
			u.ToggleFly = true
		case flagGod:
			u.ToggleGod = true
		case flagVisible:
			u.ToggleVisibility = true
		default:
			return nil, fmt.Errorf("invalid field %q", tok)
		}
	}
	return u, nil
}

func parseFire(role Role, args []string) (Body, error) {
	lo := 3
	if role == RoleClient {
		lo = 2
	}
	if err := checkArgs(args, lo, 3); err != nil {
		return nil, err
	}

	var f Fire
	if len(args) == 3 {
		name, err := parseName(args[0])
		if err != nil {
			return nil, err
		}
		f.Username = name
		args = args[1:]
	}

	loc, err := game.ParseLocation(args[0])
	if err != nil {
		return nil, err
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid weapon %q", args[1])
	}
	if _, ok := game.LookupWeapon(game.WeaponID(id)); !ok {
		return nil, fmt.Errorf("unknown weapon %d", id)
	}
	f.Trajectory = loc
	f.Weapon = game.WeaponID(id)
	return f, nil
}
