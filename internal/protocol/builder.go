package protocol

import (
	"strconv"
	"strings"
)

// MaxSnapshotPayload is the largest snapshot payload, in bytes, excluding
// the type identifier and its separator.
const MaxSnapshotPayload = 210

const (
	headerPrefix  = "s"
	blockSep      = "."
	flagLocation  = 'l'
	flagHealth    = 'h'
	flagAdmin     = 'a'
	flagFly       = 'f'
	flagGod       = 'g'
	flagVisible   = 'v'
	spectatorFlag = "s"
)

// Encode serializes a body to its datagram form.
func Encode(b Body) []byte {
	p := b.payload()
	out := make([]byte, 0, len(p)+4)
	out = strconv.AppendInt(out, int64(b.Kind()), 10)
	if p != "" {
		out = append(out, ' ')
		out = append(out, p...)
	}
	return out
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (a AuthRequest) payload() string {
	if a.Password == "" {
		return a.Username
	}
	return a.Username + " " + a.Password
}

func (a AuthResponse) payload() string {
	return a.Username + " " + strconv.Itoa(int(a.Verdict))
}

func (d DeauthWarning) payload() string {
	return d.Username
}

func (h WorldHeader) token() string {
	return headerPrefix + blockSep + strconv.Itoa(h.Radius) + blockSep + strconv.Itoa(h.HealthCap)
}

func (e SnapshotEntry) block() string {
	return strings.Join([]string{
		e.Name,
		e.Location.String(),
		strconv.Itoa(e.Health),
		boolFlag(e.Admin),
		boolFlag(e.Vanished),
	}, blockSep)
}

func (s Snapshot) payload() string {
	tokens := make([]string, 0, len(s.Entries)+1)
	if s.Header != nil {
		tokens = append(tokens, s.Header.token())
	}
	for _, e := range s.Entries {
		tokens = append(tokens, e.block())
	}
	return strings.Join(tokens, " ")
}

func (j Join) payload() string {
	if j.Spectator {
		return j.Username + " " + spectatorFlag
	}
	return j.Username
}

func (c Connect) payload() string {
	return strings.Join([]string{
		c.Username,
		c.Location.String(),
		strconv.Itoa(c.Health),
		boolFlag(c.Admin),
		boolFlag(c.Vanished),
	}, " ")
}

func (d Disconnect) payload() string {
	return d.Username + " " + strconv.Itoa(int(d.Reason))
}

func (u Update) payload() string {
	var b strings.Builder
	b.WriteString(u.Username)
	if u.HasLocation {
		b.WriteByte(' ')
		b.WriteByte(flagLocation)
		b.WriteString(u.Location.String())
	}
	if u.HasHealth {
		b.WriteByte(' ')
		b.WriteByte(flagHealth)
		b.WriteString(strconv.Itoa(u.Health))
	}
	for _, t := range []struct {
		on   bool
		flag byte
	}{
		{u.ToggleAdmin, flagAdmin},
		{u.ToggleFly, flagFly},
		{u.ToggleGod, flagGod},
		{u.ToggleVisibility, flagVisible},
	} {
		if t.on {
			b.WriteByte(' ')
			b.WriteByte(t.flag)
		}
	}
	return b.String()
}

func (f Fire) payload() string {
	p := f.Trajectory.String() + " " + strconv.Itoa(int(f.Weapon))
	if f.Username == "" {
		return p
	}
	return f.Username + " " + p
}

// BuildSnapshots splits entries into snapshot bodies whose payloads stay
// within ceiling bytes, preserving entry order. The header, when given, opens
// the first body only. An entry is never split across bodies.
func BuildSnapshots(header *WorldHeader, entries []SnapshotEntry, ceiling int) []Snapshot {
	var (
		out  []Snapshot
		cur  Snapshot
		size int
	)
	if header != nil {
		h := *header
		cur.Header = &h
		size = len(h.token())
	}

	for _, e := range entries {
		n := len(e.block())
		if size > 0 && size+1+n > ceiling {
			out = append(out, cur)
			cur = Snapshot{}
			size = 0
		}
		if size > 0 {
			size++
		}
		size += n
		cur.Entries = append(cur.Entries, e)
	}

	if size > 0 {
		out = append(out, cur)
	}
	return out
}
