package server

import (
	"context"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/protocol"
)

// snapshots serializes the whole world, header first, in registry order.
func (s *Server) snapshots() []protocol.Snapshot {
	states := s.world.States()
	entries := make([]protocol.SnapshotEntry, len(states))
	for i, st := range states {
		entries[i] = protocol.EntryFromState(st)
	}
	header := &protocol.WorldHeader{Radius: s.world.Radius(), HealthCap: s.world.HealthCap()}
	return protocol.BuildSnapshots(header, entries, protocol.MaxSnapshotPayload)
}

// delta builds the update announcing changes of p. Location and health of
// a vanished player stay private; a player who just reappeared sends both.
func delta(p *game.Player, changes game.ChangeSet) protocol.Update {
	u := protocol.Update{
		Username:         p.Name,
		ToggleAdmin:      changes.Has(game.ChangeAdmin),
		ToggleGod:        changes.Has(game.ChangeGodMode),
		ToggleVisibility: changes.Has(game.ChangeVisibility),
	}
	if p.Vanished {
		return u
	}
	reappeared := changes.Has(game.ChangeVisibility)
	if reappeared || changes.Has(game.ChangeLocation) {
		u.HasLocation, u.Location = true, p.Location
	}
	if reappeared || changes.Has(game.ChangeHealth) {
		u.HasHealth, u.Health = true, p.Health()
	}
	return u
}

// broadcast finalizes disconnects, then sends either a full snapshot or the
// per-player deltas, and commits every remaining player.
func (s *Server) broadcast(ctx context.Context) {
	for _, p := range s.world.Players() {
		changes := p.Changes()
		if !changes.IsDisconnect() {
			continue
		}
		reason, _ := changes.Reason()
		// Players removed earlier in this loop are not told; p itself is.
		notice := protocol.Disconnect{Username: p.Name, Reason: reason}
		s.outbox = append(s.outbox, toAll(s.world.Players(), notice)...)
		s.world.Remove(p)

		s.logger.Info().Str("player", p.Name).Stringer("reason", reason).Msg("player left")
		s.emit(ctx, events.EventPlayerLeft, events.PlayerLeftPayload{Name: p.Name, Reason: reason.String()})
	}

	remaining := s.world.Players()

	s.sinceSnapshot++
	if s.sinceSnapshot >= s.settings.SnapshotInterval {
		s.sinceSnapshot = 0
		for _, snap := range s.snapshots() {
			s.outbox = append(s.outbox, toAll(remaining, snap)...)
		}
	} else {
		for _, p := range remaining {
			changes := p.Changes()
			if changes.Empty() {
				continue
			}
			if u := delta(p, changes); !u.Empty() {
				s.outbox = append(s.outbox, toAll(remaining, u)...)
			}
		}
	}

	for _, p := range remaining {
		p.Commit()
	}
}
