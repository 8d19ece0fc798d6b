package server

import (
	"context"
	"net"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/protocol"
)

// handlerFunc applies one inbound packet to the world and returns the
// packets to send in response.
type handlerFunc func(ctx context.Context, s *Server, pkt protocol.Packet) []protocol.Packet

var handlers = map[protocol.Kind]handlerFunc{
	protocol.KindAuthRequest: handleAuthRequest,
	protocol.KindJoin:        handleJoin,
	protocol.KindDisconnect:  handleDisconnect,
	protocol.KindUpdate:      handleUpdate,
	protocol.KindFire:        handleFire,
}

// dispatch runs the handler for pkt. A panicking handler is logged and its
// packet dropped; the cycle carries on.
func (s *Server) dispatch(ctx context.Context, pkt protocol.Packet) {
	h, ok := handlers[pkt.Kind()]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.handlerPanics.Add(1)
			s.logger.Error().
				Interface("panic", r).
				Stringer("kind", pkt.Kind()).
				Stringer("remote", pkt.Addr).
				Msg("packet handler panicked")
		}
	}()
	s.outbox = append(s.outbox, h(ctx, s, pkt)...)
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// toAll addresses body to every player in players.
func toAll(players []*game.Player, body protocol.Body) []protocol.Packet {
	out := make([]protocol.Packet, 0, len(players))
	for _, p := range players {
		out = append(out, protocol.Packet{Addr: p.Addr, Body: body})
	}
	return out
}

func handleAuthRequest(ctx context.Context, s *Server, pkt protocol.Packet) []protocol.Packet {
	req := pkt.Body.(protocol.AuthRequest)
	reply := func(v protocol.Verdict) []protocol.Packet {
		s.logger.Debug().
			Str("player", req.Username).
			Stringer("remote", pkt.Addr).
			Stringer("verdict", v).
			Msg("auth request")
		return []protocol.Packet{{Addr: pkt.Addr, Body: protocol.AuthResponse{Username: req.Username, Verdict: v}}}
	}

	if !s.settings.CheckPassword(req.Password) {
		return reply(protocol.VerdictBadPassword)
	}
	if _, ok := s.world.Lookup(req.Username); ok {
		return reply(protocol.VerdictNameTaken)
	}
	if pending, ok := s.deauth.Lookup(req.Username); ok {
		// a repeated request from the same client gets its answer again
		if sameAddr(pending.UDPAddr(), pkt.Addr) {
			return reply(protocol.VerdictOK)
		}
		return reply(protocol.VerdictNameTaken)
	}
	if !s.roster.IsAdmin(req.Username) && s.world.Len()+s.deauth.Len() >= s.settings.PlayerCap {
		return reply(protocol.VerdictCapReached)
	}

	if !s.deauth.Arm(req.Username, pkt.Addr) {
		return reply(protocol.VerdictNameTaken)
	}
	s.emit(ctx, events.EventPlayerAuthorized, events.PlayerAuthorizedPayload{
		Name:    req.Username,
		Address: pkt.Addr.String(),
	})
	return reply(protocol.VerdictOK)
}

func handleJoin(ctx context.Context, s *Server, pkt protocol.Packet) []protocol.Packet {
	join := pkt.Body.(protocol.Join)

	if _, ok := s.world.Lookup(join.Username); ok {
		s.logger.Debug().Str("player", join.Username).Msg("join for a connected name ignored")
		return nil
	}
	auth, ok := s.deauth.Cancel(join.Username)
	if !ok {
		s.logger.Debug().Str("player", join.Username).Stringer("remote", pkt.Addr).Msg("join without authorization ignored")
		return nil
	}

	admin := s.roster.IsAdmin(auth.Name)
	p := s.world.NewPlayer(auth.Name, pkt.Addr, admin, join.Spectator)
	if err := s.world.Add(p); err != nil {
		s.logger.Warn().Err(err).Str("player", auth.Name).Msg("failed to add player")
		return nil
	}

	s.logger.Info().
		Str("player", p.Name).
		Stringer("remote", pkt.Addr).
		Bool("admin", admin).
		Bool("spectator", join.Spectator).
		Msg("player joined")
	s.emit(ctx, events.EventPlayerJoined, events.PlayerJoinedPayload{
		Name:      p.Name,
		Address:   pkt.Addr.String(),
		Admin:     admin,
		Spectator: join.Spectator,
	})

	connect := protocol.Connect{
		Username: p.Name,
		Location: p.Location,
		Health:   p.Health(),
		Admin:    p.Admin,
		Vanished: p.Vanished,
	}
	out := toAll(s.world.Players(), connect)
	for _, snap := range s.snapshots() {
		out = append(out, protocol.Packet{Addr: p.Addr, Body: snap})
	}
	return out
}

func handleDisconnect(ctx context.Context, s *Server, pkt protocol.Packet) []protocol.Packet {
	d := pkt.Body.(protocol.Disconnect)
	if p, ok := s.world.Lookup(d.Username); ok {
		// whatever reason a client claims, leaving on its own is a quit
		p.Disconnect(game.ReasonQuit)
	}
	return nil
}

func handleUpdate(ctx context.Context, s *Server, pkt protocol.Packet) []protocol.Packet {
	u := pkt.Body.(protocol.Update)
	p, ok := s.world.Lookup(u.Username)
	if !ok {
		return nil
	}
	p.Addr = pkt.Addr

	if u.HasLocation {
		p.Location = u.Location
	}
	if u.ToggleFly {
		p.FlyMode = !p.FlyMode
	}

	if !p.Admin {
		if u.HasHealth || u.ToggleAdmin || u.ToggleGod || u.ToggleVisibility {
			s.logger.Debug().Str("player", p.Name).Msg("ignoring admin-only update fields")
		}
		return nil
	}
	if u.HasHealth {
		s.world.SetHealth(p, u.Health)
	}
	if u.ToggleGod {
		p.GodMode = !p.GodMode
	}
	if u.ToggleVisibility {
		p.Vanished = !p.Vanished
	}
	if u.ToggleAdmin {
		p.Admin = !p.Admin
	}
	return nil
}

func handleFire(ctx context.Context, s *Server, pkt protocol.Packet) []protocol.Packet {
	f := pkt.Body.(protocol.Fire)
	shooter, ok := s.world.Lookup(f.Username)
	if !ok {
		return nil
	}
	shooter.Addr = pkt.Addr

	weapon, _ := game.LookupWeapon(f.Weapon)
	for _, hit := range s.world.ResolveFire(shooter, f.Trajectory, weapon) {
		if !hit.Killed {
			continue
		}
		s.logger.Info().
			Str("victim", hit.Victim.Name).
			Str("killer", shooter.Name).
			Str("weapon", weapon.Name).
			Float64("distance", hit.Distance).
			Msg("player killed")
		s.emit(ctx, events.EventPlayerKilled, events.PlayerKilledPayload{
			Victim:   hit.Victim.Name,
			Killer:   shooter.Name,
			Weapon:   int(weapon.ID),
			Distance: hit.Distance,
		})
	}

	f.Username = shooter.Name
	return toAll(s.world.Players(), f)
}
