// Package server is the authoritative game core: it owns the world, runs
// the fixed-period cycle that applies inbound packets and broadcasts the
// resulting changes, and supervises pending authorizations.
package server

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/protocol"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

var (
	// ErrNoSuchPlayer is returned when a control names a player who is not connected.
	ErrNoSuchPlayer = errors.New("no such player")
	// ErrBusy is returned when the control queue is full.
	ErrBusy = errors.New("control queue full")
)

const controlQueueSize = 64

// PlayerInfo is a published view of one connected player.
type PlayerInfo struct {
	game.PlayerState
	Address string `json:"address"`
}

// Stats are cycle counters, safe to read from any goroutine.
type Stats struct {
	Cycles          uint64        `json:"cycles"`
	Overruns        uint64        `json:"overruns"`
	LastCycle       time.Duration `json:"last_cycle_ns"`
	MaxCycle        time.Duration `json:"max_cycle_ns"`
	HandlerPanics   uint64        `json:"handler_panics"`
	OutboundDropped uint64        `json:"outbound_dropped"`
	Players         int           `json:"players"`
	Pending         int           `json:"pending"`
}

type control struct {
	kick string
}

// Server is the context object shared by every part of the core. Only the
// goroutine running Run touches the world.
type Server struct {
	settings Settings
	world    *game.World
	roster   Roster
	eventBus *events.EventBus
	deauth   *Supervisor

	inbound  chan protocol.Packet
	outbound chan protocol.Packet
	controls chan control

	// per-cycle scratch, dispatcher goroutine only
	batch         []protocol.Packet
	outbox        []protocol.Packet
	sinceSnapshot int

	rng     *rand.Rand
	players atomic.Pointer[[]PlayerInfo]

	cycles          atomic.Uint64
	overruns        atomic.Uint64
	lastCycle       atomic.Int64
	maxCycle        atomic.Int64
	handlerPanics   atomic.Uint64
	outboundDropped atomic.Uint64

	logger zerolog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithRand seeds spawn selection, for reproducible worlds.
func WithRand(rng *rand.Rand) Option {
	return func(s *Server) { s.rng = rng }
}

// WithRoster sets the admin roster. The default roster is built from
// Settings.Admins.
func WithRoster(r Roster) Option {
	return func(s *Server) { s.roster = r }
}

// WithEventBus sets the bus game events are emitted on.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Server) { s.eventBus = bus }
}

// New creates a server with an empty world and default spawn points.
func New(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		roster:   NewStaticRoster(settings.Admins),
		inbound:  make(chan protocol.Packet, settings.InboundQueueSize),
		outbound: make(chan protocol.Packet, settings.OutboundQueueSize),
		controls: make(chan control, controlQueueSize),
		logger:   util.ComponentLogger("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.world = game.NewWorld(settings.WorldRadius, settings.HealthCap, s.rng)
	for _, l := range game.DefaultSpawnPoints(settings.WorldRadius) {
		s.world.AddSpawnPoint(l)
	}
	s.deauth = NewSupervisor(settings.DeauthWarnings, settings.DeauthDelay, s.enqueue, s.onExpire)

	empty := []PlayerInfo{}
	s.players.Store(&empty)
	return s
}

// Inbound is the queue the receive endpoint feeds.
func (s *Server) Inbound() chan<- protocol.Packet {
	return s.inbound
}

// Outbound is the queue the send endpoint drains.
func (s *Server) Outbound() <-chan protocol.Packet {
	return s.outbound
}

// Settings returns the settings the server runs with.
func (s *Server) Settings() Settings {
	return s.settings
}

// Run cycles until ctx is cancelled. A cycle that finishes early sleeps out
// the rest of the period; one that overruns is followed immediately by the
// next, without catching up.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("period", s.settings.CyclePeriod).
		Int("snapshot_interval", s.settings.SnapshotInterval).
		Msg("dispatcher started")
	defer s.deauth.Close()

	timer := time.NewTimer(s.settings.CyclePeriod)
	defer timer.Stop()

	for {
		start := time.Now()
		s.Cycle(ctx)
		elapsed := time.Since(start)

		if elapsed >= s.settings.CyclePeriod {
			s.recordOverrun(ctx, elapsed)
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("dispatcher stopping")
				return nil
			default:
				continue
			}
		}

		timer.Reset(s.settings.CyclePeriod - elapsed)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("dispatcher stopping")
			return nil
		case <-timer.C:
		}
	}
}

// Cycle runs one dispatch: controls, then the inbound packets queued at the
// start of the cycle in priority order, then the broadcast phase.
func (s *Server) Cycle(ctx context.Context) {
	start := time.Now()
	s.outbox = s.outbox[:0]

	s.applyControls()

	s.batch = s.batch[:0]
	for n := len(s.inbound); n > 0; n-- {
		s.batch = append(s.batch, <-s.inbound)
	}
	sort.SliceStable(s.batch, func(i, j int) bool {
		return s.batch[i].Kind().Priority() < s.batch[j].Kind().Priority()
	})
	for _, pkt := range s.batch {
		s.dispatch(ctx, pkt)
	}

	s.broadcast(ctx)
	s.publish()

	for _, pkt := range s.outbox {
		s.enqueue(pkt)
	}

	d := time.Since(start)
	s.cycles.Add(1)
	s.lastCycle.Store(int64(d))
	if int64(d) > s.maxCycle.Load() {
		s.maxCycle.Store(int64(d))
	}
}

func (s *Server) recordOverrun(ctx context.Context, elapsed time.Duration) {
	n := s.overruns.Add(1)
	s.logger.Debug().Dur("elapsed", elapsed).Uint64("overruns", n).Msg("cycle overran its period")
	s.emit(ctx, events.EventCycleOverrun, events.CycleOverrunPayload{
		Cycle:    s.cycles.Load(),
		Duration: elapsed,
		Period:   s.settings.CyclePeriod,
	})
}

// enqueue hands a packet to the send endpoint without blocking. Packets are
// dropped when the queue is full.
func (s *Server) enqueue(pkt protocol.Packet) {
	select {
	case s.outbound <- pkt:
	default:
		n := s.outboundDropped.Add(1)
		s.logger.Warn().
			Stringer("kind", pkt.Kind()).
			Stringer("remote", pkt.Addr).
			Uint64("dropped", n).
			Msg("outbound queue full, dropping packet")
	}
}

func (s *Server) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(ctx, events.Event{Type: t, Source: "server", Payload: payload})
}

func (s *Server) onExpire(p Pending) {
	s.logger.Info().Str("player", p.Name).Str("remote", p.Addr).Msg("authorization expired without a join")
	s.emit(context.Background(), events.EventAuthorizationExpired, events.AuthorizationExpiredPayload{Name: p.Name})
}

// publish stores the roster view read by the console and the API.
func (s *Server) publish() {
	players := s.world.Players()
	out := make([]PlayerInfo, 0, len(players))
	for _, p := range players {
		out = append(out, PlayerInfo{PlayerState: p.State(), Address: p.Addr.String()})
	}
	s.players.Store(&out)
}

// Players returns the roster as of the end of the last cycle.
func (s *Server) Players() []PlayerInfo {
	return *s.players.Load()
}

// Pending returns the authorizations still waiting for a join.
func (s *Server) Pending() []Pending {
	return s.deauth.List()
}

// Stats returns the cycle counters.
func (s *Server) Stats() Stats {
	return Stats{
		Cycles:          s.cycles.Load(),
		Overruns:        s.overruns.Load(),
		LastCycle:       time.Duration(s.lastCycle.Load()),
		MaxCycle:        time.Duration(s.maxCycle.Load()),
		HandlerPanics:   s.handlerPanics.Load(),
		OutboundDropped: s.outboundDropped.Load(),
		Players:         len(s.Players()),
		Pending:         s.deauth.Len(),
	}
}

// Kick queues a kick of name for the next cycle.
func (s *Server) Kick(name string) error {
	found := false
	for _, p := range s.Players() {
		if strings.EqualFold(p.Name, name) {
			found = true
			break
		}
	}
	if !found {
		return ErrNoSuchPlayer
	}

	select {
	case s.controls <- control{kick: name}:
		return nil
	default:
		return ErrBusy
	}
}

func (s *Server) applyControls() {
	for {
		select {
		case c := <-s.controls:
			p, ok := s.world.Lookup(c.kick)
			if !ok {
				s.logger.Debug().Str("player", c.kick).Msg("kick target already gone")
				continue
			}
			p.Disconnect(game.ReasonKick)
			s.logger.Info().Str("player", p.Name).Msg("player kicked")
		default:
			return
		}
	}
}
