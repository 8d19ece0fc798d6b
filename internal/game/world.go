package game

import (
	"errors"
	"math/rand/v2"
	"net"
)

// DefaultWorldRadius is the radius the default spawn points are laid out for.
const DefaultWorldRadius = 500

// ErrNameTaken is returned by Add when the name is already registered.
var ErrNameTaken = errors.New("player name already taken")

// World is the authoritative player registry and spawn pool. It is not safe
// for concurrent use; the cycle dispatcher is its only writer.
type World struct {
	radius    int
	healthCap int

	players map[string]*Player
	order   []*Player
	spawns  []Location

	rng *rand.Rand
}

// NewWorld creates an empty world. A nil rng gets a randomly seeded source.
func NewWorld(radius, healthCap int, rng *rand.Rand) *World {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &World{
		radius:    radius,
		healthCap: healthCap,
		players:   make(map[string]*Player),
		rng:       rng,
	}
}

// DefaultSpawnPoints returns four points on the compass, each facing the
// centre, scaled to the world radius.
func DefaultSpawnPoints(radius int) []Location {
	d := float32(radius) * 450 / DefaultWorldRadius
	return []Location{
		{Z: -d, Yaw: 0},
		{Z: d, Yaw: 180},
		{X: d, Yaw: 90},
		{X: -d, Yaw: 270},
	}
}

func (w *World) Radius() int    { return w.radius }
func (w *World) HealthCap() int { return w.healthCap }

// Len returns the number of registered players.
func (w *World) Len() int {
	return len(w.order)
}

// Add registers p. Names are unique case-insensitively.
func (w *World) Add(p *Player) error {
	k := Key(p.Name)
	if _, ok := w.players[k]; ok {
		return ErrNameTaken
	}
	w.players[k] = p
	w.order = append(w.order, p)
	return nil
}

// Remove unregisters p. Removing a player that is not registered is a no-op.
func (w *World) Remove(p *Player) {
	k := Key(p.Name)
	if cur, ok := w.players[k]; !ok || cur != p {
		return
	}
	delete(w.players, k)
	for i, q := range w.order {
		if q == p {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// RemoveByName unregisters the player with the given name, if any.
func (w *World) RemoveByName(name string) {
	if p, ok := w.players[Key(name)]; ok {
		w.Remove(p)
	}
}

// Lookup finds a player by name, ignoring case.
func (w *World) Lookup(name string) (*Player, bool) {
	p, ok := w.players[Key(name)]
	return p, ok
}

// Players returns the registered players in join order.
func (w *World) Players() []*Player {
	out := make([]*Player, len(w.order))
	copy(out, w.order)
	return out
}

// States returns the broadcastable state of every player in join order.
func (w *World) States() []PlayerState {
	out := make([]PlayerState, 0, len(w.order))
	for _, p := range w.order {
		out = append(out, p.State())
	}
	return out
}

// AddSpawnPoint registers a candidate spawn location.
func (w *World) AddSpawnPoint(l Location) {
	w.spawns = append(w.spawns, l)
}

// ConsumeSpawnPoint removes the first spawn point equal to l.
func (w *World) ConsumeSpawnPoint(l Location) bool {
	for i, s := range w.spawns {
		if s == l {
			w.spawns = append(w.spawns[:i], w.spawns[i+1:]...)
			return true
		}
	}
	return false
}

// SpawnPoints returns the registered spawn points.
func (w *World) SpawnPoints() []Location {
	out := make([]Location, len(w.spawns))
	copy(out, w.spawns)
	return out
}

// RandomSpawn picks a spawn point uniformly, or the origin if there are none.
func (w *World) RandomSpawn() Location {
	if len(w.spawns) == 0 {
		return Location{}
	}
	return w.spawns[w.rng.IntN(len(w.spawns))]
}

// NewPlayer builds a player at a random spawn point with full health. The
// returned player has no pending changes; it is not registered.
func (w *World) NewPlayer(name string, addr *net.UDPAddr, admin, spectator bool) *Player {
	p := &Player{
		Name:     name,
		Addr:     addr,
		Location: w.RandomSpawn(),
		Admin:    admin,
		health:   w.healthCap,
	}
	if spectator {
		p.Vanished = true
		p.FlyMode = true
		p.GodMode = true
	}
	p.Commit()
	return p
}

// SetHealth writes p's health. Values above the cap are clamped; values at
// or below zero respawn the player. It reports whether a respawn happened.
func (w *World) SetHealth(p *Player, h int) bool {
	switch {
	case h <= 0:
		w.Respawn(p)
		return true
	case h > w.healthCap:
		p.health = w.healthCap
	default:
		p.health = h
	}
	return false
}

// Damage lowers p's health by amount unless p is in god mode. It reports
// whether the damage killed the player.
func (w *World) Damage(p *Player, amount int) bool {
	if p.GodMode || amount <= 0 {
		return false
	}
	return w.SetHealth(p, p.health-amount)
}

// Respawn moves p to a random spawn point with full health. Health and
// location are tagged even when the new values equal the old ones.
func (w *World) Respawn(p *Player) {
	p.Location = w.RandomSpawn()
	p.health = w.healthCap
	p.forced |= ChangeHealth | ChangeLocation
}
