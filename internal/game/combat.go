package game

// Hit records the outcome of a shot against one player.
type Hit struct {
	Victim   *Player
	Damage   int
	Distance float64
	Killed   bool
}

// ResolveFire applies a shot fired by shooter along trajectory. Area weapons
// hit every other player, pulse weapons hit nobody, standard weapons hit every
// visible player whose shield the ray crosses.
func (w *World) ResolveFire(shooter *Player, trajectory Location, weapon WeaponType) []Hit {
	switch weapon.Kind {
	case WeaponPulse:
		return nil
	case WeaponArea:
		var hits []Hit
		for _, p := range w.order {
			if p == shooter || p.GodMode {
				continue
			}
			// Lethal whatever the health cap.
			dmg := max(weapon.Damage, p.health)
			hits = append(hits, w.hit(p, dmg, trajectory.DistanceTo(p.Location)))
		}
		return hits
	}

	origin := trajectory.Position()
	dir := trajectory.Direction()

	var hits []Hit
	for _, p := range w.order {
		if p == shooter || p.Vanished || p.GodMode {
			continue
		}
		if _, ok := IntersectRaySphere(origin, dir, p.Location.Position(), ShieldRadius); !ok {
			continue
		}
		dist := trajectory.DistanceTo(p.Location)
		hits = append(hits, w.hit(p, weapon.DamageAt(dist), dist))
	}
	return hits
}

func (w *World) hit(p *Player, damage int, dist float64) Hit {
	return Hit{
		Victim:   p,
		Damage:   damage,
		Distance: dist,
		Killed:   w.Damage(p, damage),
	}
}
