package game

// WeaponID is the wire identifier of a weapon type.
type WeaponID int

// WeaponKind selects how a fire packet is resolved.
type WeaponKind int

const (
	// WeaponStandard weapons are resolved with a ray test.
	WeaponStandard WeaponKind = iota
	// WeaponArea weapons damage every player except the shooter.
	WeaponArea
	// WeaponPulse weapons do no server-side damage and are only rebroadcast.
	WeaponPulse
)

func (k WeaponKind) String() string {
	switch k {
	case WeaponArea:
		return "area"
	case WeaponPulse:
		return "pulse"
	default:
		return "standard"
	}
}

// MarshalText reports the kind by name.
func (k WeaponKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// WeaponType is one row of the static weapon table.
type WeaponType struct {
	ID     WeaponID `json:"id"`
	Name   string   `json:"name"`
	Damage int      `json:"damage"`
	// Falloff is subtracted from Damage per 100 units of distance.
	// A negative value makes the weapon stronger at range.
	Falloff float64    `json:"falloff"`
	Kind    WeaponKind `json:"kind"`
}

const (
	WeaponGaussTurret WeaponID = iota
	WeaponMinigun
	WeaponAntimatterBeam
	WeaponRiftJet
	WeaponNuke
	WeaponEMP
)

var weaponTable = []WeaponType{
	{ID: WeaponGaussTurret, Name: "gauss_turret", Damage: 20, Falloff: 0, Kind: WeaponStandard},
	{ID: WeaponMinigun, Name: "minigun", Damage: 3, Falloff: 0, Kind: WeaponStandard},
	{ID: WeaponAntimatterBeam, Name: "antimatter_beam", Damage: 80, Falloff: 1.5, Kind: WeaponStandard},
	{ID: WeaponRiftJet, Name: "rift_jet", Damage: 60, Falloff: -2.5, Kind: WeaponStandard},
	{ID: WeaponNuke, Name: "nuke", Damage: 9999, Falloff: 0, Kind: WeaponArea},
	{ID: WeaponEMP, Name: "emp", Damage: 0, Falloff: 0, Kind: WeaponPulse},
}

// LookupWeapon returns the weapon with the given identifier.
func LookupWeapon(id WeaponID) (WeaponType, bool) {
	for _, w := range weaponTable {
		if w.ID == id {
			return w, true
		}
	}
	return WeaponType{}, false
}

// Weapons returns a copy of the weapon table.
func Weapons() []WeaponType {
	out := make([]WeaponType, len(weaponTable))
	copy(out, weaponTable)
	return out
}

// DamageAt returns the damage dealt at the given distance, never negative.
func (w WeaponType) DamageAt(distance float64) int {
	d := w.Damage - int(w.Falloff*distance/100)
	if d < 0 {
		return 0
	}
	return d
}
