// Package game holds the authoritative world model: players, their
// locations and health, spawn points, weapons and the per-cycle change
// tracking the dispatcher broadcasts from.
package game

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LocationSeparator joins the six components of a serialized Location.
const LocationSeparator = ":"

// ErrMalformedLocation is returned when a location string cannot be parsed.
var ErrMalformedLocation = errors.New("malformed location")

// Location is a position plus orientation. Angles are in degrees.
type Location struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Z     float32 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`
}

// ParseLocation parses the `x:y:z:yaw:pitch:roll` form produced by String.
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, LocationSeparator)
	if len(parts) != 6 {
		return Location{}, fmt.Errorf("%w: want 6 components, got %d", ErrMalformedLocation, len(parts))
	}

	var vals [6]float32
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return Location{}, fmt.Errorf("%w: component %d: %v", ErrMalformedLocation, i, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Location{}, fmt.Errorf("%w: component %d is not finite", ErrMalformedLocation, i)
		}
		vals[i] = float32(f)
	}

	return Location{
		X: vals[0], Y: vals[1], Z: vals[2],
		Yaw: vals[3], Pitch: vals[4], Roll: vals[5],
	}, nil
}

// String serializes the location using the shortest float representation.
func (l Location) String() string {
	var b strings.Builder
	for i, f := range [6]float32{l.X, l.Y, l.Z, l.Yaw, l.Pitch, l.Roll} {
		if i > 0 {
			b.WriteString(LocationSeparator)
		}
		b.WriteString(formatFloat(f))
	}
	return b.String()
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// Position returns the location's coordinates as a vector.
func (l Location) Position() Vec3 {
	return Vec3{float64(l.X), float64(l.Y), float64(l.Z)}
}

// DistanceTo returns the straight-line distance between two locations.
func (l Location) DistanceTo(o Location) float64 {
	return l.Position().Sub(o.Position()).Length()
}

// Direction returns the unit facing vector. Yaw 0 faces +Z, yaw 90 faces -X,
// positive pitch faces up.
func (l Location) Direction() Vec3 {
	yaw := float64(l.Yaw) * math.Pi / 180
	pitch := float64(l.Pitch) * math.Pi / 180
	return Vec3{
		X: -math.Sin(yaw) * math.Cos(pitch),
		Y: math.Sin(pitch),
		Z: math.Cos(yaw) * math.Cos(pitch),
	}.Normalize()
}

// Rotated returns a copy turned by the given angles, each normalized to [0, 360).
func (l Location) Rotated(yaw, pitch, roll float32) Location {
	l.Yaw = normalizeAngle(l.Yaw + yaw)
	l.Pitch = normalizeAngle(l.Pitch + pitch)
	l.Roll = normalizeAngle(l.Roll + roll)
	return l
}

func normalizeAngle(a float32) float32 {
	n := float32(math.Mod(float64(a), 360))
	if n < 0 {
		n += 360
	}
	if n >= 360 {
		n = 0
	}
	return n
}
