package server

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/veltro-project/blazingbarrels/internal/config"
)

// passwordHashCost keeps a comparison around a millisecond so checking an
// auth request does not eat into the cycle budget.
const passwordHashCost = bcrypt.MinCost

// Settings is the read-only view of the configuration the core runs on.
type Settings struct {
	Port        int
	HealthCap   int
	PlayerCap   int
	WorldRadius int

	// PasswordHash is empty when the server has no password.
	PasswordHash []byte

	CyclePeriod      time.Duration
	SnapshotInterval int

	DeauthWarnings int
	DeauthDelay    time.Duration

	InboundQueueSize  int
	OutboundQueueSize int

	Admins []string
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Port:              config.DefaultGamePort,
		HealthCap:         100,
		PlayerCap:         5,
		WorldRadius:       500,
		CyclePeriod:       33 * time.Millisecond,
		SnapshotInterval:  200,
		DeauthWarnings:    3,
		DeauthDelay:       3 * time.Second,
		InboundQueueSize:  1024,
		OutboundQueueSize: 4096,
	}
}

// SettingsFromConfig derives settings from the server_data section and
// hashes the password.
func SettingsFromConfig(sd config.ServerData) (Settings, error) {
	s := Settings{
		Port:              sd.Port,
		HealthCap:         sd.HealthCap,
		PlayerCap:         sd.PlayerCap,
		WorldRadius:       sd.WorldRadius,
		CyclePeriod:       time.Duration(sd.CyclePeriodMS) * time.Millisecond,
		SnapshotInterval:  sd.SnapshotIntervalCycles,
		DeauthWarnings:    sd.DeauthWarnings,
		DeauthDelay:       time.Duration(sd.DeauthDelayMS) * time.Millisecond,
		InboundQueueSize:  sd.InboundQueueSize,
		OutboundQueueSize: sd.OutboundQueueSize,
		Admins:            append([]string(nil), sd.Admins...),
	}
	if sd.Password != "" {
		hash, err := HashPassword(sd.Password)
		if err != nil {
			return Settings{}, err
		}
		s.PasswordHash = hash
	}
	return s, nil
}

// HashPassword hashes a server password for CheckPassword.
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash server password: %w", err)
	}
	return hash, nil
}

// PasswordRequired reports whether joining needs a password.
func (s Settings) PasswordRequired() bool {
	return len(s.PasswordHash) > 0
}

// CheckPassword reports whether password unlocks the server. Any password
// is accepted when none is configured.
func (s Settings) CheckPassword(password string) bool {
	if !s.PasswordRequired() {
		return true
	}
	return bcrypt.CompareHashAndPassword(s.PasswordHash, []byte(password)) == nil
}

// Roster answers whether a name belongs to a server administrator.
// Administrators bypass the player cap and join with the admin flag set.
type Roster interface {
	IsAdmin(name string) bool
}

// StaticRoster is a fixed, case-insensitive set of admin names.
type StaticRoster map[string]struct{}

// NewStaticRoster builds a roster from names.
func NewStaticRoster(names []string) StaticRoster {
	r := make(StaticRoster, len(names))
	for _, n := range names {
		r[strings.ToLower(n)] = struct{}{}
	}
	return r
}

func (r StaticRoster) IsAdmin(name string) bool {
	_, ok := r[strings.ToLower(name)]
	return ok
}
