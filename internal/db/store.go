package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// Store keeps the admin roster and the play history. The roster is cached
// in memory so IsAdmin never touches the disk.
type Store struct {
	db *historyDB

	mu     sync.RWMutex
	admins map[string]string

	logger zerolog.Logger
}

// Session is one stay of a player on the server.
type Session struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Address   string     `json:"address"`
	Admin     bool       `json:"admin"`
	Spectator bool       `json:"spectator"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Kill is one recorded kill.
type Kill struct {
	ID       int64     `json:"id"`
	Victim   string    `json:"victim"`
	Killer   string    `json:"killer"`
	Weapon   int       `json:"weapon"`
	Distance float64   `json:"distance"`
	At       time.Time `json:"at"`
}

// KillCount is a leaderboard row.
type KillCount struct {
	Name  string `json:"name"`
	Kills int    `json:"kills"`
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	Sessions int64 `json:"sessions"`
	Kills    int64 `json:"kills"`
}

// NewStore opens the database at path, migrates it and loads the roster.
func NewStore(path string) (*Store, error) {
	database, err := openHistoryDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     database,
		admins: make(map[string]string),
		logger: util.ComponentLogger("store"),
	}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.loadAdmins(); err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS admins (
			name_key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			added_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			admin INTEGER NOT NULL DEFAULT 0,
			spectator INTEGER NOT NULL DEFAULT 0,
			joined_at INTEGER NOT NULL,
			left_at INTEGER,
			reason TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS kills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			victim TEXT NOT NULL,
			killer TEXT NOT NULL,
			weapon INTEGER NOT NULL,
			distance REAL NOT NULL DEFAULT 0,
			at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(name_key, left_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_left ON sessions(left_at);
		CREATE INDEX IF NOT EXISTS idx_kills_at ON kills(at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	s.logger.Debug().Msg("database schema migrated")
	return nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func (s *Store) loadAdmins() error {
	rows, err := s.db.Query("SELECT name_key, name FROM admins")
	if err != nil {
		return fmt.Errorf("failed to load admins: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return fmt.Errorf("failed to scan admin: %w", err)
		}
		s.admins[key] = name
	}
	return rows.Err()
}

// SeedAdmins adds names to the roster, keeping existing entries.
func (s *Store) SeedAdmins(names []string) error {
	now := millis(time.Now())
	err := s.db.Transaction(func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.Exec(
				"INSERT OR IGNORE INTO admins (name_key, name, added_at) VALUES (?, ?, ?)",
				strings.ToLower(name), name, now,
			); err != nil {
				return fmt.Errorf("failed to seed admin %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, name := range names {
		if _, ok := s.admins[strings.ToLower(name)]; !ok {
			s.admins[strings.ToLower(name)] = name
		}
	}
	s.mu.Unlock()
	return nil
}

// RemoveAdmin deletes name from the roster.
func (s *Store) RemoveAdmin(name string) error {
	key := strings.ToLower(name)
	if _, err := s.db.Exec("DELETE FROM admins WHERE name_key = ?", key); err != nil {
		return fmt.Errorf("failed to remove admin %s: %w", name, err)
	}
	s.mu.Lock()
	delete(s.admins, key)
	s.mu.Unlock()
	return nil
}

// IsAdmin reports whether name is on the roster, ignoring case.
func (s *Store) IsAdmin(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[strings.ToLower(name)]
	return ok
}

// Admins returns the roster sorted by name.
func (s *Store) Admins() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.admins))
	for _, name := range s.admins {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// OpenSession records a join.
func (s *Store) OpenSession(name, address string, admin, spectator bool, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (name, name_key, address, admin, spectator, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, strings.ToLower(name), address, admin, spectator, millis(at),
	)
	if err != nil {
		return fmt.Errorf("failed to open session for %s: %w", name, err)
	}
	return nil
}

// CloseSession closes the latest open session of name.
func (s *Store) CloseSession(name, reason string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET left_at = ?, reason = ?
		 WHERE id = (SELECT id FROM sessions WHERE name_key = ? AND left_at IS NULL ORDER BY id DESC LIMIT 1)`,
		millis(at), reason, strings.ToLower(name),
	)
	if err != nil {
		return fmt.Errorf("failed to close session for %s: %w", name, err)
	}
	return nil
}

// CloseOpenSessions closes every session still open, for example after an
// unclean shutdown. It returns how many were closed.
func (s *Store) CloseOpenSessions(reason string, at time.Time) (int64, error) {
	res, err := s.db.Exec("UPDATE sessions SET left_at = ?, reason = ? WHERE left_at IS NULL", millis(at), reason)
	if err != nil {
		return 0, fmt.Errorf("failed to close open sessions: %w", err)
	}
	return res.RowsAffected()
}

// RecordKill stores a kill.
func (s *Store) RecordKill(victim, killer string, weapon int, distance float64, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO kills (victim, killer, weapon, distance, at) VALUES (?, ?, ?, ?, ?)",
		victim, killer, weapon, distance, millis(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record kill: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, name, address, admin, spectator, joined_at, left_at, reason
		 FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess   Session
			joined int64
			left   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.Address, &sess.Admin, &sess.Spectator, &joined, &left, &sess.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.JoinedAt = fromMillis(joined)
		if left.Valid {
			t := fromMillis(left.Int64)
			sess.LeftAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RecentKills returns up to limit kills, newest first.
func (s *Store) RecentKills(limit int) ([]Kill, error) {
	rows, err := s.db.Query(
		"SELECT id, victim, killer, weapon, distance, at FROM kills ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query kills: %w", err)
	}
	defer rows.Close()

	var out []Kill
	for rows.Next() {
		var (
			k  Kill
			at int64
		)
		if err := rows.Scan(&k.ID, &k.Victim, &k.Killer, &k.Weapon, &k.Distance, &at); err != nil {
			return nil, fmt.Errorf("failed to scan kill: %w", err)
		}
		k.At = fromMillis(at)
		out = append(out, k)
	}
	return out, rows.Err()
}

// Leaderboard returns the players with the most kills.
func (s *Store) Leaderboard(limit int) ([]KillCount, error) {
	rows, err := s.db.Query(
		"SELECT killer, COUNT(*) AS n FROM kills GROUP BY killer ORDER BY n DESC, killer ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []KillCount
	for rows.Next() {
		var kc KillCount
		if err := rows.Scan(&kc.Name, &kc.Kills); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

// Cleanup deletes closed sessions and kills older than cutoff.
func (s *Store) Cleanup(cutoff time.Time) (CleanupResult, error) {
	var res CleanupResult
	err := s.db.Transaction(func(tx *sql.Tx) error {
		r, err := tx.Exec("DELETE FROM sessions WHERE left_at IS NOT NULL AND left_at < ?", millis(cutoff))
		if err != nil {
			return fmt.Errorf("failed to clean sessions: %w", err)
		}
		res.Sessions, _ = r.RowsAffected()

		r, err = tx.Exec("DELETE FROM kills WHERE at < ?", millis(cutoff))
		if err != nil {
			return fmt.Errorf("failed to clean kills: %w", err)
		}
		res.Kills, _ = r.RowsAffected()
		return nil
	})
	return res, err
}

// Subscribe records joins, leaves and kills published on bus.
func (s *Store) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventPlayerJoined, "store.joined", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.PlayerJoinedPayload)
		if !ok {
			return nil
		}
		return s.OpenSession(p.Name, p.Address, p.Admin, p.Spectator, e.Time)
	})
	bus.Subscribe(events.EventPlayerLeft, "store.left", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.PlayerLeftPayload)
		if !ok {
			return nil
		}
		return s.CloseSession(p.Name, p.Reason, e.Time)
	})
	bus.Subscribe(events.EventPlayerKilled, "store.killed", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.PlayerKilledPayload)
		if !ok {
			return nil
		}
		return s.RecordKill(p.Victim, p.Killer, p.Weapon, p.Distance, e.Time)
	})
}
