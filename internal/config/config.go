// Package config loads, validates and persists the server configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/veltro-project/blazingbarrels/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 7430
	DefaultAPIPort    = 7431
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	ServerData      ServerData      `json:"server_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData holds the game server settings.
type ServerData struct {
	Port        int    `json:"port"`
	HealthCap   int    `json:"health_cap"`
	PlayerCap   int    `json:"player_cap"`
	WorldRadius int    `json:"world_radius"`
	Password    string `json:"password"`

	// Cycle timing
	CyclePeriodMS          int `json:"cycle_period_ms"`
	SnapshotIntervalCycles int `json:"snapshot_interval_cycles"`

	// Authorization expiry
	DeauthWarnings int `json:"deauth_warnings"`
	DeauthDelayMS  int `json:"deauth_delay_ms"`

	InboundQueueSize  int `json:"inbound_queue_size"`
	OutboundQueueSize int `json:"outbound_queue_size"`

	// Per-source datagram budget, 0 disables
	MaxPacketsPerSec int `json:"max_packets_per_sec"`

	Admins []string `json:"admins"`
}

// ApplicationData holds settings for the supporting services.
type ApplicationData struct {
	Logging  util.LogConfig `json:"logging"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Database DatabaseConfig `json:"database"`
	Timers   TimerConfig    `json:"timers"`
}

// APIConfig holds admin API settings.
type APIConfig struct {
	Enabled         bool     `json:"enabled"`
	Port            int      `json:"port"`
	JWTSecret       string   `json:"jwt_secret"`
	TokenTTLMinutes int      `json:"token_ttl_minutes"`
	AuthDisabled    bool     `json:"auth_disabled"`
	AllowedOrigins  []string `json:"allowed_origins"`
	RateLimitRPS    int      `json:"rate_limit_rps"`
	TLSEnabled      bool     `json:"tls_enabled"`
	CertFile        string   `json:"cert_file"`
	KeyFile         string   `json:"key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig holds the history store settings.
type DatabaseConfig struct {
	Path                 string `json:"path"`
	HistoryRetentionDays int    `json:"history_retention_days"`
	CleanupTime          string `json:"cleanup_time"`
}

// TimerConfig holds health check intervals.
type TimerConfig struct {
	HeartbeatInterval int `json:"heartbeat_interval_sec"`
	LagCheckInterval  int `json:"lag_check_interval_sec"`
}

// DefaultConfig returns a configuration with the standard defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerData: ServerData{
			Port:                   DefaultGamePort,
			HealthCap:              100,
			PlayerCap:              5,
			WorldRadius:            500,
			CyclePeriodMS:          33,
			SnapshotIntervalCycles: 200,
			DeauthWarnings:         3,
			DeauthDelayMS:          3000,
			InboundQueueSize:       1024,
			OutboundQueueSize:      4096,
			MaxPacketsPerSec:       300,
			Admins:                 []string{},
		},
		ApplicationData: ApplicationData{
			Logging: util.DefaultLogConfig(),
			API: APIConfig{
				Enabled:         true,
				Port:            DefaultAPIPort,
				TokenTTLMinutes: 60,
				AllowedOrigins:  []string{},
				RateLimitRPS:    20,
				CertFile:        filepath.Join(DefaultConfigDir, "api.crt"),
				KeyFile:         filepath.Join(DefaultConfigDir, "api.key"),
			},
			MQTT: MQTTConfig{
				Port:        8883,
				UseTLS:      true,
				ClientID:    "bbserver",
				TopicPrefix: "blazingbarrels",
			},
			Database: DatabaseConfig{
				Path:                 "data/bbserver.db",
				HistoryRetentionDays: 30,
				CleanupTime:          "04:00",
			},
			Timers: TimerConfig{
				HeartbeatInterval: 60,
				LagCheckInterval:  120,
			},
		},
	}
}

// Load reads config.json from configDir. A missing file is created with
// defaults; an existing file is overlaid on the defaults and re-saved so
// newly added keys appear in it.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		cfg := DefaultConfig()
		cfg.path = configPath
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if err := cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("failed to re-save config with updated defaults")
	}
	return cfg, nil
}

// Save writes the configuration to its file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerData returns a copy of the game server settings.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sd := c.ServerData
	sd.Admins = append([]string(nil), c.ServerData.Admins...)
	return sd
}

// SetServerData replaces the game server settings.
func (c *Config) SetServerData(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerData = data
}

// GetApplicationData returns a copy of the supporting service settings.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData replaces the supporting service settings.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Redacted returns a copy safe to show over the API: secrets are blanked.
func (c *Config) Redacted() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Config{
		ServerData:      c.ServerData,
		ApplicationData: c.ApplicationData,
	}
	if out.ServerData.Password != "" {
		out.ServerData.Password = "********"
	}
	if out.ApplicationData.API.JWTSecret != "" {
		out.ApplicationData.API.JWTSecret = "********"
	}
	return out
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether the file was never reviewed by an operator:
// no password and no admins.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData.Password == "" && len(c.ServerData.Admins) == 0
}
