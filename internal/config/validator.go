package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError is a single problem found in the configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the errors that prevent startup and the warnings
// that don't.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid reports whether there are no errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	sd := cfg.GetServerData()
	app := cfg.GetApplicationData()

	validateServerData(&sd, result)
	validateApplicationData(&app, result)

	if app.API.Enabled && app.API.Port == sd.Port {
		result.AddError("application_data.api.port", "api port must differ from the game port")
	}
	return result
}

func validateServerData(data *ServerData, result *ValidationResult) {
	validatePort(data.Port, "server_data.port", result)

	positive := []struct {
		field string
		value int
	}{
		{"server_data.health_cap", data.HealthCap},
		{"server_data.player_cap", data.PlayerCap},
		{"server_data.world_radius", data.WorldRadius},
		{"server_data.cycle_period_ms", data.CyclePeriodMS},
		{"server_data.snapshot_interval_cycles", data.SnapshotIntervalCycles},
		{"server_data.deauth_delay_ms", data.DeauthDelayMS},
		{"server_data.inbound_queue_size", data.InboundQueueSize},
		{"server_data.outbound_queue_size", data.OutboundQueueSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			result.AddError(p.field, fmt.Sprintf("must be positive, got %d", p.value))
		}
	}
	if data.MaxPacketsPerSec < 0 {
		result.AddError("server_data.max_packets_per_sec", "must not be negative")
	} else if data.MaxPacketsPerSec == 0 {
		result.AddWarning("server_data.max_packets_per_sec", "per-source datagram limit is disabled")
	}
	if data.DeauthWarnings < 0 {
		result.AddError("server_data.deauth_warnings", "must not be negative")
	}

	if data.Password == "" {
		result.AddWarning("server_data.password", "no password set, anyone can join")
	} else if strings.ContainsAny(data.Password, " \t\r\n") {
		result.AddError("server_data.password", "password cannot contain whitespace")
	}

	if data.CyclePeriodMS > 100 {
		result.AddWarning("server_data.cycle_period_ms",
			fmt.Sprintf("cycle period of %dms will feel sluggish", data.CyclePeriodMS))
	}

	seen := make(map[string]bool, len(data.Admins))
	for _, name := range data.Admins {
		key := strings.ToLower(name)
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, ".: ") {
			result.AddError("server_data.admins", fmt.Sprintf("invalid admin name %q", name))
		} else if seen[key] {
			result.AddWarning("server_data.admins", fmt.Sprintf("duplicate admin name %q", name))
		}
		seen[key] = true
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if !data.API.AuthDisabled && len(data.API.JWTSecret) < 32 {
			result.AddWarning("application_data.api.jwt_secret",
				"jwt secret is shorter than 32 characters, a random one will be generated at startup")
		}
		if data.API.TokenTTLMinutes < 1 {
			result.AddError("application_data.api.token_ttl_minutes", "token ttl must be at least 1 minute")
		}
		if data.API.TLSEnabled && (data.API.CertFile == "" || data.API.KeyFile == "") {
			result.AddError("application_data.api.cert_file", "cert_file and key_file are required when TLS is enabled")
		}
		if !data.API.TLSEnabled && !data.API.AuthDisabled {
			result.AddWarning("application_data.api.tls_enabled", "tokens and the server password travel in clear text without TLS")
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Database.HistoryRetentionDays < 1 {
		result.AddError("application_data.database.history_retention_days",
			"retention days must be at least 1")
	}
	if _, err := time.Parse("15:04", data.Database.CleanupTime); err != nil {
		result.AddError("application_data.database.cleanup_time",
			fmt.Sprintf("invalid cleanup time %q (want HH:MM)", data.Database.CleanupTime))
	}

	if data.Timers.HeartbeatInterval < 1 {
		result.AddError("application_data.timers.heartbeat_interval_sec", "must be at least 1 second")
	} else if data.Timers.HeartbeatInterval < 10 {
		result.AddWarning("application_data.timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if data.Timers.LagCheckInterval < 1 {
		result.AddError("application_data.timers.lag_check_interval_sec", "must be at least 1 second")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
