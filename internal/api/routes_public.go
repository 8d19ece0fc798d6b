package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "bbserver",
		"version": util.Version,
	})
}

func (s *Server) handleServerInfo(c *gin.Context) {
	settings := s.deps.Game.Settings()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":           util.Version,
		"port":              settings.Port,
		"players":           len(s.deps.Game.Players()),
		"player_cap":        settings.PlayerCap,
		"world_radius":      settings.WorldRadius,
		"health_cap":        settings.HealthCap,
		"password_required": settings.PasswordRequired(),
		"uptime_sec":        int64(time.Since(s.started).Seconds()),
		"hostname":          sysInfo.Hostname,
		"os":                sysInfo.OS,
		"cpu_cores":         sysInfo.CPUCores,
		"total_memory_mb":   sysInfo.TotalMemory,
		"weapons":           game.Weapons(),
	})
}

type tokenRequest struct {
	Password string `json:"password" binding:"required"`
}

// handleToken trades the server password for an admin token. A server
// without a password never issues tokens.
func (s *Server) handleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	settings := s.deps.Game.Settings()
	if !settings.PasswordRequired() {
		c.JSON(http.StatusForbidden, gin.H{"error": "server has no password, tokens are disabled"})
		return
	}
	if !settings.CheckPassword(req.Password) {
		s.logger.Warn().Str("client_ip", c.ClientIP()).Msg("token request with wrong password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	ttl := time.Duration(s.apiCfg.TokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	token, err := IssueToken(s.secret, ttl, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": now.Add(ttl).UTC().Format(time.RFC3339),
	})
}
