package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) handlePlayers(c *gin.Context) {
	players := s.deps.Game.Players()
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"pending": s.deps.Game.Pending(),
		"total":   len(players),
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Redacted())
}

func (s *Server) handleStats(c *gin.Context) {
	out := gin.H{
		"server":          s.deps.Game.Stats(),
		"cycle_period_ms": s.deps.Game.Settings().CyclePeriod.Milliseconds(),
		"feed_clients":    s.feed.ClientCount(),
	}
	if s.deps.Lag != nil {
		out["lag"] = s.deps.Lag.Report()
	}
	if s.deps.Network != nil {
		out["network"] = s.deps.Network.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store unavailable"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	sessions, err := s.deps.Store.RecentSessions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	kills, err := s.deps.Store.RecentKills(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	leaders, err := s.deps.Store.Leaderboard(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":    sessions,
		"kills":       kills,
		"leaderboard": leaders,
	})
}

func (s *Server) handleFeed(c *gin.Context) {
	if err := s.feed.Serve(c.Writer, c.Request); err != nil {
		s.logger.Debug().Err(err).Msg("feed upgrade failed")
	}
}
