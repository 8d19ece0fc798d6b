package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/server"
)

func (s *Server) handleKick(c *gin.Context) {
	name := c.Param("name")
	err := s.deps.Game.Kick(name)
	switch {
	case errors.Is(err, server.ErrNoSuchPlayer):
		c.JSON(http.StatusNotFound, gin.H{"error": "player not connected", "name": name})
		return
	case errors.Is(err, server.ErrBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().
		Str("player", name).
		Interface("by", c.Value(ctxSubject)).
		Msg("kick requested over API")

	c.JSON(http.StatusAccepted, gin.H{"status": "kick queued", "name": name})
}

func (s *Server) handleStop(c *gin.Context) {
	s.logger.Info().Interface("by", c.Value(ctxSubject)).Msg("stop requested over API")

	s.deps.EventBus.Emit(context.WithoutCancel(c.Request.Context()), events.Event{
		Type:   events.EventShutdown,
		Source: "api",
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}
