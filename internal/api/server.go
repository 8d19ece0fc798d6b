package api

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/config"
	"github.com/veltro-project/blazingbarrels/internal/db"
	"github.com/veltro-project/blazingbarrels/internal/events"
	intnet "github.com/veltro-project/blazingbarrels/internal/network"
	"github.com/veltro-project/blazingbarrels/internal/server"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// Dependencies are the runtime components the API reads from and controls.
type Dependencies struct {
	Game     *server.Server
	Store    *db.Store
	Lag      *server.LagMonitor
	Network  *intnet.Counters
	EventBus *events.EventBus
}

// Server is the admin REST API.
type Server struct {
	cfg     *config.Config
	apiCfg  config.APIConfig
	deps    Dependencies
	secret  []byte
	feed    *Feed
	router  *gin.Engine
	httpSrv *http.Server
	started time.Time
	logger  zerolog.Logger
}

// NewServer builds the router. A missing jwt secret is replaced by a random
// one, so tokens do not survive a restart.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	app := cfg.GetApplicationData()
	if app.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		apiCfg:  app.API,
		deps:    deps,
		started: time.Now(),
		logger:  util.ComponentLogger("api"),
	}

	s.secret = []byte(app.API.JWTSecret)
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		_, _ = rand.Read(s.secret)
		s.logger.Warn().Msg("no jwt_secret configured, using an ephemeral key")
	}

	s.feed = NewFeed(deps.EventBus)
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.apiCfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if s.apiCfg.TLSEnabled {
		if _, err := util.EnsureSelfSignedCert(s.apiCfg.CertFile, s.apiCfg.KeyFile, util.GetSystemInfo().Hostname); err != nil {
			ln.Close()
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(s.apiCfg.CertFile, s.apiCfg.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, s.httpSrv.TLSConfig)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", s.apiCfg.TLSEnabled).Msg("admin API starting")

	go func() {
		<-ctx.Done()
		s.feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("admin API shutdown")
		}
	}()

	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.apiCfg.RateLimitRPS).Middleware())

	auth := NewAuthMiddleware(s.secret, s.apiCfg.AuthDisabled)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
		public.POST("/token", s.handleToken)
	}

	monitor := router.Group("/api/monitor")
	monitor.Use(auth.RequireAuth())
	{
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/config", s.handleConfig)
		monitor.GET("/stats", s.handleStats)
		monitor.GET("/history", s.handleHistory)
		monitor.GET("/feed", s.handleFeed)
	}

	control := router.Group("/api/control")
	control.Use(auth.RequireAuth())
	{
		control.POST("/kick/:name", s.handleKick)
		control.POST("/stop", s.handleStop)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "BlazingBarrels admin API is running"})
	})

	return router
}
