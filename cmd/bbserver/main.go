// bbserver runs the BlazingBarrels game server: the UDP endpoints, the
// dispatcher cycle, the history store, the admin API and the console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veltro-project/blazingbarrels/internal/api"
	"github.com/veltro-project/blazingbarrels/internal/cli"
	"github.com/veltro-project/blazingbarrels/internal/config"
	"github.com/veltro-project/blazingbarrels/internal/db"
	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/health"
	"github.com/veltro-project/blazingbarrels/internal/network"
	"github.com/veltro-project/blazingbarrels/internal/protocol"
	"github.com/veltro-project/blazingbarrels/internal/scheduler"
	"github.com/veltro-project/blazingbarrels/internal/server"
	"github.com/veltro-project/blazingbarrels/internal/telemetry"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

const banner = `
  ___ _             _             ___                  _
 | _ ) |__ _ ___ __(_)_ _  __ _  | _ ) __ _ _ _ _ _ ___| |___
 | _ \ / _' |_ / || | ' \/ _' | | _ \/ _' | '_| '_/ -_) (_-<
 |___/_\__,_/__|\_,_|_||_\__, | |___/\__,_|_| |_| \___|_/__/
                         |___/  v%s
`

const shutdownTimeout = 15 * time.Second

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the interactive setup wizard before starting")
	flag.Parse()

	fmt.Printf(banner, util.Version)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting BlazingBarrels")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	app := cfg.GetApplicationData()
	if err := util.InitLogger(app.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}
	defer util.CloseLogger()

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above or run with --setup")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		util.CloseLogger()
		os.Exit(1)
	}
	log.Info().Msg("BlazingBarrels stopped")
}

func run(cfg *config.Config) error {
	sd := cfg.GetServerData()
	app := cfg.GetApplicationData()

	settings, err := server.SettingsFromConfig(sd)
	if err != nil {
		return err
	}

	store, err := db.NewStore(app.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SeedAdmins(sd.Admins); err != nil {
		return err
	}
	if n, err := store.CloseOpenSessions("crash", time.Now()); err != nil {
		log.Warn().Err(err).Msg("failed to close stale sessions")
	} else if n > 0 {
		log.Info().Int64("sessions", n).Msg("closed sessions left open by a previous run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, e events.Event) error {
		log.Info().Str("source", e.Source).Msg("shutdown requested")
		cancel()
		return nil
	})
	store.Subscribe(eventBus)

	game := server.New(settings, server.WithRoster(store), server.WithEventBus(eventBus))
	lag := server.NewLagMonitor(eventBus)

	conn, err := network.Listen(ctx, fmt.Sprintf(":%d", settings.Port))
	if err != nil {
		return err
	}
	log.Info().Int("port", settings.Port).Msg("game socket bound")

	var counters network.Counters
	receiver := network.NewReceiver(conn, protocol.NewParser(protocol.RoleServer), game.Inbound(), &counters).
		LimitRate(sd.MaxPacketsPerSec)
	sender := network.NewSender(conn, game.Outbound(), &counters)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("task", name).Msg("starting")
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	background := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("task", name).Msg("starting")
			fn(ctx)
		}()
	}

	start("receiver", receiver.Run)
	start("sender", sender.Run)
	start("dispatcher", game.Run)

	background("health", health.NewManager(app.Timers, eventBus, game, lag).Start)
	background("scheduler", scheduler.NewScheduler(app.Database, store).Start)

	if app.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(app.MQTT, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			background("mqtt", func(ctx context.Context) {
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			})
		}
	}

	if app.API.Enabled {
		apiServer := api.NewServer(cfg, api.Dependencies{
			Game:     game,
			Store:    store,
			Lag:      lag,
			Network:  &counters,
			EventBus: eventBus,
		})
		background("api", func(ctx context.Context) {
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("admin API failed (non-fatal)")
			}
		})
	}

	console := cli.NewCLI(game, eventBus, os.Stdin, os.Stdout)
	go console.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	case <-ctx.Done():
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()

	if n, err := store.CloseOpenSessions("shutdown", time.Now()); err == nil && n > 0 {
		log.Info().Int64("sessions", n).Msg("closed sessions at shutdown")
	}

	stats := counters.Snapshot()
	log.Info().
		Uint64("received", stats.Received).
		Uint64("discarded", stats.Discarded).
		Uint64("throttled", stats.Throttled).
		Uint64("sent", stats.Sent).
		Msg("traffic totals")

	return runErr
}
