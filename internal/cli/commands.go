// Package cli implements the operator console: a line-oriented command reader
// on standard input with read-only status commands plus kick and stop.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/server"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// ErrUsage is returned for a command with the wrong arguments.
var ErrUsage = errors.New("usage")

// CLI reads commands from in and writes responses to out.
type CLI struct {
	game     *server.Server
	eventBus *events.EventBus
	in       io.Reader
	out      io.Writer
	logger   zerolog.Logger
}

// NewCLI creates a console bound to game.
func NewCLI(game *server.Server, eventBus *events.EventBus, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		game:     game,
		eventBus: eventBus,
		in:       in,
		out:      out,
		logger:   util.ComponentLogger("cli"),
	}
}

// Start runs the command loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nBlazingBarrels console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				c.logger.Debug().Msg("console input closed")
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line. A leading slash is ignored.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "info":
		c.printInfo()
	case "list", "ls":
		c.printPlayers()
	case "version":
		fmt.Fprintf(c.out, "BlazingBarrels server %s\n", util.Version)
	case "kick":
		return c.cmdKick(args)
	case "stop", "quit", "exit":
		c.cmdStop(ctx)
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nCommands:")
	fmt.Fprintln(c.out, "  help           Show this help message")
	fmt.Fprintln(c.out, "  info           Show server settings")
	fmt.Fprintln(c.out, "  list           List connected players")
	fmt.Fprintln(c.out, "  version        Show the server version")
	fmt.Fprintln(c.out, "  kick <name>    Disconnect a player")
	fmt.Fprintln(c.out, "  stop           Shut the server down")
	fmt.Fprintln(c.out)
}

func (c *CLI) printInfo() {
	s := c.game.Settings()
	password := "no"
	if s.PasswordRequired() {
		password = "yes"
	}
	fmt.Fprintf(c.out, "\n  Port:          %d\n", s.Port)
	fmt.Fprintf(c.out, "  Password set:  %s\n", password)
	fmt.Fprintf(c.out, "  Player cap:    %d\n", s.PlayerCap)
	fmt.Fprintf(c.out, "  World radius:  %d\n", s.WorldRadius)
	fmt.Fprintf(c.out, "  Health cap:    %d\n", s.HealthCap)
	fmt.Fprintf(c.out, "  Cycle period:  %s\n", s.CyclePeriod)
	fmt.Fprintf(c.out, "  Players:       %d\n\n", len(c.game.Players()))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func (c *CLI) printPlayers() {
	players := c.game.Players()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players connected.")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Name", "Health", "Location", "Admin", "God", "Fly", "Vanished"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range players {
		tw.Append([]string{
			p.Name,
			fmt.Sprintf("%d", p.Health),
			formatLocation(p.Location),
			yesNo(p.Admin),
			yesNo(p.GodMode),
			yesNo(p.FlyMode),
			yesNo(p.Vanished),
		})
	}
	tw.Render()
}

func formatLocation(l game.Location) string {
	return fmt.Sprintf("%.1f, %.1f, %.1f", l.X, l.Y, l.Z)
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: kick <name>", ErrUsage)
	}
	if err := c.game.Kick(args[0]); err != nil {
		return fmt.Errorf("cannot kick %s: %w", args[0], err)
	}
	fmt.Fprintf(c.out, "Kick queued for %s\n", args[0])
	return nil
}

func (c *CLI) cmdStop(ctx context.Context) {
	fmt.Fprintln(c.out, "Shutting down BlazingBarrels...")
	c.eventBus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:   events.EventShutdown,
		Source: "cli",
	})
}
