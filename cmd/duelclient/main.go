package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/duel-client/internal/app"
	"github.com/rickgao/duel-client/internal/config"
	"github.com/rickgao/duel-client/internal/connection"
	"github.com/rickgao/duel-client/internal/protocol"
	"github.com/rickgao/duel-client/internal/status"
	"github.com/rickgao/duel-client/internal/version"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    version.Name,
		Usage:   "headless realtime client for the duel game backend",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (defaults apply when empty)",
				Sources: cli.EnvVars("DUEL_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "backend WebSocket URL, overrides server.endpoint",
				Sources: cli.EnvVars("DUEL_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "overrides logging.level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "connect, follow the game flow and serve /health",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "join-room",
						Usage: "room to join; a new room is created when empty",
					},
					&cli.IntFlag{
						Name:  "rounds",
						Usage: "matches to play before exiting (0 plays forever)",
						Value: 1,
					},
				},
				Action: runClient,
			},
			listenCommand(),
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Println(version.Name, version.String())
					return nil
				},
			},
		},
	}
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.ClientConfig, error) {
	var cfg *config.ClientConfig
	if path := cmd.String("config"); path != "" {
		loaded, err := config.LoadWithDefaults(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if endpoint := cmd.String("endpoint"); endpoint != "" {
		cfg.Server.Endpoint = endpoint
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func runClient(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.Logging.NewLogger(os.Stdout)
	if err != nil {
		return err
	}

	logger.Info("starting duel client",
		"version", version.Version,
		"commit", version.Commit,
		"endpoint", cfg.Server.Endpoint,
		"protocol", cfg.Server.Protocol,
	)

	codec, err := protocol.NewCodec(cfg.Server.Protocol)
	if err != nil {
		return err
	}

	pages := newHeadlessPages(cmd.String("join-room"), int(cmd.Int("rounds")), logger)
	client := app.New(cfg.App(), connection.WebSocketFactory(cfg.Transport(), logger), codec, pages, logger)
	pages.app = client

	if cfg.Status.Interval > 0 {
		reporter := status.New(cfg.Reporter(), client, nil, logger)
		reporter.Start(ctx)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			reporter.Stop(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pages.run(gctx)
	})

	if cfg.Health.Addr != "" {
		healthServer := &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           createHealthHandler(client, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting health server", "addr", cfg.Health.Addr)
			if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return healthServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := client.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("stop failed", "error", stopErr)
	}

	if err != nil && !errors.Is(err, errRoundsPlayed) {
		return err
	}

	stats := client.Stats()
	logger.Info("duel client stopped",
		"rounds", pages.roundsPlayed(),
		"phase", stats.Navigation.Phase.String(),
		"dispatched", stats.Registry.Dispatched,
	)
	return nil
}
