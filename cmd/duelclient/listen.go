package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rickgao/duel-client/internal/connection"
	"github.com/rickgao/duel-client/internal/protocol"
)

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "connect and print every decoded event without driving pages",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "print full payload JSON",
			},
			&cli.BoolFlag{
				Name:  "handshake",
				Usage: "send a lobby handshake after connecting",
				Value: true,
			},
		},
		Action: runListen,
	}
}

// printer writes events to the console.
type printer struct {
	out     io.Writer
	verbose bool
	events  atomic.Int64
}

func (p *printer) Dispatch(ctx context.Context, ev protocol.Event) {
	p.events.Add(1)

	if p.verbose && len(ev.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(ev.Payload, &payload); err == nil {
			data, _ := json.MarshalIndent(payload, "", "  ")
			fmt.Fprintf(p.out, "[%s] %s\n", ev.Name, data)
			return
		}
	}
	fmt.Fprintf(p.out, "[%s] bytes=%d at=%s\n", ev.Name, len(ev.Payload), ev.ReceivedAt.Format(time.RFC3339Nano))
}

func runListen(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	codec, err := protocol.NewCodec(cfg.Server.Protocol)
	if err != nil {
		return err
	}

	out := &printer{out: os.Stdout, verbose: cmd.Bool("verbose")}
	appCfg := cfg.App()
	mgr := connection.NewManager(appCfg.Connection, connection.WebSocketFactory(cfg.Transport(), logger), codec, out, logger)

	return listen(ctx, mgr, cfg.Server.Endpoint, cmd.Bool("handshake"), logger, func() int64 { return out.events.Load() })
}

// listen holds a connection open until ctx is done.
func listen(ctx context.Context, mgr *connection.Manager, endpoint string, handshake bool, logger *slog.Logger, events func() int64) error {
	conn, err := mgr.Acquire(ctx, endpoint)
	if err != nil {
		return err
	}

	if handshake {
		if err := conn.Send(protocol.EventHandshake, nil); err != nil {
			logger.Warn("handshake failed", "error", err)
		}
	}

	logger.Info("listening - press Ctrl+C to stop", "endpoint", endpoint, "conn_id", conn.ID())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	if err := mgr.Close(shutdownCtx); err != nil {
		return err
	}

	stats := mgr.Stats()
	logger.Info("shutdown complete",
		"events", events(),
		"frames", stats.FramesReceived,
		"decode_errors", stats.DecodeErrors,
	)
	return nil
}
