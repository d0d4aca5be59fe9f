// Comms Bridge streams Mission Control events to a local agent runtime
// and relays the agents' replies back through the hub.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openclaw/mission-control/pkg/bridge"
)

// logDeliverer is the fallback runtime hook used when no gateway is
// configured: it logs inbound traffic and never replies.
type logDeliverer struct {
	logger *slog.Logger
}

func (d *logDeliverer) DeliverMessage(_ context.Context, session *bridge.SessionMapping, msg bridge.InboundMessage) (string, error) {
	d.logger.Info("Inbound message",
		"session_key", session.SessionKey,
		"channel_id", msg.ChannelID,
		"sender", msg.SenderName,
		"content", msg.Content)
	return "", nil
}

func (d *logDeliverer) DeliverCommand(_ context.Context, session *bridge.SessionMapping, cmd bridge.InboundCommand) (string, error) {
	d.logger.Info("Inbound command",
		"session_key", session.SessionKey,
		"channel_id", cmd.ChannelID,
		"command", cmd.Command,
		"args", cmd.Args)
	return "", nil
}

func main() {
	configPath := flag.String("config", "mc-bridge.yaml", "Path to bridge config file")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	logger := slog.Default()

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	var runtime bridge.Deliverer = &logDeliverer{logger: logger}
	if cfg.Runtime.BaseURL != "" {
		runtime = bridge.NewGatewayClient(cfg.Runtime.BaseURL)
	}

	b, err := bridge.New(cfg, runtime, logger)
	if err != nil {
		slog.Error("Failed to initialize bridge", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := b.Run(ctx); err != nil {
		slog.Error("Bridge exited with error", "error", err)
		os.Exit(1)
	}
}
