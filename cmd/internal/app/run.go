package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run wires config, logging, and the App together for cmd/zap. It returns
// the error instead of exiting so main keeps a single os.Exit and deferred
// cleanup still runs. SIGINT and SIGTERM cancel the root context, which
// drains the websocket sessions before the listeners stop.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
