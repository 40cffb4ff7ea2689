package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lgesmon/lgesmon/pkg/log"
	"github.com/lgesmon/lgesmon/pkg/mqtt"
	"github.com/lgesmon/lgesmon/pkg/poller"
	"github.com/lgesmon/lgesmon/pkg/sems"
	"github.com/lgesmon/lgesmon/pkg/server"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	c := sems.Configured()
	p := poller.Configured(c)
	pub := mqtt.Configured()

	// init server
	srv := server.Configured(p)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := pub.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt broker", "error", err)
		os.Exit(1)
	}
	defer pub.Close(context.Background())

	if pub.Enabled() {
		p.AddSink(pub)
	}

	// the poller drives the portal on its own schedule, the server only ever
	// reads its latest results
	go func() {
		if err := p.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "poller failed", "error", err)
			cancel()
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
