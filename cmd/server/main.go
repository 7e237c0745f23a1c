package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"roomchat/internal/api"
	"roomchat/internal/chat"
	"roomchat/internal/config"
	"roomchat/internal/db"
	"roomchat/internal/idgen"
	"roomchat/internal/registry"
	"roomchat/internal/repository"
	"roomchat/internal/rooms"
	"roomchat/internal/router"
	"roomchat/internal/tasks"
)

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	boot := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg, err := config.Load(boot)
	if err != nil {
		boot.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ops := map[string]gfshutdown.Operation{}
	closeArchive := func(context.Context) error { return nil }

	var routerOpts []router.Option
	routerOpts = append(routerOpts, router.WithLogger(logger.With(slog.String("component", "router"))))
	if cfg.ArchiveEnabled() {
		archiveLog := logger.With(slog.String("component", "archive"))
		pool, err := db.Connect(context.Background(), cfg.ArchiveDatabaseURL, archiveLog)
		if err != nil {
			logger.Error("failed to connect to archive database", slog.Any("err", err))
			os.Exit(1)
		}
		writer := repository.NewArchiveWriter(repository.NewMessagesRepo(pool), cfg.ArchiveBuffer, archiveLog)
		go writer.Run()
		routerOpts = append(routerOpts, router.WithArchive(writer))
		closeArchive = func(ctx context.Context) error {
			defer pool.Close()
			return writer.Close(ctx)
		}
	}

	hub := chat.NewHub(logger.With(slog.String("component", "gateway")))
	go hub.Run()

	store := rooms.NewStore(idgen.NewRoomIDGenerator())
	reg := registry.New()
	rt := router.New(reg, store, hub, cfg.TypingTimeout, routerOpts...)

	sweeper := tasks.NewRoomSweeper(store, cfg.RoomIdleTTL, logger.With(slog.String("component", "sweeper")))
	if err := sweeper.Start(cfg.RoomSweepSchedule); err != nil {
		logger.Error("failed to start room sweeper", slog.Any("err", err))
		os.Exit(1)
	}

	gateway := chat.NewGateway(hub, rt, chat.Options{
		SendBuffer:     cfg.SendBuffer,
		ReadLimit:      cfg.ReadLimitBytes,
		RateBurst:      cfg.RateBurst,
		RateInterval:   cfg.RateInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger.With(slog.String("component", "gateway")))

	httpLog := logger.With(slog.String("component", "http"))
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(api.NewHandler(store, reg, httpLog), gateway, cfg.AllowedOrigins, httpLog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	ops["http"] = srv.Shutdown
	// Operations run concurrently, so the archive is closed only after the
	// gateway has stopped producing messages.
	ops["gateway"] = func(ctx context.Context) error {
		err := hub.Shutdown(ctx)
		rt.Close()
		return errors.Join(err, closeArchive(ctx))
	}
	ops["sweeper"] = func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)
	exitCode := <-wait
	logger.Info("server exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}
