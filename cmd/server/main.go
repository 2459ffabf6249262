package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/chesspark/chesspark-server/internal/config"
	"github.com/chesspark/chesspark-server/internal/game"
	"github.com/chesspark/chesspark-server/internal/httpapi"
	"github.com/chesspark/chesspark-server/internal/lookup"
	"github.com/chesspark/chesspark-server/internal/obslog"
	"github.com/chesspark/chesspark-server/internal/presence"
	"github.com/chesspark/chesspark-server/internal/router"
	"github.com/chesspark/chesspark-server/internal/session"
	"github.com/chesspark/chesspark-server/internal/validator"
	"github.com/chesspark/chesspark-server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		log.Printf("config load failed, using defaults: %v", err)
		cfg = appcfg.Default()
	}

	if err := obslog.Init(obslog.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		ToConsole: cfg.Log.ToConsole,
		File:      cfg.Log.File,
	}); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		obslog.L().Fatal("redis_url_error", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		obslog.L().Fatal("redis_connect_error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()
	obslog.L().Info("redis_connected", zap.String("addr", opts.Addr))

	var archive *game.Archive
	if cfg.Postgres.URL != "" {
		archive, err = game.NewArchive(cfg.Postgres.URL)
		if err != nil {
			obslog.L().Fatal("postgres_connect_error", zap.Error(err))
		}
		defer func() { _ = archive.Close() }()
		if err := archive.EnsureSchema(ctx); err != nil {
			obslog.L().Fatal("schema_error", zap.Error(err))
		}
		obslog.L().Info("postgres_connected")
	} else {
		obslog.L().Warn("postgres_disabled", zap.String("reason", "no url configured; results and stats are not archived"))
	}

	reg := presence.NewRegistry(rdb)
	rt := router.New()
	rooms := session.NewRooms()
	store := game.NewStore(rdb, cfg.Session.GameTTL)

	var archiver session.Archiver
	var directory lookup.Directory
	var users ws.UserDirectory
	if archive != nil {
		archiver = archive
		directory = archive
		users = archive
	}

	coord := session.NewCoordinator(store, archiver, validator.New(), reg, rt, rooms, session.Options{
		AllowSpectators: cfg.Session.AllowSpectators,
		ForfeitAfter:    cfg.Session.DisconnectForfeit,
	})
	gateway := ws.NewGateway(coord, reg, rt, users)
	coord.SetPresenceChanged(gateway.BroadcastSnapshot)

	reaper := presence.NewReaper(reg, cfg.Presence.ReaperInterval, cfg.Presence.StaleAfter, coord.HandleEvict)
	go reaper.Run(ctx)
	go coord.RunRoomSweeper(ctx, cfg.Presence.ReaperInterval)

	lkp := lookup.NewService(directory, reg)
	handler := httpapi.NewHandler(gateway, lkp, store)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("server_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("server_shutdown")
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
}
