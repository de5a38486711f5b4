package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"

	"packrat/internal/api"
	"packrat/internal/catalog"
	"packrat/internal/config"
	"packrat/internal/db"
	"packrat/internal/discord"
	"packrat/internal/game"
	"packrat/internal/store"
	"packrat/internal/store/filestore"
	"packrat/internal/store/pgstore"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// A missing catalog disables spawning but must not kill the process.
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed, card features disabled", "path", cfg.CatalogPath, "err", err)
		cat = nil
	} else {
		logger.Info("catalog loaded", "path", cfg.CatalogPath, "cards", cat.Len())
	}

	svc := game.NewService(cat, st, logger, game.Options{
		SpawnMinInterval: cfg.SpawnMinInterval,
		SpawnMaxInterval: cfg.SpawnMaxInterval,
		ClaimWindow:      cfg.ClaimWindow,
		StealSessionTTL:  cfg.StealSessionTTL,
	})

	bot, err := discord.New(cfg.DiscordToken, svc, logger)
	if err != nil {
		logger.Error("discord setup failed", "err", err)
		os.Exit(1)
	}
	if err := bot.Open(); err != nil {
		logger.Error("discord connect failed", "err", err)
		os.Exit(1)
	}
	defer bot.Close()

	sched, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("scheduler setup failed", "err", err)
		os.Exit(1)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.SpawnCheckEvery),
		gocron.NewTask(func() {
			tickCtx, cancel := context.WithTimeout(context.Background(), cfg.SpawnCheckEvery)
			defer cancel()
			for _, ev := range svc.RunSpawnCheck(tickCtx) {
				bot.Announce(ev)
			}
		}),
	)
	if err != nil {
		logger.Error("spawn job setup failed", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer func() { _ = sched.Shutdown() }()

	httpServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.New(logger, svc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("ops api listening", "addr", cfg.APIAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops api failed", "err", err)
		}
	}()

	logger.Info("packrat running", "spawn_check_every", cfg.SpawnCheckEvery.String())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("packrat shutdown")
}

func openStore(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, db.Config{URL: cfg.DatabaseURL, MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres store")
		return pgstore.Open(ctx, pool)
	}
	logger.Info("using flat-file store", "dir", cfg.DataDir)
	return filestore.Open(cfg.DataDir)
}
