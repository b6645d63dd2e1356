package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/boardgo/server/internal/config"
	"github.com/boardgo/server/internal/discovery"
	"github.com/boardgo/server/internal/persist"
	"github.com/boardgo/server/internal/rules"
	"github.com/boardgo/server/internal/rules/cardpack"
	"github.com/boardgo/server/internal/rules/luapack"
	"github.com/boardgo/server/internal/server"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to server.toml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store persist.Store
	if cfg.Database.DSN != "" {
		pg := persist.NewSessionStore(cfg.Database, log)
		if err := pg.Open(ctx); err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer pg.Close()
		store = pg
		log.Info("persistence enabled")
	} else {
		log.Info("persistence disabled, no database configured")
	}

	packs, cleanup, err := buildPacks(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	log.Info("rules packs loaded", zap.Strings("packs", packs.IDs()))

	srv := server.New(server.Deps{
		Cfg:   cfg,
		Log:   log,
		Packs: packs,
		Store: store,
	})
	if err := srv.Listen(); err != nil {
		return err
	}

	announcer := discovery.NewAnnouncer(cfg.Server.SessionID, srv.Port(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return announcer.Run(gctx) })
	return g.Wait()
}

func buildPacks(cfg *config.Config, log *zap.Logger) (*rules.Registry, func(), error) {
	reg := rules.NewRegistry(log)

	def := cardpack.DefaultDefinition()
	if cfg.Game.PackDefinition != "" {
		loaded, err := cardpack.LoadDefinition(cfg.Game.PackDefinition)
		if err != nil {
			return nil, nil, fmt.Errorf("load pack definition: %w", err)
		}
		def = loaded
	}
	reg.Register(cardpack.New(def, cfg.Game.Seed))

	cleanup := func() {}
	if cfg.Game.ScriptsDir != "" {
		engine, err := luapack.NewEngine(cfg.Game.ScriptsDir, log)
		if err != nil {
			return nil, nil, fmt.Errorf("load lua packs: %w", err)
		}
		for _, p := range engine.Packs() {
			reg.Register(p)
		}
		cleanup = engine.Close
	}
	return reg, cleanup, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func defaultConfigPath() string {
	if p := os.Getenv("BOARDGO_CONFIG"); p != "" {
		return p
	}
	return "config/server.toml"
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
