package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rolzie-7/Bin-map/internal/app"
	"github.com/rolzie-7/Bin-map/internal/core/config"
	"github.com/rolzie-7/Bin-map/internal/core/server"
	"github.com/rolzie-7/Bin-map/internal/invalidation/kafkaconsumer"
	"github.com/rolzie-7/Bin-map/internal/logger"
	"github.com/rolzie-7/Bin-map/internal/metrics"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/screen"
	"github.com/rolzie-7/Bin-map/internal/source/postgres"
	"github.com/rolzie-7/Bin-map/internal/surface/web"
	"github.com/rolzie-7/Bin-map/internal/viewport"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "binmap",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if cfg.Source.Driver != config.SourcePostgres {
			appLog.Error("migrations need the postgres driver", "driver", cfg.Source.Driver)
			return 1
		}
		if err := postgres.Migrate(ctx, cfg.Source.DatabaseURL); err != nil {
			appLog.Error("migration failed", "err", err)
			return 1
		}
		appLog.Info("migrations applied")
		return 0
	}

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Path:    cfg.Metrics.Path,
		Version: Version,
	})

	appLog.Info("starting binmap",
		"addr", cfg.Addr,
		"version", Version,
		"source", cfg.Source.Driver,
		"surface", cfg.Map.Surface,
		"cache", cfg.Cache.Enabled)

	stack, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer stack.Close()

	if cfg.Invalidation.Enabled {
		cons := kafkaconsumer.New(
			kafkaconsumer.FromConfig(cfg.Invalidation, cfg.Source.Table),
			appLog, stack.Store, stack.Mapper)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	home := screen.NewHome(stack.Source, screen.Options{
		DefaultCenter: cfg.Map.DefaultCenter,
		InitialZoom:   cfg.Map.InitialZoom,
		TitleStyle:    present.TitleFromDesc,
		Logger:        appLog,
	})

	deps := server.Deps{
		Logger:      appLog,
		Source:      stack.Source,
		Home:        home,
		MinZoom:     cfg.Map.MinZoom,
		MetricsPath: prov.Path(),
		ReadyChecks: stack.Checks,
		CORSOrigins: cfg.Origins(),
		TitleStyle:  present.TitleFromDesc,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = prov.Handler()
	}
	if cfg.Map.Surface == config.SurfaceWeb {
		deps.MapSessions = web.NewHandler(web.Options{
			APIKey:           cfg.Map.APIKey,
			MinZoom:          cfg.Map.MinZoom,
			InitialZoom:      cfg.Map.InitialZoom,
			DefaultCenter:    cfg.Map.DefaultCenter,
			IdleEventsPerSec: cfg.Map.IdleEventsPerSec,
			AllowedOrigins:   cfg.Origins(),
			Logger:           appLog,
		}, func(ctx context.Context, s *web.Session) error {
			ctrl := viewport.New(stack.Source, s, viewport.Options{
				MinZoom:       cfg.Map.MinZoom,
				InitialZoom:   cfg.Map.InitialZoom,
				LocateTimeout: cfg.Map.LocateTimeout,
				Locator:       s,
				TitleStyle:    present.TitleFromDesc,
				Logger:        appLog.With("session_id", s.ID()),
			})
			return ctrl.Run(ctx)
		})
	}

	if err := server.Run(ctx, cfg.Addr, server.NewHandler(deps), appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
