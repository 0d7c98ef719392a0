package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ibx/engine/internal/engine"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/modules/health"
	"github.com/ibx/engine/internal/modules/httpapi"
	"github.com/ibx/engine/internal/modules/metrics"
	"github.com/ibx/engine/internal/modules/postgres"
	"github.com/ibx/engine/pkg/logger"
	"github.com/ibx/engine/pkg/tracing"
)

func main() {
	info, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	fatal, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	logger.Init(info, fatal)

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			_, closer, err := tracing.InitTracer(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
			if err != nil {
				logger.Warn("tracer init failed, continuing without tracing: %v", err)
				return
			}
			lc.Append(fx.Hook{OnStop: func(context.Context) error { closer(); return nil }})
		}),
		health.Module(),
		metrics.Module(),
		httpapi.Module(),
		engine.Module(),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}
