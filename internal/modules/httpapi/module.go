package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/fx"

	"github.com/ibx/engine/internal/modules/config"
)

func runHTTP(lc fx.Lifecycle, cfg *config.Config, srv *Server) {
	port := cfg.Service.PublicPort
	if port == 0 {
		port = 8080
	}
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", httpServer.Addr)
			if err != nil {
				return err
			}
			go func() { _ = httpServer.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("httpapi",
		fx.Provide(NewServer),
		fx.Invoke(runHTTP),
	)
}
