package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/gitpress/gitpress/internal/api/middleware"
	"github.com/gitpress/gitpress/internal/api/route"
	appctx "github.com/gitpress/gitpress/internal/app"
	"github.com/gitpress/gitpress/internal/config"
	"github.com/gitpress/gitpress/internal/logger"

	"github.com/enrichman/httpgrace"
)

func main() {
	// .env is optional; real environments set GITPRESS_* directly.
	_ = godotenv.Load()

	confPath := os.Getenv("GITPRESS_CONF_PATH")
	if confPath == "" {
		confPath = "."
	}
	cfg, err := config.LoadConfig(confPath)
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	logger.SetLevel(cfg.Misc.LogLevel)
	logger.WithComponent("main").Infof("storage mode: %s", cfg.Storage.Mode)
	logger.WithComponent("main").Infof("cache backend: %s", cfg.Cache.Backend)
	logger.WithComponent("main").Infof("app will run on port: %d", cfg.Server.Port)

	app, err := appctx.New(cfg)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	defer app.Shutdown()

	if err := app.StartWatchers(); err != nil {
		logger.WithComponent("main").Fatalf("cannot start watchers: %v", err)
	}

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Logger.Writer()
	gin.DefaultErrorWriter = logger.Logger.Writer()

	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware(logger.Logger))
	r.Use(gin.Recovery())
	route.SetupRoutes(r, app)

	srv := createGraceHTTPServer(app.BaseCtx, "cms-server", cfg.Server, r)
	if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Fatal(err)
	}
}

func createGraceHTTPServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	slogLogger := slog.New(slog.NewTextHandler(logger.Logger.Writer(), nil))

	srv := httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slogLogger),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("shutting down %s....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
	return srv
}
