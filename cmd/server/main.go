package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	rowauth "github.com/goliatone/go-rowauth"
	"github.com/goliatone/go-rowauth/activitymap"
	"github.com/goliatone/go-rowauth/middleware/sessionware"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("rowauth"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
	logger := lgr.GetLogger("server")

	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env file", "error", err)
	}

	if err := run(ctx, stop, lgr); err != nil {
		logger.Error("server failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, lgr *glog.BaseLogger) error {
	logger := lgr.GetLogger("server")

	opts, err := rowauth.LoadOptions()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := rowauth.OpenDB(ctx, opts.DatabaseURL, opts.DebugSQL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	rootDB, err := rowauth.OpenDB(ctx, opts.RootDatabaseURL, opts.DebugSQL)
	if err != nil {
		return fmt.Errorf("connect root database: %w", err)
	}
	defer rootDB.Close()

	bridge, err := rowauth.NewBridge(db, opts,
		rowauth.WithLogger(lgr.GetLogger("bridge")),
		rowauth.WithBridgePrivilegedDB(rootDB),
		rowauth.WithActivitySink(rowauth.ActivitySinkFunc(func(_ context.Context, event rowauth.ActivityEvent) error {
			lgr.GetLogger("activity").Info("identity event", activitymap.Normalize(event).Attrs()...)
			return nil
		})),
	)
	if err != nil {
		return fmt.Errorf("build auth bridge: %w", err)
	}

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			AppName:      "rowauth",
			ErrorHandler: rowauth.ErrorHandler(lgr.GetLogger("http")),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		})
	})

	srv.Router().WithLogger(lgr.GetLogger("router"))

	srv.Router().Get("/health", func(c router.Context) error {
		if err := db.PingContext(c.Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(router.StatusOK, map[string]string{"status": "ok"})
	}).SetName("health.get")

	api := srv.Router().Group("/auth")
	api.Use(sessionware.New(sessionware.Config{
		Builder:      bridge.Builder,
		ErrorHandler: rowauth.RouteErrorHandler(lgr.GetLogger("http")),
		Logger:       lgr.GetLogger("sessionware"),
		TokenLookup:  opts.GetTokenLookup(),
		AuthScheme:   opts.GetAuthScheme(),
	}))
	rowauth.RegisterAuthRoutes(api, bridge.Mutations, rowauth.WithControllerLogger(lgr.GetLogger("controller")))

	go func() {
		logger.Info("listening", "addr", opts.HTTPAddr)
		if err := srv.Serve(opts.HTTPAddr); err != nil {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
