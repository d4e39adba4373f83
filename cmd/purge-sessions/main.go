package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	rowauth "github.com/goliatone/go-rowauth"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("purge-sessions"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
	logger := lgr.GetLogger("purge")

	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env file", "error", err)
	}

	opts, err := rowauth.LoadOptions()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	maxIdle := flag.Duration("max-idle", opts.SessionMaxIdle, "delete sessions idle for longer than this")
	flag.Parse()

	// Sessions live in app_private, which only the root role can reach.
	db, err := rowauth.OpenDB(ctx, opts.RootDatabaseURL, opts.DebugSQL)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sessions := rowauth.NewSessionStore(db, opts.SessionStaleness, rowauth.WithSessionLogger(lgr.GetLogger("sessions")))
	manager := rowauth.NewSessionManager(db, sessions)
	manager.MustValidate()

	n, err := manager.PurgeIdle(ctx, *maxIdle)
	if err != nil {
		logger.Error("purge failed", "error", err)
		db.Close()
		os.Exit(1)
	}

	logger.Info("done", "purged", n)
}
