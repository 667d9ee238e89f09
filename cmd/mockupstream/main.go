// Command mockupstream runs the programmable mock upstream on its own, for
// trying out proxy timeouts by hand.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"timeoutproxy/internal/mockserver"
)

type cli struct {
	Addr  string `kong:"default=':5234',help='Listen address.',env='MOCK_ADDR'"`
	Stubs string `kong:"short='s',help='Path to a TOML stub file.',env='MOCK_STUBS'"`
	Debug bool   `kong:"help='Enable debug logging.'"`
}

func main() {
	var args cli
	kong.Parse(&args,
		kong.Name("mockupstream"),
		kong.Description("Programmable mock upstream with delays and a request log."),
	)

	level := slog.LevelInfo
	if args.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	srv := mockserver.New(logger)
	if args.Stubs != "" {
		stubs, err := mockserver.LoadStubs(args.Stubs)
		if err != nil {
			logger.Error("failed to load stubs", "err", err)
			os.Exit(1)
		}
		for _, s := range stubs {
			srv.Given(s)
		}
		logger.Info("stubs loaded", "count", len(stubs), "file", args.Stubs)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpServer := &http.Server{
		Addr:              args.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("mock upstream listening", "addr", args.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}
