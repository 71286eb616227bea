// Command chatcore runs the real-time delivery core: the websocket hub
// and its sibling pagination HTTP surface, wired to a single Postgres
// store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duoline/chatcore/internal/auth"
	"github.com/duoline/chatcore/internal/config"
	"github.com/duoline/chatcore/internal/conversations"
	"github.com/duoline/chatcore/internal/events"
	"github.com/duoline/chatcore/internal/hub"
	"github.com/duoline/chatcore/internal/httpapi"
	"github.com/duoline/chatcore/internal/logging"
	"github.com/duoline/chatcore/internal/messages"
	"github.com/duoline/chatcore/internal/presence"
	"github.com/duoline/chatcore/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatcore: load config:", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.Env)
	logger.Info().Str("env", cfg.Env).Int("port", cfg.Port).Msg("starting chatcore")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := store.Open(ctx, cfg.DB.DSN())
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database pool")
	}
	defer pool.Close()

	gw := store.New(pool)
	reg := presence.New()
	convSvc := conversations.New(gw)
	msgSvc := messages.New(gw)
	consolidator := events.New(gw)
	verifier := auth.NewVerifier(cfg.JWT.Secret)

	h := hub.New(verifier, gw, convSvc, msgSvc, consolidator, reg, logger)
	api := httpapi.New(verifier, convSvc, msgSvc, h, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.Routes(cfg.CORS.Origin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
