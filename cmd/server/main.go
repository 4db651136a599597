package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/cryptop2p/internal/api"
	"github.com/xtrntr/cryptop2p/internal/auth"
	"github.com/xtrntr/cryptop2p/internal/chain"
	"github.com/xtrntr/cryptop2p/internal/config"
	"github.com/xtrntr/cryptop2p/internal/db"
	"github.com/xtrntr/cryptop2p/internal/exchange"
	"github.com/xtrntr/cryptop2p/internal/metrics"
	"github.com/xtrntr/cryptop2p/internal/rates"
	"github.com/xtrntr/cryptop2p/internal/txrelay"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Main entry point: sets up database, services, and HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DBURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close(context.Background())
	if err := database.Ping(ctx); err != nil {
		log.WithError(err).Fatal("database is not reachable")
	}

	m := metrics.New()

	gateway := chain.New(cfg.TatumBaseURL, cfg.TatumAPIKey,
		chain.WithTimeout(cfg.GatewayTimeout),
		chain.WithRateLimit(cfg.GatewayRateLimit),
		chain.WithMetrics(m),
	)
	if _, ok := gateway.(chain.Fallback); ok {
		log.Warn("no chain provider key configured, broadcasting in fallback mode")
	}

	rateService, err := rates.NewService(cfg.RatesBaseURL, cfg.RatesTTL, cfg.RatesTimeout)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize rates service")
	}

	feed := api.NewFeed()
	ex := exchange.NewExchange(database,
		exchange.WithStrictConfirm(cfg.ConfirmRequiresTaker),
		exchange.WithMetrics(m),
		exchange.WithNotifier(feed.Notify),
	)
	relay := txrelay.NewReconciler(database, database, gateway, m)
	authService := auth.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL)

	handler := api.NewHandler(ex, relay, authService, database, rateService)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(handler, feed, m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("starting server on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return feed.Run(gctx, ex, cfg.FeedInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server failed")
	}
	log.Info("server stopped")
}
