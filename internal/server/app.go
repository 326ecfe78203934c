// Package server wires the relay together: storage, services, the WebSocket
// relay, the HTTP API, the reaper and metrics. It handles graceful shutdown
// on SIGINT, SIGTERM and SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/httpapi"
	"github.com/dmitrijs2005/blindrelay/internal/server/metrics"
	"github.com/dmitrijs2005/blindrelay/internal/server/reaper"
	"github.com/dmitrijs2005/blindrelay/internal/server/relay"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/blindrelay/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	ws      *relay.Server
	reaper  *reaper.Reaper
	handler http.Handler
}

// NewApp connects to the database, applies migrations and builds the App.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	return newApp(c, db, rm, clock.New(), logger, prometheus.NewRegistry()), nil
}

func newApp(
	c *config.Config,
	db *sql.DB,
	rm repomanager.RepositoryManager,
	clk clock.Clock,
	logger logging.Logger,
	reg *prometheus.Registry,
) *App {
	m := metrics.New(reg)

	identities := services.NewIdentityService(db, rm, c, clk, logger)
	messages := services.NewMessageService(db, rm, c, clk, logger)
	abuse := services.NewAbuseService(db, rm, c, clk, logger)

	rl := relay.New(identities, messages, abuse, relay.NewMemoryRegistry(), m, c, clk, logger)
	ws := relay.NewServer(rl, logger)

	h := httpapi.NewHandler(identities, messages, clk, c.SignedRequestWindow, logger)
	router := httpapi.NewRouter(h, ws, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		ws:      ws,
		reaper:  reaper.New(messages, c.ReaperInterval, clk, m, logger),
		handler: router,
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run listens on the configured address and blocks until ctx is cancelled
// or a signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	ln, err := net.Listen("tcp", app.config.ListenAddr)
	if err != nil {
		_ = app.db.Close()
		return fmt.Errorf("listen error: %w", err)
	}

	return app.serve(ctx, ln)
}

func (app *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           app.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info(ctx, "relay listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return app.reaper.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		app.logger.Info(context.Background(), "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		app.ws.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := app.db.Close(); cerr != nil {
		app.logger.Error(context.Background(), "db close error", "error", cerr)
	}
	app.logger.Info(context.Background(), "App stopped")
	return err
}
