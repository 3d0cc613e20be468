// Package main runs the trading desk: the ticket workflow HTTP API for the
// chat adapter, the platform poll manager, the websocket notification stream
// and the staff alert mirror.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"trading-desk/internal/api"
	"trading-desk/internal/applog"
	"trading-desk/internal/catalog"
	"trading-desk/internal/config"
	"trading-desk/internal/matcher"
	"trading-desk/internal/notify"
	"trading-desk/internal/observability"
	"trading-desk/internal/poller"
	"trading-desk/internal/pricing"
	"trading-desk/internal/roblox"
	"trading-desk/internal/storage"
	chstore "trading-desk/internal/storage/clickhouse"
	filestore "trading-desk/internal/storage/file"
	"trading-desk/internal/storage/memory"
	"trading-desk/internal/storage/migrations"
	pgstore "trading-desk/internal/storage/postgres"
	"trading-desk/internal/ticket"
)

// Server holds the running components.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger

	stores  *allStores
	index   *catalog.Index
	matcher *matcher.Matcher
	tickets *ticket.Service
	polls   *poller.Manager
	hub     *notify.Hub

	mu      sync.Mutex
	started time.Time
	resumed int
}

// allStores holds the storage implementations selected by config.
type allStores struct {
	tickets storage.TicketStore
	deals   storage.DealStore
	catalog storage.CatalogSource
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := applog.New(cfg.LogLevel, cfg.LogJSON)

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create stores")
	}
	defer cleanup()

	server, err := newServer(ctx, cfg, logger, stores)
	if err != nil {
		logger.WithError(err).Fatal("failed to build server")
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("server error")
	}
	logger.Info("shutdown complete")
}

// createStores opens the configured backends and applies migrations.
func createStores(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*allStores, func(), error) {
	var (
		stores   = &allStores{}
		closers  []func()
		pool     *pgstore.Pool
		cleanups = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	)

	if cfg.StorageBackend == config.BackendPostgres || cfg.CatalogSource == config.CatalogFromPostgres {
		p, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, p.Close)
		if err := migrations.RunPostgresMigrations(ctx, p); err != nil {
			cleanups()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		pool = p
	}

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		stores.tickets = pgstore.NewTicketStore(pool)
	case config.BackendFile:
		ts, err := filestore.NewTicketStore(filepath.Join(cfg.DataDir, "tickets"))
		if err != nil {
			cleanups()
			return nil, nil, err
		}
		stores.tickets = ts
	default:
		stores.tickets = memory.NewTicketStore()
	}

	switch cfg.CatalogSource {
	case config.CatalogFromPostgres:
		stores.catalog = pgstore.NewCatalogStore(pool)
	default:
		stores.catalog = catalog.NewFileSource(cfg.CatalogPath)
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanups()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		stores.deals = chstore.NewDealStore(conn)
	} else {
		logger.Warn("CLICKHOUSE_DSN not set, deal ledger kept in memory")
		stores.deals = memory.NewDealStore()
	}

	ledger := "memory"
	if cfg.ClickhouseDSN != "" {
		ledger = "clickhouse"
	}
	logger.WithFields(logrus.Fields{
		"tickets": cfg.StorageBackend,
		"catalog": cfg.CatalogSource,
		"deals":   ledger,
	}).Info("stores ready")
	return stores, cleanups, nil
}

func newServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger, stores *allStores) (*Server, error) {
	index, err := catalog.Load(ctx, stores.catalog)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	aliases, err := catalog.LoadAliases(cfg.AliasesPath)
	if err != nil {
		return nil, fmt.Errorf("load aliases: %w", err)
	}
	desk, err := catalog.LoadDesk(cfg.DeskPath)
	if err != nil {
		return nil, fmt.Errorf("load desk: %w", err)
	}
	policy, err := roblox.ParseExperiencePolicy(cfg.ExperiencePolicy)
	if err != nil {
		return nil, err
	}

	platform := roblox.NewHTTPClient(cfg.RobloxCookie)
	hub := notify.NewHub(logger, nil)

	sinks := notify.Multi{notify.NewLogNotifier(logger), hub}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
	}

	staffRole := cfg.StaffRoleID
	if staffRole == "" && len(desk.SupportRoles) > 0 {
		staffRole = desk.SupportRoles[0]
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		stores:  stores,
		index:   index,
		matcher: matcher.New(index, aliases),
		hub:     hub,
		started: time.Now(),
	}

	s.polls = poller.NewManager(platform, poller.HandlerFunc(func(ctx context.Context, ev poller.Event) error {
		return s.tickets.HandlePoll(ctx, ev)
	}), poller.Options{
		GroupInterval: cfg.GroupPollInterval,
		PassInterval:  cfg.PassPollInterval,
		WaitingPeriod: cfg.WaitingPeriod,
		MaxDuration:   cfg.PollMaxDuration,
		Heartbeat:     cfg.PollHeartbeat,
		Logger:        logger,
	})

	s.tickets = ticket.New(ticket.Options{
		Tickets:          stores.tickets,
		Deals:            stores.deals,
		Matcher:          s.matcher,
		Eligibility:      pricing.NewEligibility(desk.ObtainableSet()),
		Protected:        desk.ExceptionSet(),
		Platform:         platform,
		Poller:           s.polls,
		Notifier:         sinks,
		GroupID:          cfg.GroupID,
		StaffRoleID:      staffRole,
		ExperiencePolicy: policy,
		RejectAmbiguous:  cfg.RejectAmbiguous,
		Logger:           logger,
	})

	logger.WithFields(logrus.Fields{
		"items":      index.Len(),
		"obtainable": len(desk.Obtainable),
		"protected":  len(desk.Exceptions),
		"sinks":      sinks.Name(),
	}).Info("catalog loaded")
	return s, nil
}

// Run resumes persisted polls and serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	resumed, err := s.tickets.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume tickets: %w", err)
	}
	s.mu.Lock()
	s.resumed = resumed
	s.mu.Unlock()
	s.logger.WithField("resumed", resumed).Info("ticket polls resumed")

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.HTTPAddr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("http shutdown")
	}
	if err := s.polls.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("poll shutdown")
	}
	return ctx.Err()
}

func (s *Server) router() http.Handler {
	r := api.NewRouter(&api.HTTPHandler{
		Tickets: s.tickets,
		Matcher: s.matcher,
		Logger:  s.logger,
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/ws", s.hub)
	return r
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status           string    `json:"status"`
	Uptime           string    `json:"uptime"`
	Started          time.Time `json:"started"`
	CatalogItems     int       `json:"catalog_items"`
	ActivePolls      int       `json:"active_polls"`
	ResumedPolls     int       `json:"resumed_polls"`
	WebsocketClients int       `json:"websocket_clients"`
	StorageBackend   string    `json:"storage_backend"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:           "running",
		Uptime:           time.Since(s.started).Truncate(time.Second).String(),
		Started:          s.started.UTC(),
		CatalogItems:     s.index.Len(),
		ActivePolls:      s.polls.Len(),
		ResumedPolls:     s.resumed,
		WebsocketClients: s.hub.Clients(),
		StorageBackend:   s.cfg.StorageBackend,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
