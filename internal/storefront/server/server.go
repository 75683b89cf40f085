package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/config"
	"github.com/25x8/digital-storefront/internal/storefront/handlers"
	"github.com/25x8/digital-storefront/internal/storefront/metrics"
	"github.com/25x8/digital-storefront/internal/storefront/middleware"
	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/notify"
	"github.com/25x8/digital-storefront/internal/storefront/provider"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/25x8/digital-storefront/internal/storefront/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	repo       repository.Repository
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	worker     *service.Worker
	handler    *handlers.Handler
	httpServer *http.Server
}

// NewServer wires the storefront from configuration. Collectors are registered with reg.
func NewServer(cfg *config.Config, reg prometheus.Registerer) *Server {
	m := metrics.New(reg)

	var repo repository.Repository
	if cfg.DatabaseURI == "" {
		slog.Warn("DATABASE_URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository()
	} else {
		repo = repository.NewPostgresRepository()
	}

	var gateway provider.Gateway
	if cfg.ProviderBaseURL == "" {
		slog.Warn("PROVIDER_BASE_URL is empty, using the mock top-up provider")
		gateway = provider.NewMock()
	} else {
		gateway = provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout, cfg.PlayerLookupDelay, m)
	}

	var notifier notify.Notifier
	if brokers := notify.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		notifier = notify.NewKafkaNotifier(brokers, cfg.NotificationsTopic, cfg.AdminChatID)
	} else {
		notifier = notify.NewLogNotifier(slog.Default())
	}

	dispatcher := service.NewDispatcher(repo, notifier, m)
	finalizer := service.NewFinalizer(repo)
	orders := service.NewOrderService(repo, finalizer, dispatcher, m)
	providerOrders := service.NewProviderOrderService(repo, gateway, service.NewScheduler(), cfg.PollInitialDelay, m)
	checkout := service.NewCheckout(repo, gateway, orders, providerOrders)
	topUps := service.NewTopUpService(repo, dispatcher, cfg.RUBPerUSDT)
	admin := service.NewAdminService(repo)

	worker := service.NewWorker(repo, service.WorkerConfig{
		Interval: cfg.WorkerInterval,
		Batch:    cfg.WorkerBatch,
		Lease:    cfg.JobLease,
	}, m)
	worker.Register(models.JobKindCheckProviderStatus, service.NewStatusPoller(repo, gateway, finalizer, dispatcher, service.PollerConfig{
		BaseDelay:  cfg.PollBaseDelay,
		MaxRetries: cfg.PollMaxRetries,
	}))

	return &Server{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		metrics:  m,
		worker:   worker,
		handler:  handlers.NewHandler(repo, checkout, orders, providerOrders, topUps, admin, cfg.JWTSecret),
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(s.metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", s.handler.RegisterUser)
		r.Post("/login", s.handler.LoginUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(&middleware.JWTConfig{
				SecretKey: s.cfg.JWTSecret,
				Repo:      s.repo,
			}))

			r.Get("/me", s.handler.GetProfile)
			r.Get("/orders", s.handler.GetOrders)
			r.Post("/orders", s.handler.CreateOrder)
			r.Get("/orders/{id}", s.handler.GetOrder)
			r.Get("/payments", s.handler.GetPayments)
			r.Post("/payments", s.handler.CreatePayment)
			r.Post("/free-fire/check-player", s.handler.CheckPlayer)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.AdminMiddleware(s.cfg.AdminToken))

		r.Post("/items", s.handler.CreateItem)
		r.Patch("/items/{id}/active", s.handler.SetItemActive)
		r.Put("/items/{id}/region-prices", s.handler.SetRegionPrice)
		r.Post("/items/{id}/codes", s.handler.ImportCodes)
		r.Post("/orders/{id}/complete", s.handler.CompleteOrder)
		r.Post("/orders/{id}/recheck", s.handler.RecheckOrder)
		r.Post("/payments/{id}/paid", s.handler.MarkPaymentPaid)
		r.Post("/users/{id}/balance", s.handler.AdjustBalance)
	})

	return r
}

// Run starts the HTTP server
func (s *Server) Run() error {
	if err := s.repo.InitDB(s.cfg.DatabaseURI); err != nil {
		return err
	}

	s.worker.Start()

	s.httpServer = &http.Server{
		Addr:    s.cfg.RunAddress,
		Handler: s.Router(),
	}

	slog.Info("starting server", "address", s.cfg.RunAddress)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
		s.worker.Stop()
	}

	if c, ok := s.notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Error("close notifier", "error", err)
		}
	}

	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			return err
		}
	}

	return nil
}
