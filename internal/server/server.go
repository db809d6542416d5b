// Package server is the composition root: it opens the store, loads the
// mirror, wires services, event subscribers and optional integrations, and
// builds the chi router.
//
// ROUTES:
//
//	GET  /healthz   store reachability
//	GET  /metrics   Prometheus
//	     /api/...   the library API (handler.MountAPI), rate limited and,
//	                when a JWT secret is configured, authenticated
//
// MIDDLEWARE ORDER:
// RequestID → RealIP → Logger → Metrics → Recoverer → CORS. The logger sits
// outside Recoverer so a recovered panic is still logged with its 500.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/config"
	"github.com/sakif/community-library/internal/events"
	"github.com/sakif/community-library/internal/handler"
	"github.com/sakif/community-library/internal/mail"
	"github.com/sakif/community-library/internal/middleware"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/recommend"
	"github.com/sakif/community-library/internal/repository"
	badgerRepo "github.com/sakif/community-library/internal/repository/badger"
	mongoRepo "github.com/sakif/community-library/internal/repository/mongo"
	sqliteRepo "github.com/sakif/community-library/internal/repository/sqlite"
	"github.com/sakif/community-library/internal/service"
	"github.com/sakif/community-library/internal/supervisor"
)

// Server owns the store, the mirror, the event bus and the HTTP server.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	store     repository.Store
	mirror    *mirror.Mirror
	bus       *events.Bus
	forwarder *events.AMQPForwarder
	services  *service.Services
	tokens    *auth.TokenService
	router    *chi.Mux
	http      *http.Server
}

// New assembles the server. The mirror is loaded before New returns, so the
// first request already sees the full catalog.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger, store: store}
	if err := s.wire(ctx); err != nil {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("cleanup after failed start", slog.String("error", cerr.Error()))
		}
		return nil, err
	}
	return s, nil
}

func (s *Server) wire(ctx context.Context) error {
	s.mirror = mirror.New(s.store, s.logger)
	if err := s.mirror.Refresh(ctx); err != nil {
		return fmt.Errorf("loading mirror: %w", err)
	}

	bus, err := events.NewBus(s.logger)
	if err != nil {
		return err
	}
	s.bus = bus

	// Leaving these as nil interfaces disables the feature.
	var recommender service.Recommender
	if s.cfg.Recommend.URL != "" {
		recommender = recommend.New(s.cfg.Recommend.URL, s.logger, recommend.WithTimeout(s.cfg.Recommend.Timeout))
	}
	var mailer service.Mailer
	if s.cfg.SMTP.Enabled() {
		m, err := mail.NewSMTPMailer(mail.Config{
			Host:     s.cfg.SMTP.Host,
			Port:     s.cfg.SMTP.Port,
			Username: s.cfg.SMTP.Username,
			Password: s.cfg.SMTP.Password,
			From:     s.cfg.SMTP.From,
			FromName: s.cfg.SMTP.FromName,
			StartTLS: s.cfg.SMTP.StartTLS,
		})
		if err != nil {
			return fmt.Errorf("configuring smtp: %w", err)
		}
		mailer = m
	} else {
		s.logger.Warn("SMTP not configured, send-email will fail")
	}

	s.services = service.New(service.Backend{
		Store:  s.store,
		Mirror: s.mirror,
		Events: bus,
		Logger: s.logger,
	}, recommender, mailer)

	bus.Handle("notify-loan-accepted", events.TopicLoanAccepted, s.services.Notifications.HandleEvent)
	bus.Handle("notify-loan-returned", events.TopicLoanReturned, s.services.Notifications.HandleEvent)
	if s.cfg.Events.RabbitMQURL != "" {
		s.forwarder = events.NewAMQPForwarder(s.cfg.Events.RabbitMQURL, s.cfg.Events.RabbitMQQueue, s.logger)
		s.forwarder.Register(bus)
	}

	var authz *auth.Authorizer
	if s.cfg.Auth.Enabled() {
		s.tokens, err = auth.NewTokenService(s.cfg.Auth.JWTSecret, s.cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		authz, err = auth.NewAuthorizer(MirrorRoles(s.mirror))
		if err != nil {
			return err
		}
	} else {
		s.logger.Warn("JWT secret not set, authentication is disabled")
	}

	s.router = s.routes(authz)
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return nil
}

// MirrorRoles resolves roles from the cached user documents. A uid with no
// document yet (signing up) is a member.
func MirrorRoles(m *mirror.Mirror) auth.RoleFunc {
	return func(uid string) string {
		if u, ok := m.Users.Get(uid); ok && u.IsManager {
			return auth.RoleManager
		}
		return auth.RoleMember
	}
}

func (s *Server) routes(authz *auth.Authorizer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		// Browsers reject credentials with a wildcard origin.
		AllowCredentials: !slices.Contains(s.cfg.Server.CORSOrigins, "*"),
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if n := s.cfg.Server.RateLimitRequests; n > 0 {
			r.Use(httprate.Limit(n, s.cfg.Server.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					_, _ = w.Write([]byte(`{"success":false,"error":"rate_limited","message":"too many requests"}`))
				}),
			))
		}
		if s.tokens != nil {
			r.Use(auth.RequireAuth(s.tokens))
		}
		handler.MountAPI(r, handler.Deps{
			Services: s.services,
			Mirror:   s.mirror,
			Authz:    authz,
			Logger:   s.logger,
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := s.store.View(r.Context(), func(repository.Tx) error { return nil })
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"success":false,"status":"unavailable","store":%q}`, s.cfg.Store.Driver)
		return
	}
	fmt.Fprintf(w, `{"success":true,"status":"ok","store":%q}`, s.cfg.Store.Driver)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Services exposes the wired services to the CLI.
func (s *Server) Services() *service.Services { return s.services }

// Tokens is nil when authentication is disabled.
func (s *Server) Tokens() *auth.TokenService { return s.tokens }

// Supervise adds the refresher, the event router and the HTTP server to tree.
func (s *Server) Supervise(tree *supervisor.Tree) {
	tree.AddDataService(mirror.NewRefresher(s.mirror, s.cfg.Mirror.RefreshInterval, s.logger))
	tree.AddMessagingService(s.bus)
	tree.AddAPIService(supervisor.NewHTTPService(s.http, s.cfg.Server.ShutdownTimeout))
}

// Close releases the event bus, the broker connection and the store. Call it
// after the supervision tree has stopped.
func (s *Server) Close() error {
	var errs []error
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event bus: %w", err))
		}
	}
	if s.forwarder != nil {
		if err := s.forwarder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing amqp forwarder: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

// OpenStore opens the backend named by cfg.Driver, creating the data
// directory for file-based backends.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (repository.Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqliteRepo.New(cfg.Path)
	case "badger":
		if cfg.Path != "" {
			if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
				return nil, fmt.Errorf("creating badger directory: %w", err)
			}
		}
		return badgerRepo.New(cfg.Path)
	case "mongo":
		return mongoRepo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
