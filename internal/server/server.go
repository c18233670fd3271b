// Package server собирает HTTP-сервер: роутер chi, gqlgen-хендлер с
// транспортами и расширениями, health-check и метрики.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/UkralStul/graphql-blog-service/graph"
	"github.com/UkralStul/graphql-blog-service/graph/generated"
	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/config"
	"github.com/UkralStul/graphql-blog-service/internal/dataloader"
	"github.com/UkralStul/graphql-blog-service/internal/logging"
	"github.com/UkralStul/graphql-blog-service/internal/metrics"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
)

const QueryPath = "/query"

var ErrAlreadyStarted = errors.New("server already running")

// Server manages the HTTP server for the GraphQL endpoint
type Server struct {
	cfg     config.ServerConfig
	store   storage.Storage
	logger  *slog.Logger
	metrics *metrics.Metrics
	router  chi.Router

	// Lifecycle
	mu         sync.Mutex
	running    bool
	listener   net.Listener
	httpServer *http.Server
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// New собирает сервер. Метрики подключаются, если cfg.Metrics.Enabled.
func New(cfg *config.Config, store storage.Storage, resolver *graph.Resolver, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg.Server,
		store:    store,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.New(cfg.Metrics.Operations...)
		s.registerDBStats(cfg.Storage.Type)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logging.RequestLogger(logger))
	router.Use(middleware.Recoverer)

	if s.cfg.Playground {
		router.Handle("/", playground.Handler("GraphQL playground", QueryPath))
	}
	router.Handle(QueryPath, auth.Middleware(dataloader.Middleware(store, s.graphqlHandler(resolver))))
	router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler())
	}
	s.router = router

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: s.cfg.ReadTimeout.Duration(),
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) graphqlHandler(resolver *graph.Resolver) *handler.Server {
	srv := handler.New(generated.NewExecutableSchema(generated.Config{Resolvers: resolver}))
	srv.AddTransport(&transport.Websocket{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		KeepAlivePingInterval: 10 * time.Second,
		// Браузерные клиенты передают токен в connection_init, а не в заголовке
		InitFunc: func(ctx context.Context, payload transport.InitPayload) (context.Context, *transport.InitPayload, error) {
			if header := payload.Authorization(); header != "" {
				ctx = auth.WithAuthorization(ctx, header)
			}
			return ctx, nil, nil
		},
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})

	if s.cfg.Introspection {
		srv.Use(extension.Introspection{})
	}
	if s.cfg.ComplexityLimit > 0 {
		srv.Use(extension.FixedComplexityLimit(s.cfg.ComplexityLimit))
	}
	if s.metrics != nil {
		srv.Use(s.metrics)
	}
	// Каждое событие подписки получает свежие дата-лоадеры
	srv.AroundResponses(dataloader.SubscriptionEvents(s.store))
	srv.SetErrorPresenter(graph.ErrorPresenter(s.logger))
	srv.SetRecoverFunc(graph.RecoverFunc(s.logger))
	return srv
}

// sqlStore - хранилище поверх database/sql (postgres, sqlite).
type sqlStore interface {
	SQLDB() (*sql.DB, error)
}

// registerDBStats публикует статистику пула соединений, если она есть.
func (s *Server) registerDBStats(dbName string) {
	st, ok := s.store.(sqlStore)
	if !ok {
		return
	}
	db, err := st.SQLDB()
	if err == nil {
		err = s.metrics.Register(collectors.NewDBStatsCollector(db, dbName))
	}
	if err != nil {
		s.logger.Warn("db stats are not exported", "error", err)
	}
}

// Handler возвращает корневой http.Handler (используется в тестах).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr возвращает адрес, на котором слушает запущенный сервер.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Start слушает cfg.Addr и блокируется до отмены ctx, вызова Stop или ошибки.
// ready закрывается, когда сокет уже принимает соединения.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String(), "playground", s.cfg.Playground)
	if ready != nil {
		close(ready)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("server context cancelled, shutting down")
		return s.Stop(s.cfg.ShutdownTimeout.Duration())
	case <-s.stopChan:
		return nil
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server gracefully", "error", err)
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}
