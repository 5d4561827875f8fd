// Package webservice provides the HTTP server exposing the job-indexing
// operations dashboard: weekly metrics, anomaly views, the raw log listing
// and the conversational query endpoint.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/indexops/indexops/internal/common/metrics"
	"github.com/indexops/indexops/internal/database"
	"github.com/indexops/indexops/internal/models"
	"github.com/indexops/indexops/internal/querybridge"
	"github.com/indexops/indexops/internal/webservice/auth"
	"github.com/indexops/indexops/internal/webservice/handlers"
	wsmetrics "github.com/indexops/indexops/internal/webservice/metrics"
)

// Server is a struct that holds the HTTP server and its configuration.
type Server struct {
	httpServer    *http.Server
	metricsServer *metrics.Server
	cm            dConfigManager

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until the next blocking Recv to interrupt.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	mu   sync.RWMutex
	addr net.Addr
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	ConfigPath string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int

	ListenHost string
	ListenPort int

	MetricsHost string
	MetricsPort int
}

type dConfigManager interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	IsValidToken(string) bool
}

// Store is the log record store consumed by the dashboard handlers.
type Store interface {
	CompletedBetween(ctx context.Context, from, to time.Time) ([]models.LogRecord, error)
	List(ctx context.Context, opts database.ListOptions) ([]models.LogRecord, int64, error)
	DistinctSources(ctx context.Context) ([]string, error)
	DistinctCountries(ctx context.Context) ([]string, error)
}

// QueryBridge answers free-text questions about the stored logs.
type QueryBridge interface {
	Ask(ctx context.Context, question string, now time.Time) (querybridge.Result, error)
}

// New creates a new Server instance wired to the given config manager, store
// and query bridge.
func New(ctx context.Context, cm dConfigManager, store Store, bridge QueryBridge, sc StaticConfig) (*Server, error) {
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	s := Server{
		cm:     cm,
		ctx:    ctx,
		cancel: cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mw := wsmetrics.New(reg)
	authmw := auth.New(cm)
	protect := func(name string, h http.Handler) http.HandlerFunc {
		return authmw.Protect(mw.Monitor(name, wsmetrics.HandlerApplyLabels(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /dashboard-metrics", protect("dashboard-metrics", handlers.NewDashboardMetrics(store)))
	mux.Handle("GET /jobs-anomalies", protect("jobs-anomalies", handlers.NewJobsAnomalies(store)))
	mux.Handle("GET /anomalies-stats", protect("anomalies-stats", handlers.NewAnomaliesStats(store)))
	mux.Handle("GET /critical-anomalies-stats", protect("critical-anomalies-stats", handlers.NewCriticalAnomaliesStats(store)))
	mux.Handle("GET /logs", protect("logs", handlers.NewLogs(store)))
	mux.Handle("GET /clients", protect("clients", handlers.NewClients(store)))
	mux.Handle("GET /countries", protect("countries", handlers.NewCountries(store)))
	mux.Handle("POST /chat", protect("chat", handlers.NewChat(bridge)))
	mux.Handle("GET /version", mw.Monitor("version", http.HandlerFunc(handlers.VersionHandler)))

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", sc.ListenHost, sc.ListenPort),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		Handler:        http.TimeoutHandler(mux, sc.RequestTimeout, ""),
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}

	s.metricsServer = metrics.New(metrics.Config{
		Host:         sc.MetricsHost,
		Port:         sc.MetricsPort,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}, reg)

	return &s, nil
}

// Run starts the HTTP server and listens for incoming requests.
func (s *Server) Run() error {
	slog.Info("Starting server", "addr", s.httpServer.Addr)

	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	_, watchErr, err := s.cm.Watch(s.gracefulCtx)
	if err != nil {
		return fmt.Errorf("failed to start watching configuration: %v", err)
	}

	serverErr := make(chan error, 1)
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	metricsErr := make(chan error, 1)
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated")
		// use parent ctx so if you call s.cancel() elsewhere it unblocks Shutdown immediately
		err := s.httpServer.Shutdown(s.ctx)
		if errM := s.metricsServer.Shutdown(s.ctx); errM != nil {
			slog.Error("Metrics server graceful shutdown failed", "err", errM)
			err = errors.Join(err, errM)
		}
		if err != nil {
			slog.Error("Graceful shutdown failed", "err", err)
			return err
		}
		slog.Info("Server shut down gracefully")
		// now kill everything else (watchers, handlers, etc.)
		s.cancel()
		return nil

	case err := <-serverErr:
		if err != nil {
			slog.Error("Server encountered error", "err", err)
		}
		errM := s.metricsServer.Close()
		s.cancel()
		return errors.Join(err, errM)

	case err := <-metricsErr:
		if err != nil {
			slog.Error("Metrics server encountered error", "err", err)
		}
		errC := s.httpServer.Close()
		s.cancel()
		return errors.Join(err, errC)

	case err := <-watchErr:
		if err != nil {
			slog.Error("Config watcher encountered unrecoverable error", "err", err)
		}
		errC := errors.Join(s.httpServer.Close(), s.metricsServer.Close())
		s.cancel()

		return errors.Join(err, errC)
	}
}

// Addr returns the address the server is listening on. It is empty until Run
// has bound the listener.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Quit shuts down the HTTP server gracefully.
func (s *Server) Quit(force bool) {
	defer s.cancel()

	if force {
		s.httpServer.Close()
		s.metricsServer.Close()
		s.cancel()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}
