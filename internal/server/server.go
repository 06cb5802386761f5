// Package server is the HTTP surface: one JSON endpoint per metric, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"TopSignals/internal/config"
	"TopSignals/internal/model"
	"TopSignals/internal/service"
)

// statusClientClosed is recorded when the caller disconnects before a metric resolves.
const statusClientClosed = 499

// Metrics is the resolver the handlers read from.
type Metrics interface {
	BTCHistory(ctx context.Context) (service.Response[model.Series], error)
	BTCIndicators(ctx context.Context) (service.Response[model.Indicators], error)
	PiCycle(ctx context.Context) (service.Response[model.PiCycle], error)
	CoinbaseRank(ctx context.Context) (service.Response[model.RankReport], error)
	TTL(key string, degraded bool) time.Duration
}

// Telemetry records requests and exposes the scrape handler.
type Telemetry interface {
	ObserveHTTP(route string, status int, d time.Duration)
	Handler() http.Handler
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	engine    *gin.Engine
	srv       *http.Server
	metrics   Metrics
	telemetry Telemetry
	logger    *slog.Logger
	started   time.Time
}

// New builds the router. telemetry may be nil.
func New(addr string, m Metrics, t Telemetry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		engine:    gin.New(),
		metrics:   m,
		telemetry: t,
		logger:    logger.With("component", "server"),
		started:   time.Now(),
	}
	s.engine.Use(gin.Recovery(), s.observe())
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/btc-history", handle(s, config.MetricBTCHistory, s.metrics.BTCHistory))
	api.GET("/btc-indicators", handle(s, config.MetricBTCIndicators, s.metrics.BTCIndicators))
	api.GET("/pi-cycle", handle(s, config.MetricPiCycle, s.metrics.PiCycle))
	api.GET("/coinbase-rank", handle(s, config.MetricCoinbaseRank, s.metrics.CoinbaseRank))
	api.GET("/health", s.health)
	if s.telemetry != nil {
		s.engine.GET("/metrics", gin.WrapH(s.telemetry.Handler()))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully within grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// handle serves one metric. Freshness follows the metric TTL, or the degraded TTL when the
// value is stale or degraded. Only a metric with no value at all answers 503.
func handle[T any](s *Server, key string, resolve func(context.Context) (service.Response[T], error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := resolve(c.Request.Context())
		if errors.Is(err, context.Canceled) {
			s.logger.Debug("client went away", "metric", key)
			c.AbortWithStatus(statusClientClosed)
			return
		}
		if err != nil {
			s.logger.Error("metric unavailable", "metric", key, "error", err)
			c.Header("Cache-Control", "no-store")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
			return
		}
		maxAge := s.metrics.TTL(key, res.Degraded || res.Stale)
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds())))
		c.Header("X-Data-Source", res.Source)
		if res.Hit {
			c.Header("X-Cache", "HIT")
		} else {
			c.Header("X-Cache", "MISS")
		}
		c.JSON(http.StatusOK, res.MetricResult)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		d := time.Since(start)
		if s.telemetry != nil {
			s.telemetry.ObserveHTTP(route, c.Writer.Status(), d)
		}
		s.logger.Debug("request served", "method", c.Request.Method, "route", route,
			"status", c.Writer.Status(), "duration", d)
	}
}
