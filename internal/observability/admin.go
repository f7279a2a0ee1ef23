package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AdminConfig describes the local diagnostics server.
type AdminConfig struct {
	Addr        string
	Name        string
	Version     string
	CorsOrigins []string
}

// Admin serves health, mirror status and prometheus metrics.
type Admin struct {
	cfg     AdminConfig
	router  *gin.Engine
	started time.Time
	status  func() any
	ready   func() bool
}

// NewAdmin builds the router. status is rendered as JSON on /status and
// ready backs /ready; either may be nil.
func NewAdmin(cfg AdminConfig, status func() any, ready func() bool) *Admin {
	RegisterMetrics()
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{cfg: cfg, router: r, started: time.Now(), status: status, ready: ready}
	a.routes()
	return a
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

func (a *Admin) routes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"service": a.cfg.Name,
			"version": a.cfg.Version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.ready == nil || a.ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "service": a.cfg.Name})
	})

	a.router.GET("/status", func(c *gin.Context) {
		if a.status == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no status source"})
			return
		}
		c.JSON(http.StatusOK, a.status())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens on cfg.Addr until ctx ends, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.cfg.Addr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost"}
	}
	return out
}
