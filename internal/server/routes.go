package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/tendyrelay/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Version is reported by /healthz and the CLIs.
const Version = "0.1.0"

var ErrInvalidOrigin = errors.New("server: invalid allowed origin")

// ginMode keeps gin's route banners for debug and trace logging only.
func ginMode(level zerolog.Level) string {
	if level <= zerolog.DebugLevel {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func (s *Service) newEngine() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(ginMode(zerolog.GlobalLevel()))
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(corsConfig(s.cfg.AllowedOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/ws", s.handleWebsocket)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"uptime":      time.Since(s.started).String(),
			"encoding":    s.codec.Name(),
			"connections": s.ActiveConnections(),
			"version":     Version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// corsConfig allows every origin unless an explicit list without "*" is configured.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			cfg.AllowOrigins = nil
			break
		}
		if origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

// ValidateOrigins rejects origins the CORS middleware would refuse at startup.
func ValidateOrigins(origins []string) error {
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidOrigin, origin)
		}
	}
	return nil
}
