// Package main provides the TheBox status API gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seaward-systems/thebox/pkg/gate"
	"github.com/seaward-systems/thebox/pkg/handler"
	"github.com/seaward-systems/thebox/pkg/postgres"
)

// Config holds the API gateway configuration
type Config struct {
	// Server settings
	HTTPAddr string
	HTTPPort int

	// External services
	NATSUrl     string
	PostgresURL string
	GateUrl     string

	// CORS settings
	CORSOrigins []string

	// Logging
	LogLevel string
	LogJSON  bool
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    "0.0.0.0",
		HTTPPort:    8080,
		NATSUrl:     getEnv("NATS_URL", "nats://localhost:4222"),
		PostgresURL: getEnv("POSTGRES_URL", ""),
		GateUrl:     getEnv("GATE_URL", ""),
		CORSOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     getEnv("LOG_JSON", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Prometheus metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thebox_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thebox_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	wsConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thebox_api_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	natsConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thebox_api_nats_connection_status",
			Help: "NATS connection status (1=connected, 0=disconnected)",
		},
	)

	dbConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thebox_api_db_connection_status",
			Help: "Database connection status (1=connected, 0=disconnected)",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(wsConnectionsActive)
	prometheus.MustRegister(natsConnectionStatus)
	prometheus.MustRegister(dbConnectionStatus)
}

func main() {
	cfg := DefaultConfig()

	setupLogging(cfg)

	log.Info().
		Str("nats_url", cfg.NATSUrl).
		Str("gate_url", cfg.GateUrl).
		Int("http_port", cfg.HTTPPort).
		Msg("Starting TheBox API Gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	nc, db, gateClient, err := connectServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to services")
	}
	defer func() {
		if nc != nil {
			nc.Close()
		}
		if db != nil {
			db.Close()
		}
	}()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// WebSocket hub fans live track and sighting traffic out to UI clients.
	wsHub := handler.NewWebSocketHub(nc, log.Logger)

	router := setupRouter(cfg, db, nc, gateClient, wsHub)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gCtx)
		return nil
	})

	// Update WebSocket connection gauge periodically
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				wsConnectionsActive.Set(float64(wsHub.ClientCount()))
			}
		}
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("API Gateway shutdown complete")
}

func setupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

func connectServices(ctx context.Context, cfg Config) (*nats.Conn, *postgres.Pool, *gate.Client, error) {
	var nc *nats.Conn
	var db *postgres.Pool
	var err error

	nc, err = nats.Connect(cfg.NATSUrl,
		nats.Name("thebox-api-gateway"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			natsConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
			natsConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without real-time updates")
		nc = nil
	} else {
		log.Info().Str("url", cfg.NATSUrl).Msg("Connected to NATS")
		natsConnectionStatus.Set(1)
	}

	// POSTGRES_URL wins when set; otherwise the connection is assembled from
	// the discrete POSTGRES_* variables over the shipped defaults.
	if cfg.PostgresURL != "" {
		db, err = postgres.NewPoolFromURL(ctx, cfg.PostgresURL)
	} else {
		pgCfg := postgres.DefaultConfig()
		pgCfg.Host = getEnv("POSTGRES_HOST", pgCfg.Host)
		if port, perr := strconv.Atoi(getEnv("POSTGRES_PORT", strconv.Itoa(pgCfg.Port))); perr == nil {
			pgCfg.Port = port
		}
		pgCfg.Database = getEnv("POSTGRES_DB", pgCfg.Database)
		pgCfg.User = getEnv("POSTGRES_USER", pgCfg.User)
		pgCfg.Password = getEnv("POSTGRES_PASSWORD", pgCfg.Password)
		pgCfg.SSLMode = getEnv("POSTGRES_SSLMODE", pgCfg.SSLMode)
		db, err = postgres.NewPool(ctx, pgCfg)
	}
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		return nil, nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	log.Info().Msg("Connected to PostgreSQL")
	dbConnectionStatus.Set(1)

	var gateClient *gate.Client
	if cfg.GateUrl != "" {
		gateClient = gate.NewClient(cfg.GateUrl)
	}

	return nc, db, gateClient, nil
}

func setupRouter(cfg Config, db *postgres.Pool, nc *nats.Conn, gateClient *gate.Client, wsHub *handler.WebSocketHub) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(correlationIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(prometheusMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", healthHandler(db, nc, gateClient))

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint
	wsHandler := handler.NewWebSocketHandler(wsHub, log.Logger)
	r.Handle("/ws", wsHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		trackHandler := handler.NewTrackHandler(db, log.Logger)
		r.Mount("/tracks", trackHandler.Routes())

		sightingHandler := handler.NewSightingHandler(db, log.Logger)
		r.Mount("/sightings", sightingHandler.Routes())

		// Clear all data endpoint
		r.Post("/clear", clearHandler(db))
	})

	return r
}

// correlationIDMiddleware adds a correlation ID to each request
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx := handler.WithCorrelationID(r.Context(), correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs each HTTP request
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		correlationID := handler.GetCorrelationID(r.Context())

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Str("correlation_id", correlationID).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// prometheusMiddleware records HTTP metrics
func prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	Components    map[string]string `json:"components"`
	CorrelationID string            `json:"correlation_id"`
}

var startTime = time.Now()

func healthHandler(db *postgres.Pool, nc *nats.Conn, gateClient *gate.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		correlationID := handler.GetCorrelationID(ctx)

		response := HealthResponse{
			Status:        "healthy",
			Version:       "1.0.0",
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			Components:    make(map[string]string),
			CorrelationID: correlationID,
		}

		// Check PostgreSQL
		if err := db.Ping(ctx); err != nil {
			response.Components["postgres"] = "unhealthy: " + err.Error()
			response.Status = "degraded"
			dbConnectionStatus.Set(0)
		} else {
			response.Components["postgres"] = "healthy"
			dbConnectionStatus.Set(1)
		}

		// Check NATS
		if nc == nil || !nc.IsConnected() {
			response.Components["nats"] = "disconnected"
			response.Status = "degraded"
			natsConnectionStatus.Set(0)
		} else {
			response.Components["nats"] = "connected"
			natsConnectionStatus.Set(1)
		}

		// Check policy gate
		if gateClient != nil {
			if err := gateClient.Health(ctx); err != nil {
				response.Components["gate"] = "unhealthy: " + err.Error()
				response.Status = "degraded"
			} else {
				response.Components["gate"] = "healthy"
			}
		}

		status := http.StatusOK
		if response.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}

		handler.WriteJSON(w, status, response)
	}
}

// ClearResponse represents the response for the clear endpoint
type ClearResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Tracks        int64  `json:"tracks"`
	Sightings     int64  `json:"sightings"`
	CorrelationID string `json:"correlation_id"`
}

// clearHandler handles POST /api/v1/clear to delete all data from the database
func clearHandler(db *postgres.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		correlationID := handler.GetCorrelationID(ctx)

		log.Info().
			Str("correlation_id", correlationID).
			Msg("Clearing all data from database")

		result, err := db.ClearAll(ctx)
		if err != nil {
			log.Error().
				Err(err).
				Str("correlation_id", correlationID).
				Msg("Failed to clear database")

			handler.WriteJSON(w, http.StatusInternalServerError, ClearResponse{
				Success:       false,
				Message:       "Failed to clear data: " + err.Error(),
				CorrelationID: correlationID,
			})
			return
		}

		handler.WriteJSON(w, http.StatusOK, ClearResponse{
			Success:       true,
			Message:       "All data cleared successfully",
			Tracks:        result.Tracks,
			Sightings:     result.Sightings,
			CorrelationID: correlationID,
		})
	}
}
