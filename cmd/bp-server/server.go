package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/bpcheck/internal/config"
	"github.com/ehr/bpcheck/internal/domain/bloodpressure"
	"github.com/ehr/bpcheck/internal/platform/auth"
	"github.com/ehr/bpcheck/internal/platform/db"
	"github.com/ehr/bpcheck/internal/platform/fhir"
	"github.com/ehr/bpcheck/internal/platform/middleware"
	"github.com/ehr/bpcheck/internal/platform/mqtt"
	"github.com/ehr/bpcheck/internal/platform/openapi"
	"github.com/ehr/bpcheck/internal/platform/telemetry"
	"github.com/ehr/bpcheck/internal/platform/webhook"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return logger
}

// store bundles the reading repository with the handle /health/db pings.
type store struct {
	readings bloodpressure.ReadingRepository
	health   db.Pinger
	close    func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{readings: bloodpressure.NewReadingRepoPG(pool), health: pool, close: pool.Close}, nil
	case config.StoreSQLite:
		s, err := bloodpressure.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &store{readings: s, health: s, close: func() { _ = s.Close() }}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// newAlerts returns nil when no alert webhooks are configured.
func newAlerts(cfg *config.Config, logger zerolog.Logger) (*webhook.Manager, error) {
	if len(cfg.AlertWebhookURLs) == 0 {
		return nil, nil
	}
	endpoints := make([]webhook.Endpoint, len(cfg.AlertWebhookURLs))
	for i, u := range cfg.AlertWebhookURLs {
		endpoints[i] = webhook.Endpoint{URL: u, Secret: cfg.AlertWebhookSecret, Events: cfg.AlertWebhookEvents}
	}
	return webhook.NewManager(endpoints, webhook.WithLogger(logger.With().Str("component", "webhook").Logger()))
}

// subscribeDevices connects to the MQTT broker and stores every device
// reading published on the configured topic. It returns nil when no broker
// is configured.
func subscribeDevices(cfg *config.Config, logger zerolog.Logger, svc *bloodpressure.Service) (*mqtt.Client, error) {
	if !cfg.MQTTEnabled() {
		return nil, nil
	}
	mqttLogger := logger.With().Str("component", "mqtt").Logger()
	client, err := mqtt.NewClient(mqtt.Config{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, mqttLogger)
	if err != nil {
		return nil, err
	}
	ingestor := bloodpressure.NewDeviceIngestor(svc, mqttLogger)
	if err := client.Subscribe(cfg.MQTTTopic, byte(cfg.MQTTQoS), ingestor.HandleMessage); err != nil {
		client.Disconnect()
		return nil, err
	}
	return client, nil
}

// newService builds the reading service shared by the HTTP API and device
// ingestion. alerts may be nil.
func newService(logger zerolog.Logger, st *store, alerts *webhook.Manager, metrics *telemetry.Metrics) *bloodpressure.Service {
	svc := bloodpressure.NewService(st.readings)
	svc.SetLogger(logger.With().Str("component", "bloodpressure").Logger())
	svc.SetRecorder(metrics)
	if alerts != nil {
		svc.SetNotifier(alerts)
	}
	return svc
}

// connectionChecker reports broker connectivity; *mqtt.Client satisfies it.
type connectionChecker interface {
	IsConnected() bool
}

// healthHandler reports liveness. With device ingestion on, a lost broker
// connection marks the service degraded without failing the check.
func healthHandler(devices connectionChecker) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := map[string]string{
			"status":  "ok",
			"version": version,
		}
		if devices != nil {
			body["mqtt"] = "connected"
			if !devices.IsConnected() {
				body["status"] = "degraded"
				body["mqtt"] = "disconnected"
			}
		}
		return c.JSON(http.StatusOK, body)
	}
}

// newServer wires middleware and routes. It does not start listening.
// devices is nil when device ingestion is off.
func newServer(cfg *config.Config, logger zerolog.Logger, st *store, svc *bloodpressure.Service, metrics *telemetry.Metrics, devices connectionChecker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	// Health checks stay outside auth.
	e.GET("/health", healthHandler(devices))
	e.GET("/health/db", db.HealthHandler(cfg.Store, st.health))
	e.GET("/metrics", metrics.Handler())

	fhirGroup := e.Group("/fhir", fhir.ContentNegotiationMiddleware())
	fhirGroup.GET("/metadata", fhir.CapabilityHandler(version))

	// API docs are public, like the capability statement.
	baseURL := fmt.Sprintf("http://localhost:%s", cfg.Port)
	openapi.NewGenerator(fhir.NewCapabilityStatement(version), version, baseURL).RegisterRoutes(e.Group("/api"))

	apiV1 := e.Group("/api/v1", authMW)
	fhirAuthed := fhirGroup.Group("", authMW)

	bloodpressure.NewHandler(svc).RegisterRoutes(apiV1, fhirAuthed)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Store
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to open reading store")
	}
	defer st.close()
	logger.Info().Str("store", cfg.Store).Msg("reading store ready")

	alerts, err := newAlerts(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid alert webhook configuration")
	}
	if alerts != nil {
		logger.Info().Int("endpoints", len(cfg.AlertWebhookURLs)).Msg("alert webhooks enabled")
	}

	metrics := telemetry.New()
	svc := newService(logger, st, alerts, metrics)

	devices, err := subscribeDevices(cfg, logger, svc)
	if err != nil {
		logger.Fatal().Err(err).Str("broker", cfg.MQTTBroker).Msg("failed to subscribe to device readings")
	}
	var deviceHealth connectionChecker
	if devices != nil {
		logger.Info().Str("broker", cfg.MQTTBroker).Str("topic", cfg.MQTTTopic).Msg("device ingestion enabled")
		deviceHealth = devices
	}

	e := newServer(cfg, logger, st, svc, metrics, deviceHealth)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if devices != nil {
		devices.Disconnect()
	}
	if alerts != nil {
		if err := alerts.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("pending alert webhooks not delivered")
		}
	}
	logger.Info().Msg("server stopped")
	return nil
}
