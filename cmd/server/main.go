package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/config"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/events"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/gateway"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/meetlink"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/minutes"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/session"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("transcription_mode", cfg.TranscriptionMode).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("kafka_enabled", cfg.KafkaEnabled).
		Msg("Meeting capture service starting")

	factory, err := stt.NewFactory(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid transcription configuration")
	}

	publisher := events.New(&events.Config{
		Brokers:      cfg.Brokers(),
		TopicLines:   cfg.KafkaTopicLines,
		TopicSession: cfg.KafkaTopicSession,
		Principal:    cfg.KafkaPrincipal,
		Enabled:      cfg.KafkaEnabled,
	})

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	// Minutes are optional; without a key the endpoint answers 503
	var synth minutes.Synthesizer
	if cfg.MinutesAPIKey != "" {
		s, err := minutes.NewOpenAISynthesizer(cfg.MinutesAPIKey, cfg.MinutesModel,
			minutes.WithBaseURL(cfg.MinutesBaseURL),
			minutes.WithTimeout(time.Duration(cfg.MinutesTimeout)*time.Second),
			minutes.WithTemperature(cfg.MinutesTemperature),
			minutes.WithRetry(retry),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create minutes synthesizer")
		}
		synth = s
	} else {
		logger.Warn().Msg("MINUTES_API_KEY not set, minutes generation disabled")
	}

	var links meetlink.Generator = meetlink.NewRandomGenerator()
	if cfg.MeetLinkURL != "" {
		links = meetlink.NewRESTGenerator(cfg.MeetLinkURL,
			time.Duration(cfg.MeetLinkTimeout)*time.Second, links, logger)
	}

	manager := session.NewManager(session.ManagerConfigFrom(cfg), factory, publisher)

	// Ended sessions stay available for minutes until their TTL runs out
	reapCtx, stopReaper := context.WithCancel(context.Background())
	go manager.RunReaper(reapCtx, time.Duration(cfg.SessionReapInterval)*time.Second)

	mux := http.NewServeMux()
	gateway.NewServer(manager, synth, links, gateway.DefaultOptions()).Register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(readinessChecks(cfg)))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No WriteTimeout: websocket connections are long lived
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", wsEndpoint(cfg)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	stopReaper()

	// Hijacked websockets are not tracked by Shutdown, so end sessions explicitly
	manager.CloseAll()
	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing event publisher")
	}

	logger.Info().Msg("Server exited gracefully")
}

// readinessChecks checks the transcription endpoint with a plain TCP dial.
// Opening a real transcription session on every readiness check would cost money.
func readinessChecks(cfg *config.Config) map[string]observability.HealthCheckFunc {
	addr, addrErr := stt.Endpoint(cfg)
	return map[string]observability.HealthCheckFunc{
		cfg.TranscriptionMode: func(ctx context.Context) (bool, error) {
			if addrErr != nil {
				return false, addrErr
			}
			if err := stt.CheckReachable(ctx, addr); err != nil {
				return false, err
			}
			return true, nil
		},
	}
}

func wsEndpoint(cfg *config.Config) string {
	base := cfg.PublicURL
	if base == "" {
		base = fmt.Sprintf("ws://localhost:%s", cfg.Port)
	}
	return base + "/ws/sessions/{id}"
}
