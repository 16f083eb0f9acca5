package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/anomstream/internal/adminserver"
	"github.com/skywalker-88/anomstream/internal/alertpub"
	"github.com/skywalker-88/anomstream/internal/bus"
	"github.com/skywalker-88/anomstream/internal/confirm"
	"github.com/skywalker-88/anomstream/internal/detect"
	"github.com/skywalker-88/anomstream/internal/ingest"
	"github.com/skywalker-88/anomstream/internal/rules"
	"github.com/skywalker-88/anomstream/internal/window"
	"github.com/skywalker-88/anomstream/pkg/config"
	"github.com/skywalker-88/anomstream/pkg/metrics"
)

func main() {
	// ------- Logging setup -------
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfgPath := os.Getenv("ANOMSTREAM_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).Msg("load config")
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	eventBus, err := bus.NewKafkaBus(bus.KafkaConfig{
		Brokers:       cfg.Brokers(),
		IngestTopic:   cfg.IngestTopic,
		ConsumerGroup: cfg.ConsumerGroup,
	})
	if err != nil {
		log.Fatal().Err(err).Strs("brokers", cfg.Brokers()).Msg("connect to kafka")
	}

	store := window.NewStore(cfg.WindowSizeSeconds)
	tracker := confirm.New()
	ruleSet := rules.Default(cfg.LatencyP99ThresholdMS, cfg.ErrorRateThreshold, cfg.TrafficDropThreshold, cfg.WindowSizeSeconds)
	detector := detect.New(store, tracker, ruleSet, cfg.ConsecutiveWindowsForAlert)
	publisher := alertpub.New(eventBus, cfg.AlertsTopic, cfg.CooldownDuration())

	loop := ingest.New(eventBus, store, detector, publisher, ingest.Config{
		PollTimeout:               cfg.ConsumerTimeout(),
		DetectionIntervalMessages: cfg.DetectionIntervalMessages,
	})

	adminserver.EnableDrainFlag(true)
	adminRouter := adminserver.NewRouter(registry)
	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           adminRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin server listening")
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin server stopped unexpectedly")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		adminserver.SetReady(true)
		runDone <- loop.Run(ctx)
	}()

	log.Info().
		Str("kafka_brokers", cfg.KafkaBrokers).
		Str("ingest_topic", cfg.IngestTopic).
		Str("alerts_topic", cfg.AlertsTopic).
		Str("consumer_group", cfg.ConsumerGroup).
		Int("window_size_seconds", cfg.WindowSizeSeconds).
		Int64("detection_interval_messages", cfg.DetectionIntervalMessages).
		Msg("anomstream engine starting")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown requested; draining")

	adminserver.SetDraining(true)
	adminserver.SetReady(false)
	loop.Stop()
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			log.Error().Err(err).Msg("ingest loop exited with error")
		}
	case <-time.After(cfg.ShutdownTimeout()):
		log.Error().Msg("ingest loop did not drain within shutdown timeout")
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shCancel()
	if err := adminSrv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown did not complete in time; forcing close")
		_ = adminSrv.Close()
	}

	log.Info().Msg("anomstream engine exited")
}
