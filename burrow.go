package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/burrowhq/burrow/admin"
	"github.com/burrowhq/burrow/cfg"
	"github.com/burrowhq/burrow/forward"
	_ "github.com/burrowhq/burrow/forward/sink"
	"github.com/burrowhq/burrow/message"
	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/notify"
	"github.com/burrowhq/burrow/release"
	"github.com/burrowhq/burrow/store"
	"github.com/burrowhq/burrow/telemetry"
	"github.com/burrowhq/burrow/watch"
)

func main() {
	flag.Parse()

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance", cfg.Config.InstanceName).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Burrow - configuration release and change propagation")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Shared durable store
	st, err := store.Open(cfg.StorePath(), cfg.Config.Store.BusyTimeoutMS, cfg.Config.Store.ReadPoolSize)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StorePath()).Msg("Failed to open store")
		return
	}
	defer st.Close()

	// Change-message pipeline: sender appends and compacts, cache projects
	// latest-per-watch-key, hub wakes long pollers on cache merges.
	sender := message.NewSender(st, message.SenderOptions{
		QueueSize:      cfg.Config.Message.CleanQueueSize,
		CleanBatchSize: cfg.Config.Message.CleanBatchSize,
		PollWait:       time.Duration(cfg.Config.Message.CleanPollWaitS) * time.Second,
		IdleSleep:      time.Duration(cfg.Config.Message.CleanIdleSleepS) * time.Second,
	})
	cache := message.NewCache(st, message.CacheOptions{
		ScanInterval: time.Duration(cfg.Config.Message.ScanIntervalMS) * time.Millisecond,
		ScanBatch:    cfg.Config.Message.ScanBatchSize,
	})
	hub := notify.NewHub()
	cache.OnMerge(func(m *model.ReleaseMessage) {
		hub.Signal(m.Content, m.ID)
	})
	sender.AddListener(cache)

	// Optional cross-process push bridge
	var forwarder *forward.Forwarder
	if cfg.Config.Forward.Enabled {
		snk, err := forward.CreateSink(cfg.Config.Forward)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create forward sink")
			return
		}
		forwarder = forward.NewForwarder(snk, cfg.Config.Forward.Subject, cfg.Config.InstanceName, cache)
		sender.AddListener(forwarder)
		if err := forwarder.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start forwarder")
			return
		}
		defer forwarder.Stop()
		log.Info().Str("sink", cfg.Config.Forward.Sink).Str("subject", cfg.Config.Forward.Subject).Msg("Forwarding enabled")
	}

	// Warm the cache before serving anything
	if err := cache.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to warm message cache")
		return
	}
	defer cache.Stop()

	sender.Start()
	defer sender.Stop()

	// Release engine and watch key assembly
	engine := release.NewService(st, sender, release.NewKeyGenerator())
	appNamespaces := watch.NewCachedAppNamespaces(st.AppNamespaces(), 10000, time.Minute)
	assembler := watch.NewKeyAssembler(appNamespaces)

	// Prometheus metrics listener
	if cfg.Config.Prometheus.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.GetMetricsHandler())
			log.Info().Str("address", addr).Msg("Prometheus metrics listener started")
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	// Admin and notification API
	var apiServer *http.Server
	if cfg.Config.Admin.Enabled {
		handlers := admin.NewHandlers(engine, cache, hub, assembler,
			time.Duration(cfg.Config.Message.LongPollTimeoutS)*time.Second)
		apiServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port),
			Handler: admin.NewRouter(handlers),
		}
		go func() {
			log.Info().Str("address", apiServer.Addr).Msg("API listener started")
			if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("API listener failed")
			}
		}()
	}

	log.Info().
		Str("instance", cfg.Config.InstanceName).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Burrow started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down")
	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API shutdown incomplete")
		}
		cancel()
	}
}
