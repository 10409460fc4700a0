package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/aegis/pkg/agent"
	"github.com/lucid-vigil/aegis/pkg/analyzers/bayes"
	"github.com/lucid-vigil/aegis/pkg/analyzers/impact"
	"github.com/lucid-vigil/aegis/pkg/analyzers/mdp"
	"github.com/lucid-vigil/aegis/pkg/analyzers/repoactivity"
	"github.com/lucid-vigil/aegis/pkg/api"
	"github.com/lucid-vigil/aegis/pkg/config"
	"github.com/lucid-vigil/aegis/pkg/events"
	"github.com/lucid-vigil/aegis/pkg/logger"
	"github.com/lucid-vigil/aegis/pkg/metrics"
	"github.com/lucid-vigil/aegis/pkg/respond"
	"github.com/lucid-vigil/aegis/pkg/sensors"
	"github.com/lucid-vigil/aegis/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (searches . and /etc/aegis by default)")
	flag.Parse()

	// Load configuration first
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel)

	log.Info().Msg("Aegis application starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s", cfg.LogLevel, cfg.APIPort)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Goroutine to handle graceful shutdown
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel() // Cancel the context to signal other goroutines to stop
	}()

	// Analyzers
	table, err := bayes.NewTable(cfg.Bayes.Smoothing, cfg.Bayes.Likelihoods)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid likelihood configuration")
	}
	scorer := bayes.NewScorer(table, cfg.Bayes.DefaultPrior, log.Logger)

	engine, err := mdp.NewEngine(mdp.DefaultModel(), cfg.Policy.Params, cfg.Policy.Thresholds, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid policy configuration")
	}

	graph := impact.NewGraph()
	for _, dep := range cfg.Dependencies {
		graph.AddService(dep.Service)
		for _, dependent := range dep.Dependents {
			graph.AddDependency(dep.Service, dependent)
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(registry); err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	// Storage: the pipeline runs without it, degraded.
	store, err := storage.Open(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Record store unavailable, decisions will not be persisted")
		store = nil
	} else {
		defer store.Close()
	}

	dispatcher := respond.NewDispatcher(cfg.Responders.Enabled)

	var recordStore agent.RecordStore
	if store != nil {
		recordStore = store
	}
	pipeline := agent.New(agent.Config{QueueSize: cfg.Agent.QueueSize},
		events.NewValidator(cfg.Agent.MaxEventsPerMinute, cfg.Agent.Burst),
		scorer, engine,
		impact.NewAnalyzer(graph, log.Logger),
		repoactivity.NewAnalyzer(log.Logger),
		dispatcher, recordStore, m, log.Logger)

	// Recompute the policy whenever the config file changes.
	cfg.Watch(func(fresh *config.Config) {
		if err := engine.Retune(fresh.Policy.Params, fresh.Policy.Thresholds); err != nil {
			log.Error().Err(err).Msg("Policy reload failed, keeping previous policy")
			return
		}
		m.PolicyReloads.Inc()
		m.PolicyUnconverged.Set(0)
		if engine.Policy().Unconverged {
			m.PolicyUnconverged.Set(1)
		}
		dispatcher.SetEnabled(fresh.Responders.Enabled)
	})
	if engine.Policy().Unconverged {
		m.PolicyUnconverged.Set(1)
	}

	// Start API server in a goroutine
	server := api.NewServer(cfg.APIPort, store, registry)
	go server.Start()

	// Start the agent loop
	go pipeline.Run(ctx)

	// Initialize and start the sensor runner
	runner := sensors.NewRunner(cfg, pipeline)
	runner.Register(sensors.NewHostSensor())
	runner.Start(ctx)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}

	log.Info().Msg("Aegis application stopped.")
	time.Sleep(1 * time.Second) // Give some time for cleanup
}
