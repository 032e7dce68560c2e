// Package main is the entry point for the avaccess authorization service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avaccess/internal/audit"
	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/credential"
	"github.com/vyrodovalexey/avaccess/internal/gate"
	"github.com/vyrodovalexey/avaccess/internal/observability"
	"github.com/vyrodovalexey/avaccess/internal/policy"
	"github.com/vyrodovalexey/avaccess/internal/server"
	"github.com/vyrodovalexey/avaccess/internal/token"
	"github.com/vyrodovalexey/avaccess/internal/vault"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath   string
	logLevel     string
	logFormat    string
	showVersion  bool
	hashPassword string
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	if flags.hashPassword != "" {
		hash, err := credential.HashPassword(flags.hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	run(app, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AVACCESS_CONFIG_PATH", "configs/avaccess.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("AVACCESS_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("AVACCESS_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	hashPassword := flag.String("hash-password", "",
		"Print the bcrypt hash of the given password for server.adminPasswordHash and exit")
	flag.Parse()

	return cliFlags{
		configPath:   *configPath,
		logLevel:     *logLevel,
		logFormat:    *logFormat,
		showVersion:  *showVersion,
		hashPassword: *hashPassword,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("avaccess version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads the configuration, resolves Vault-held
// secrets and validates the result.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting avaccess",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	vaultClient, err := vault.New(cfg.Vault, vault.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialize vault client", observability.Error(err))
	}
	if err := vault.ResolveConfigSecrets(context.Background(), cfg, vaultClient); err != nil {
		logger.Fatal("failed to resolve secrets from vault", observability.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("addr", cfg.Server.Addr),
		observability.String("policy_source", cfg.Policy.Source),
		observability.String("algorithm", cfg.Token.Algorithm),
		observability.Bool("development", cfg.Development),
	)

	return cfg
}

// application holds all application components.
type application struct {
	server      *server.Server
	authority   token.Authority
	policyStore policy.Store
	credStore   credential.Store
	auditor     audit.Logger
	tracer      *observability.Tracer
	watcher     *config.Watcher
	config      *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	registry := prometheus.NewRegistry()

	tokenMetrics := token.NewMetrics("avaccess")
	tokenMetrics.MustRegister(registry)
	policyMetrics := policy.NewMetrics("avaccess")
	policyMetrics.MustRegister(registry)
	gateMetrics := gate.NewMetrics("avaccess")
	gateMetrics.MustRegister(registry)
	auditMetrics := audit.NewMetrics("avaccess")
	auditMetrics.MustRegister(registry)

	tracer := initTracer(cfg, logger)
	auditor := initAudit(cfg, auditMetrics, logger)

	credStore, policyStore := initStores(cfg, logger)

	authority, err := token.NewAuthority(&cfg.Token, cfg.Development,
		token.WithAuthorityLogger(logger),
		token.WithAuthorityMetrics(tokenMetrics),
		token.WithStore(credStore),
	)
	if err != nil {
		logger.Fatal("failed to create token authority", observability.Error(err))
	}

	evaluator, err := policy.NewEvaluator(policyStore,
		policy.WithEvaluatorLogger(logger),
		policy.WithEvaluatorMetrics(policyMetrics),
	)
	if err != nil {
		logger.Fatal("failed to create policy evaluator", observability.Error(err))
	}

	g, err := gate.New(authority, evaluator,
		gate.WithLogger(logger),
		gate.WithMetrics(gateMetrics),
		gate.WithAudit(auditor),
	)
	if err != nil {
		logger.Fatal("failed to create authorization gate", observability.Error(err))
	}

	srv := server.New(&cfg.Server, g, authority, policyStore,
		server.WithServerLogger(logger),
		server.WithAuditTrail(auditor),
		server.WithRegistry(registry),
	)

	watcher := initSeed(cfg, policyStore, policyMetrics, auditor, logger)

	return &application{
		server:      srv,
		authority:   authority,
		policyStore: policyStore,
		credStore:   credStore,
		auditor:     auditor,
		tracer:      tracer,
		watcher:     watcher,
		config:      cfg,
	}
}

// initStores builds the durable revocation store and the policy store.
// Both back onto Redis when the policy source is "redis", otherwise the
// process runs entirely in memory.
func initStores(cfg *config.Config, logger observability.Logger) (credential.Store, policy.Store) {
	if cfg.Policy.Source != "redis" {
		return credential.NewMemoryStore(), policy.NewMemoryStore()
	}

	credStore, err := credential.NewRedisStore(&cfg.Redis, credential.WithRedisStoreLogger(logger))
	if err != nil {
		logger.Fatal("failed to connect credential store", observability.Error(err))
	}

	policyStore, err := policy.NewRedisStore(&cfg.Redis, policy.WithRedisStoreLogger(logger))
	if err != nil {
		logger.Fatal("failed to connect policy store", observability.Error(err))
	}

	return credStore, policyStore
}

// initAudit initializes the audit trail.
func initAudit(cfg *config.Config, metrics *audit.Metrics, logger observability.Logger) audit.Logger {
	if !cfg.Audit.Enabled {
		return audit.NopLogger()
	}

	auditor, err := audit.New(cfg.Audit.Output,
		audit.WithAuditLogger(logger),
		audit.WithMetrics(metrics),
	)
	if err != nil {
		logger.Fatal("failed to initialize audit trail", observability.Error(err))
	}

	return auditor
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "avaccess",
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}

	return tracer
}

// initSeed applies the policy seed file and, when watching is enabled,
// returns a watcher that re-applies it on change.
func initSeed(
	cfg *config.Config,
	store policy.Store,
	metrics *policy.Metrics,
	auditor audit.Logger,
	logger observability.Logger,
) *config.Watcher {
	if cfg.Policy.SeedFile == "" {
		return nil
	}

	seed, err := policy.LoadSeedFile(cfg.Policy.SeedFile)
	if err != nil {
		logger.Fatal("failed to load policy seed", observability.Error(err))
	}
	if err := policy.ApplySeed(context.Background(), store, seed, logger); err != nil {
		logger.Fatal("failed to apply policy seed", observability.Error(err))
	}
	updatePolicyCount(store, metrics, logger)

	if !cfg.Policy.Watch {
		return nil
	}

	recordReload := func(outcome audit.Outcome, reason string) {
		event := audit.NewEvent(audit.EventTypeAdministrative, audit.ActionSeedReload, outcome)
		event.Resource = &audit.Resource{Name: cfg.Policy.SeedFile}
		event.Reason = reason
		auditor.LogEvent(context.Background(), event)
	}

	watcher, err := config.NewWatcher(cfg.Policy.SeedFile, func(data []byte) {
		reloaded, parseErr := policy.ParseSeed(data)
		if parseErr != nil {
			metrics.RecordSeedReload("error")
			recordReload(audit.OutcomeFailure, parseErr.Error())
			logger.Error("failed to parse policy seed", observability.Error(parseErr))
			return
		}
		if applyErr := policy.ApplySeed(context.Background(), store, reloaded, logger); applyErr != nil {
			metrics.RecordSeedReload("error")
			recordReload(audit.OutcomeFailure, applyErr.Error())
			logger.Error("failed to apply policy seed", observability.Error(applyErr))
			return
		}
		metrics.RecordSeedReload("success")
		recordReload(audit.OutcomeSuccess, "")
		updatePolicyCount(store, metrics, logger)
		logger.Info("policy seed reloaded", observability.String("path", cfg.Policy.SeedFile))
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Fatal("failed to create seed watcher", observability.Error(err))
	}

	return watcher
}

// updatePolicyCount refreshes the policy count gauge from the store.
func updatePolicyCount(store policy.Store, metrics *policy.Metrics, logger observability.Logger) {
	policies, err := store.ListPolicies(context.Background())
	if err != nil {
		logger.Warn("failed to count policies", observability.Error(err))
		return
	}
	metrics.SetPolicyCount(len(policies))
}

// run starts the server and blocks until a shutdown signal arrives.
func run(app *application, logger observability.Logger) {
	if app.watcher != nil {
		if err := app.watcher.Start(context.Background()); err != nil {
			logger.Fatal("failed to start seed watcher", observability.Error(err))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	logger.Info("avaccess listening", observability.String("addr", app.config.Server.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", observability.Error(err))
		}
	}

	shutdown(app, logger)
}

// shutdown stops all components gracefully.
func shutdown(app *application, logger observability.Logger) {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		app.config.Server.ShutdownTimeout.Duration(),
	)
	defer cancel()

	if app.watcher != nil {
		_ = app.watcher.Stop()
	}

	if err := app.server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if err := app.authority.Close(); err != nil {
		logger.Error("failed to close token authority", observability.Error(err))
	}
	if err := app.policyStore.Close(); err != nil {
		logger.Error("failed to close policy store", observability.Error(err))
	}
	if err := app.credStore.Close(); err != nil {
		logger.Error("failed to close credential store", observability.Error(err))
	}
	if err := app.auditor.Close(); err != nil {
		logger.Error("failed to close audit trail", observability.Error(err))
	}

	if app.tracer != nil {
		if err := app.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracer", observability.Error(err))
		}
	}

	logger.Info("avaccess stopped")
}
