// Package main implements the zero-trust decision service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/Harshith2412/zta-finance/internal/api"
	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/config"
	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/internal/risk"
	"github.com/Harshith2412/zta-finance/internal/token"
	"github.com/Harshith2412/zta-finance/internal/trust"
	"github.com/Harshith2412/zta-finance/pkg/metrics"
	"github.com/Harshith2412/zta-finance/pkg/postgres"
	"github.com/Harshith2412/zta-finance/pkg/telemetry"
	"github.com/Harshith2412/zta-finance/pkg/vault"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("ZTA_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Service = "decision-service"

	logger = newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting decision-service", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize telemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
	} else if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// Initialize database
	db, err := postgres.NewFromDSN(cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	identityRepo := postgres.NewIdentityRepository(db)
	deviceRepo := postgres.NewDeviceRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	revocations := postgres.NewRevokedTokenRepository(db)
	snapshotRepo := postgres.NewPolicySnapshotRepository(db)
	auditRepo := postgres.NewAuditEventRepository(db)

	// Key material: Vault transit when enabled, local secrets otherwise.
	sealer, signingSecret, err := buildKeyMaterial(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize key material", "error", err)
		os.Exit(1)
	}

	pipeline, err := audit.NewPipeline(auditRepo, sealer, cfg.Audit.QueueSize, audit.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create audit pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	tokenMgr, err := token.NewManager(signingSecret, cfg.Token.Issuer, revocations,
		token.WithAccessTTL(cfg.Token.AccessTTL),
		token.WithRefreshTTL(cfg.Token.RefreshTTL),
		token.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create token manager", "error", err)
		os.Exit(1)
	}

	trustStore := trust.NewStore(deviceRepo, sessionRepo, trust.Config{
		DefaultScore:      cfg.Trust.DefaultScore,
		BenignStep:        cfg.Trust.BenignStep,
		AnomalyStep:       cfg.Trust.AnomalyStep,
		TrustFloor:        cfg.Trust.TrustFloor,
		TrustedThreshold:  cfg.Trust.TrustedThreshold,
		SessionCap:        cfg.Trust.SessionCap,
		SessionTTL:        cfg.Trust.SessionTTL,
		MaxTravelSpeedKmh: cfg.Trust.MaxTravelSpeedKmh,
	}, trust.WithLogger(logger))

	riskEngine := risk.NewEngine(risk.Config{
		Weights:           cfg.Risk.Weights,
		AmountThreshold:   cfg.Risk.AmountThreshold,
		VelocityThreshold: cfg.Risk.VelocityThreshold,
		UnusualHourStart:  cfg.Risk.UnusualHourStart,
		UnusualHourEnd:    cfg.Risk.UnusualHourEnd,
		FailedAttemptsMax: cfg.Risk.FailedAttemptsMax,
	})

	policyEngine := policy.NewEngine(logger)
	snapshot, err := policy.LoadSnapshotFile(cfg.Policy.SnapshotPath)
	if err != nil {
		logger.Error("failed to load policy snapshot", "path", cfg.Policy.SnapshotPath, "error", err)
		os.Exit(1)
	}
	if err := policyEngine.Load(snapshot); err != nil {
		logger.Error("failed to activate policy snapshot", "error", err)
		os.Exit(1)
	}
	if err := snapshotRepo.Save(ctx, snapshot); err != nil {
		logger.Warn("failed to record policy snapshot", "error", err)
	}
	logger.Info("policy snapshot active", "version", snapshot.Version, "policies", len(snapshot.Policies))

	identityMgr := identity.NewManager(identityRepo, tokenMgr, identity.WithLogger(logger))

	orchestrator := decision.NewOrchestrator(
		tokenMgr, trustStore, riskEngine, policyEngine, pipeline, identityMgr,
		decision.Config{
			DependencyTimeout: cfg.DependencyTimeout,
			VelocityWindow:    cfg.Risk.VelocityWindow,
		},
		decision.WithLogger(logger),
	)

	services := &api.Services{
		Decisions:  orchestrator,
		Tokens:     tokenMgr,
		Trust:      trustStore,
		Identities: identityMgr,
		Audit:      pipeline,
	}

	routerCfg := api.DefaultRouterConfig()
	routerCfg.Logger = logger
	routerCfg.ServiceName = cfg.Service
	routerCfg.Metrics = metrics.NewServiceMetrics(cfg.Service, version)
	routerCfg.MiddlewareConfig.RateLimit = rate.Limit(cfg.Server.RateLimit)
	routerCfg.MiddlewareConfig.RateLimitBurst = cfg.Server.RateLimitBurst
	router := api.NewRouter(routerCfg, services)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.Server.Addr()
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.IdleTimeout = cfg.Server.IdleTimeout
	serverCfg.Logger = logger

	server, err := api.NewServer(router, serverCfg)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

// buildKeyMaterial wires the audit sealer and the token signing secret.
// With Vault enabled both come from the transit engine; the decision
// core never holds long-lived keys of its own in that mode.
func buildKeyMaterial(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Sealer, []byte, error) {
	if !cfg.Vault.Enabled {
		sealer, err := audit.NewHMACSealer([]byte(cfg.Audit.Secret))
		if err != nil {
			return nil, nil, err
		}
		return sealer, []byte(cfg.Token.Secret), nil
	}

	client, err := vault.New(&vault.Config{
		Address:   cfg.Vault.Address,
		Token:     cfg.Vault.Token,
		Namespace: cfg.Vault.Namespace,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	transit := client.Transit(cfg.Vault.TransitMount)

	sealer, err := vault.NewSealer(transit, cfg.Vault.AuditKeyName)
	if err != nil {
		return nil, nil, err
	}
	if err := sealer.EnsureKey(ctx); err != nil {
		return nil, nil, err
	}

	if err := transit.CreateKey(ctx, cfg.Vault.TokenKeyName, &vault.KeyConfig{
		Type:       vault.KeyTypeHMAC,
		Exportable: true,
		KeySize:    32,
	}); err != nil {
		return nil, nil, err
	}
	secret, err := transit.ExportKey(ctx, cfg.Vault.TokenKeyName)
	if err != nil {
		return nil, nil, err
	}

	return sealer, secret, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
