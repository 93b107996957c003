package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parallaxsec/agentgov/internal/analyzer"
	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/authz"
	"github.com/parallaxsec/agentgov/internal/catalog"
	"github.com/parallaxsec/agentgov/internal/chain"
	"github.com/parallaxsec/agentgov/internal/classification"
	"github.com/parallaxsec/agentgov/internal/decision"
	"github.com/parallaxsec/agentgov/internal/evidence"
	"github.com/parallaxsec/agentgov/internal/integration"
	"github.com/parallaxsec/agentgov/internal/revocation"
	"github.com/parallaxsec/agentgov/internal/server"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("AGENTGOV_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("AGENTGOV_PORT", "8080")
	inventoryPath := envOrDefault("AGENTGOV_INVENTORY_PATH", "inventory.yaml")
	registryPath := envOrDefault("AGENTGOV_CLASSIFICATION_PATH", "classifications.yaml")
	environment := os.Getenv("AGENTGOV_ENVIRONMENT")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	snapshotIntervalS := envOrDefaultInt("AGENTGOV_SNAPSHOT_INTERVAL_S", 300)
	probeIntervalS := envOrDefaultInt("AGENTGOV_PROBE_INTERVAL_S", 0)
	probeTargets := os.Getenv("AGENTGOV_PROBE_TARGETS")
	probeCheckURL := os.Getenv("AGENTGOV_PROBE_CHECK_URL")
	maxPackEvents := envOrDefaultInt("AGENTGOV_MAX_PACK_EVENTS", 50_000)

	logger.Info("starting governance server",
		zap.String("port", port),
		zap.String("environment", environment),
		zap.String("inventory_path", inventoryPath),
		zap.Int("snapshot_interval_s", snapshotIntervalS),
	)

	// Audit log — ClickHouse or LogWriter fallback
	var eventWriter audit.Writer
	var eventReader audit.Reader
	memEvents := audit.NewMemoryStore()
	if clickhouseDSN != "" {
		chWriter, err := audit.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to in-memory audit log", zap.Error(err))
			eventWriter = memEvents
			eventReader = memEvents
		} else {
			defer chWriter.Close()
			eventWriter = chWriter
			chReader, err := audit.NewClickHouseReader(clickhouseDSN, logger)
			if err != nil {
				logger.Fatal("clickhouse reader failed", zap.Error(err))
			}
			eventReader = chReader
			logger.Info("clickhouse audit log connected")
		}
	} else {
		eventWriter = memEvents
		eventReader = memEvents
		logger.Info("no CLICKHOUSE_DSN set, using in-memory audit log")
	}

	// Decision stream — ClickHouse or in-memory fallback
	var decisions decision.Store
	if clickhouseDSN != "" {
		chDecisions, err := decision.NewClickHouseStore(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse decision store failed, falling back to memory", zap.Error(err))
			decisions = decision.NewMemoryStore()
		} else {
			defer func() { _ = chDecisions.Close() }()
			decisions = chDecisions
			logger.Info("clickhouse decision store connected")
		}
	} else {
		decisions = decision.NewMemoryStore()
		logger.Info("no CLICKHOUSE_DSN set, using in-memory decision store")
	}

	// Durable row stores — Postgres if DSN provided, otherwise in-memory
	var mappings authz.MappingStore = authz.NewMemoryMappingStore()
	var integrations integration.Store = integration.NewMemoryStore()
	var revocations revocation.Store = revocation.NewMemoryStore()
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		mappings = authz.NewPostgresMappingStore(db)
		integrations = integration.NewPostgresStore(db)
		revocations = revocation.NewPostgresStore(db)
		logger.Info("postgres stores connected")
	} else {
		logger.Info("no POSTGRES_DSN set, using in-memory stores")
	}

	// Tool classification registry
	registry, err := classification.Load(registryPath)
	if err != nil {
		logger.Fatal("failed to load classification registry", zap.String("path", registryPath), zap.Error(err))
	}
	logger.Info("classification registry loaded", zap.Int("tools", registry.Len()))

	// Core components
	directory := catalog.NewFileDirectory(inventoryPath)
	aggregator := catalog.NewAggregator(directory, catalog.DefaultConfig(), logger)
	scorer := analyzer.New(analyzer.DefaultConfig())
	mapper := authz.NewMapper(mappings, &authz.RegistryResolver{Registry: registry}, decisions, eventWriter, logger)
	workflow := integration.NewWorkflow(integrations, decisions, eventWriter, logger)
	tracker := revocation.NewTracker(revocation.DefaultConfig(), revocations, revocation.NewHTTPPropagator(10*time.Second), eventWriter, logger)
	reconstructor := chain.NewReconstructor(eventReader, logger)
	builder := evidence.NewBuilder(evidence.Config{MaxEvents: maxPackEvents}, aggregator, scorer, eventReader, eventWriter, logger)

	srv := server.New(aggregator, scorer, mapper, workflow, tracker, reconstructor, builder, decisions, logger)
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodic catalog snapshot and conformance report
	go func() {
		ticker := time.NewTicker(time.Duration(snapshotIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			snapshot(ctx, aggregator, scorer, environment, logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Synthetic revocation prober, when configured
	if probeIntervalS > 0 && probeTargets != "" && probeCheckURL != "" {
		checker := revocation.NewHTTPChecker(probeCheckURL, 10*time.Second)
		prober := revocation.NewProber(tracker, checker, strings.Split(probeTargets, ","), logger)
		go func() {
			ticker := time.NewTicker(time.Duration(probeIntervalS) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := prober.RunOnce(ctx); err != nil {
						logger.Error("revocation probe failed", zap.Error(err))
					}
				}
			}
		}()
		logger.Info("revocation prober enabled", zap.Int("interval_s", probeIntervalS))
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("governance server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func snapshot(ctx context.Context, aggregator *catalog.Aggregator, scorer *analyzer.Analyzer, environment string, logger *zap.Logger) {
	snap, err := aggregator.Aggregate(ctx, environment)
	if snap == nil {
		logger.Error("catalog aggregation failed", zap.Error(err))
		return
	}
	if err != nil {
		logger.Warn("catalog degraded", zap.Error(err))
	}

	metrics := scorer.Conformance(snap)
	logger.Info("conformance snapshot",
		zap.Int("principals", metrics.TotalPrincipals),
		zap.Float64("conformance_score", metrics.ConformanceScore),
		zap.Float64("orphan_rate", metrics.OrphanRate),
		zap.Int("high_risk", metrics.HighRiskCount),
		zap.Int("inactive", metrics.InactiveCount),
		zap.Bool("degraded", snap.Degraded),
	)
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
