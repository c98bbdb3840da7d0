package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tacita/internal/audit"
	"tacita/internal/consent"
	"tacita/internal/detect"
	"tacita/internal/docstore"
	"tacita/internal/messages"
	"tacita/internal/pipeline"
	"tacita/internal/platform/config"
	"tacita/internal/platform/httpserver"
	"tacita/internal/platform/logger"
	"tacita/internal/platform/metrics"
	"tacita/internal/platform/sqlite"
	"tacita/internal/retention"
	httptransport "tacita/internal/transport/http"
	"tacita/pkg/domain"
	"tacita/pkg/platform/tx"
)

// main wires dependencies and owns the process lifecycle: HTTP server,
// background sweep loop, graceful shutdown. Business logic lives in the
// internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	runner := tx.NewSQLRunner(db)

	auditSvc := audit.NewService(audit.NewSQLiteStore(db), log, cfg.AuditRetentionFloor)
	consentSvc := consent.NewService(consent.NewSQLiteStore(db), auditSvc, runner, log)

	exclusions, err := detect.LoadExclusions(cfg.DetectConfigPath)
	if err != nil {
		log.Error("loading detection exclusions", "error", err)
		os.Exit(1)
	}
	var ner detect.Detector
	if cfg.NEREndpoint != "" {
		ner = detect.NewNERDetector(cfg.NEREndpoint)
	}
	engine := detect.NewEngine(ner, detect.Options{
		Threshold:       cfg.DetectThreshold,
		Boost:           cfg.DetectBoost,
		OverlapFraction: cfg.DetectOverlap,
		ContextSpan:     cfg.DetectContextSpan,
		Exclusions:      exclusions,
	})

	// The local embedder is always wired; the remote one is used per
	// document only when the subject holds a remote_inference grant.
	var remote docstore.Embedder
	if cfg.EmbedderEndpoint != "" {
		remote = docstore.NewRemoteEmbedder(cfg.EmbedderEndpoint, cfg.EmbedderModel)
	}

	detections := detect.NewSQLiteRecordStore(db)
	docSvc := docstore.NewService(docstore.ServiceParams{
		Store:         docstore.NewSQLiteStore(db),
		Detections:    detections,
		Engine:        engine,
		Embedder:      docstore.NewLocalEmbedder(cfg.EmbedDimensions),
		Remote:        remote,
		Index:         docstore.NewVecIndex(),
		Runner:        runner,
		Chunker:       docstore.NewChunker(cfg.ChunkMaxChars, cfg.ChunkMinChars, cfg.ChunkOverlap),
		Logger:        log,
		Ceiling:       cfg.CapacityCeiling,
		MinSimilarity: cfg.MinSimilarity,
		DefaultTTL:    cfg.DocumentTTL,
	})
	msgSvc := messages.NewService(messages.NewSQLiteStore(db), detections, engine, runner, log, cfg.ChatMessageTTL)

	enforcer := retention.NewEnforcer(
		retention.NewSQLitePolicyStore(db),
		docSvc,
		msgSvc,
		auditSvc,
		func(ctx context.Context) error { return sqlite.Reclaim(ctx, db) },
		log,
		m,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := docSvc.Warm(ctx); err != nil {
		log.Error("warming document store", "error", err)
		os.Exit(1)
	}
	if err := enforcer.SeedPolicies(ctx, []retention.Policy{
		{Kind: domain.ResourceDocuments, TTL: cfg.DocumentTTL, AutoDelete: true},
		{Kind: domain.ResourceChatMessages, TTL: cfg.ChatMessageTTL, AutoDelete: true},
		{Kind: domain.ResourceAuditLog, TTL: cfg.AuditTTL, AutoDelete: true},
	}); err != nil {
		log.Error("seeding retention policies", "error", err)
		os.Exit(1)
	}

	pipe := pipeline.NewService(consentSvc, docSvc, msgSvc, auditSvc, m, log)
	handler := httptransport.NewHandler(pipe, consentSvc, enforcer, cfg.RedactOnIngest, log)
	srv := httpserver.New(cfg.Addr, handler.Router())

	go sweepLoop(ctx, enforcer, cfg.SweepInterval, log)

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// sweepLoop runs retention sweeps on the configured interval until the
// context is cancelled. Failures are logged and retried next tick.
func sweepLoop(ctx context.Context, enforcer *retention.Enforcer, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := enforcer.RunSweep(ctx); err != nil {
				log.Error("retention sweep failed", "error", err)
			}
		}
	}
}
