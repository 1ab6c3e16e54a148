// cmd/intake-engine/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"intake-engine/internal/audit"
	"intake-engine/internal/common/aws"
	apperrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/config"
	"intake-engine/internal/common/database"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/common/observability"
	"intake-engine/internal/intake"
	"intake-engine/internal/review"
	"intake-engine/internal/startup"
	"intake-engine/internal/store"
	"intake-engine/internal/transport"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	// Deferred as a closure so the logger swapped in after config load is
	// the one flushed on exit.
	defer func() { _ = zapLog.Sync() }()

	zapLog.Info("Starting intake engine...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New("intake-engine")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch audit trail (optional) ---
	var trail audit.Trail = audit.NopTrail{}
	if cfg.Database.Elasticsearch.Enabled() {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		trail = audit.NewElasticTrail(esClient.Client, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init operator alerts (optional) ---
	var alerter review.Alerter
	if cfg.Alerts.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Alerts.Region, cfg.Alerts.TopicARN)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		alerter = snsClient
		zapLog.Info("SNS alert channel initialized")
	}

	// --- Connect the chat platform ---
	conv, triggers, err := transport.Connect(ctx)
	if err != nil {
		zapLog.Fatal("platform connection failed", zap.Error(err))
	}
	zapLog.Info("Platform connected successfully")

	// --- Load the question list ---
	questions, err := intake.LoadQuestions(cfg.Intake.QuestionsPath)
	if err != nil {
		zapLog.Fatal("question list invalid", zap.Error(err))
	}
	zapLog.Info("Question list loaded", zap.Int("questions", len(questions)))

	// --- Wire workflow components ---
	applications := store.NewPostgresStore(
		pg.DB,
		cfg.Intake.RetryAttempts,
		config.GetDuration(cfg.Intake.RetryDelay),
		log,
	)

	collectors := intake.NewCollectors(conv)
	guard := intake.NewRedisSessionGuard(rdb.Client, config.GetDuration(cfg.Intake.SessionGuardTTL))

	dispatcher := review.NewDispatcher(
		applications, conv, trail, alerter, cfg.Intake.ReviewChannelID, log,
	)

	engine := intake.NewEngine(
		conv, collectors, dispatcher, guard, questions,
		intake.Config{
			StaffRoleID:   cfg.Intake.StaffRoleID,
			AnswerTimeout: config.GetDuration(cfg.Intake.AnswerTimeout),
			TeardownGrace: config.GetDuration(cfg.Intake.TeardownGrace),
		},
		log,
	)

	processor := review.NewProcessor(
		applications, conv, collectors,
		&transport.ChannelCommandSink{Conv: conv, ChannelID: cfg.Intake.ProvisionChannelID},
		review.NewRedisDecisionLock(rdb.Client, config.GetDuration(cfg.Intake.DecisionLockTTL)),
		trail,
		review.ProcessorConfig{
			ApprovedChannelID: cfg.Intake.ApprovedChannelID,
			RejectedChannelID: cfg.Intake.RejectedChannelID,
			ApprovedRoleID:    cfg.Intake.ApprovedRoleID,
			ReasonTimeout:     config.GetDuration(cfg.Intake.ReasonTimeout),
		},
		log,
	)

	if err := startup.EnsureEntryPrompt(ctx, conv, cfg.Intake.StartChannelID, log); err != nil {
		zapLog.Fatal("entry prompt setup failed", zap.Error(err))
	}

	// --- Trigger dispatch loop ---
	loopCtx, stopLoop := context.WithCancel(ctx)
	go dispatchLoop(loopCtx, triggers, engine, processor, obs, log)

	// --- Keep-alive HTTP server with metrics ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "ok",
			"activeSessions": engine.ActiveSessions(),
		})
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: mux,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.Int("port", cfg.HTTP.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	stopLoop()
	engine.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Intake engine stopped")
}

// dispatchLoop routes incoming triggers. Every trigger gets exactly one
// acknowledgment, even when the handler panics.
func dispatchLoop(
	ctx context.Context,
	src transport.TriggerSource,
	engine *intake.Engine,
	processor *review.Processor,
	obs *observability.Observability,
	log logger.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case trig, ok := <-src.Triggers():
			if !ok {
				log.Warn("trigger source closed", nil)
				return
			}
			trig.Ack = transport.SingleAck(trig.Ack)
			go handleTrigger(ctx, trig, engine, processor, obs, log)
		}
	}
}

func handleTrigger(
	ctx context.Context,
	trig transport.Trigger,
	engine *intake.Engine,
	processor *review.Processor,
	obs *observability.Observability,
	log logger.Logger,
) {
	start := time.Now()
	status := "ok"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			log.Error("trigger handler panicked", map[string]interface{}{
				"kind":  string(trig.Kind),
				"panic": fmt.Sprintf("%v", r),
			})
			answerFailure(ctx, trig)
		}
		obs.RecordTriggerProcessed(ctx, string(trig.Kind), status)
		obs.RecordTriggerDuration(ctx, time.Since(start), string(trig.Kind))
	}()

	var err error
	switch trig.Kind {
	case transport.TriggerIntakeStart:
		err = engine.StartSession(ctx, trig)
	case transport.TriggerApprove:
		err = processor.Approve(ctx, trig)
	case transport.TriggerReject:
		err = processor.Reject(ctx, trig)
	default:
		log.Warn("unknown trigger kind", map[string]interface{}{"kind": string(trig.Kind)})
		_ = trig.Ack(ctx, "This action is not supported.")
		return
	}

	if err != nil {
		status = "error"
		fields := map[string]interface{}{
			"kind":  string(trig.Kind),
			"actor": trig.ActorID,
			"error": err.Error(),
		}
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			fields["code"] = string(stdErr.Code)
			fields["retryable"] = apperrors.IsRetryableErrorCode(stdErr.Code)
		}
		log.Error("trigger handling failed", fields)
		answerFailure(ctx, trig)
	}
}

// answerFailure sends the generic failure reply. A second Ack on an already
// acknowledged trigger is swallowed by the single-ack wrapper.
func answerFailure(ctx context.Context, trig transport.Trigger) {
	_ = trig.Ack(ctx, "Something went wrong handling your action. Please try again.")
}
