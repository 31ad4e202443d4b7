package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	apihttp "schoolfees-cloud/internal/api/http"
	"schoolfees-cloud/internal/audit"
	"schoolfees-cloud/internal/auth"
	"schoolfees-cloud/internal/eventing"
	"schoolfees-cloud/internal/eventing/eventbus"
	eventingrepo "schoolfees-cloud/internal/eventing/infrastructure/postgres"
	feesapp "schoolfees-cloud/internal/fees/application"
	"schoolfees-cloud/internal/fees/application/events"
	"schoolfees-cloud/internal/fees/infrastructure/feestructure"
	feesrepo "schoolfees-cloud/internal/fees/infrastructure/postgres"
	feesinterfaces "schoolfees-cloud/internal/fees/interfaces"
	"schoolfees-cloud/internal/fees/interfaces/gateway"
	"schoolfees-cloud/internal/observability/metrics"
	reconapp "schoolfees-cloud/internal/reconcile/application"
	reconrepo "schoolfees-cloud/internal/reconcile/infrastructure/postgres"
	reconinterfaces "schoolfees-cloud/internal/reconcile/interfaces"
	reconmetrics "schoolfees-cloud/internal/reconcile/metrics"
	reconnotify "schoolfees-cloud/internal/reconcile/notify"
	studentsapp "schoolfees-cloud/internal/students/application"
	studentsrepo "schoolfees-cloud/internal/students/infrastructure/postgres"
	studentshttp "schoolfees-cloud/internal/students/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	accountChecker := auth.NewAccountChecker(db)
	auditRepo := audit.NewRepository(db)

	reconCfg, err := reconapp.LoadConfig()
	if err != nil {
		logger.Fatalf("reconcile config error: %v", err)
	}

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(events.PaymentRecorded{})
	registry.Register(events.ReconciliationCompleted{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.TenantID, baseBus)

	feesinterfaces.RegisterPaymentRecordedConsumer(baseBus, processedStore, logger)

	paymentStore := feesrepo.NewPaymentStore(db, feesrepo.WithPaymentTenantID(cfg.TenantID))
	snapshotRepo := feesrepo.NewSnapshotRepository(db, feesrepo.WithSnapshotTenantID(cfg.TenantID))
	ledgerRepo := feesrepo.NewLedgerRepository(db, feesrepo.WithLedgerTenantID(cfg.TenantID))
	receiptSeq := feesrepo.NewReceiptSequence(db,
		feesrepo.WithReceiptTenantID(cfg.TenantID),
		feesrepo.WithReceiptPrefix(cfg.ReceiptPrefix),
	)

	var feeStructure feesapp.FeeStructureProvider
	if cfg.FeeFixedAmount > 0 {
		fixed, err := feestructure.NewFixedAmountProvider(cfg.FeeFixedAmount)
		if err != nil {
			logger.Fatalf("fee structure error: %v", err)
		}
		feeStructure = fixed
	} else {
		table, err := feestructure.NewFeeTableProvider(db, cfg.TenantID)
		if err != nil {
			logger.Fatalf("fee structure error: %v", err)
		}
		feeStructure = table
	}

	feesPublisher := feesinterfaces.NewOutboxPublisher(publisher, cfg.TenantID)
	paymentService, err := feesapp.NewPaymentService(
		paymentStore,
		snapshotRepo,
		receiptSeq,
		feeStructure,
		accountChecker,
		feesPublisher,
		auditRepo,
		systemClock{},
		logger,
		cfg.TenantID,
	)
	if err != nil {
		logger.Fatalf("payment service error: %v", err)
	}
	statementService, err := feesapp.NewStatementService(ledgerRepo, snapshotRepo)
	if err != nil {
		logger.Fatalf("statement service error: %v", err)
	}

	paymentHandler, err := feesinterfaces.NewPaymentHandler(paymentService)
	if err != nil {
		logger.Fatalf("payment handler error: %v", err)
	}
	statementHandler, err := feesinterfaces.NewStatementHandler(statementService, accountChecker, auditRepo)
	if err != nil {
		logger.Fatalf("statement handler error: %v", err)
	}
	receiptHandler, err := feesinterfaces.NewReceiptHandler(statementService, auditRepo)
	if err != nil {
		logger.Fatalf("receipt handler error: %v", err)
	}
	ingestHandler, err := gateway.NewIngestHandler(paymentService, auditRepo, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	overdueService, err := feesapp.NewOverdueService(
		snapshotRepo,
		feesapp.DueDates(reconCfg.DueDates),
		cfg.TenantID,
		reconCfg.Schedule.OverdueDailyAt,
		auditRepo,
		systemClock{},
		logger,
	)
	if err != nil {
		logger.Fatalf("overdue service error: %v", err)
	}
	go overdueService.Start(context.Background())

	reconMetrics := reconmetrics.New()
	var reconNotifier reconnotify.Notifier
	if reconCfg.WebhookURL != "" {
		reconNotifier = reconnotify.NewWebhookNotifier(reconCfg.WebhookURL)
	}
	reconRepo := reconrepo.NewRepository(db, reconrepo.WithTenantID(cfg.TenantID))
	reconRunner, err := reconapp.NewRunner(
		ledgerRepo,
		snapshotRepo,
		reconRepo,
		reconCfg,
		reconNotifier,
		feesPublisher,
		reconMetrics,
		auditRepo,
		logger,
		cfg.TenantID,
	)
	if err != nil {
		logger.Fatalf("reconcile runner error: %v", err)
	}
	reconHandler, err := reconinterfaces.NewHandler(reconRunner, reconRepo, cfg.TenantID)
	if err != nil {
		logger.Fatalf("reconcile handler error: %v", err)
	}
	reconScheduler := reconapp.NewScheduler(reconRunner, cfg.TenantID, reconCfg.Schedule.DailyAt, logger)
	go reconScheduler.Start(context.Background())

	studentRepo := studentsrepo.NewStudentRepository(db)
	studentService, err := studentsapp.NewService(studentRepo, cfg.TenantID, auditRepo, logger)
	if err != nil {
		logger.Fatalf("student service error: %v", err)
	}
	studentHandler, err := studentshttp.NewStudentHandler(studentService)
	if err != nil {
		logger.Fatalf("student handler error: %v", err)
	}

	// Redrive outbox rows whose synchronous dispatch failed.
	go func() {
		ticker := time.NewTicker(cfg.DispatchInterval)
		defer ticker.Stop()
		for range ticker.C {
			count, err := dispatcher.Dispatch(context.Background(), cfg.DispatchBatch)
			if err != nil {
				logger.Printf("outbox dispatch error: %v", err)
				continue
			}
			if count > 0 {
				logger.Printf("outbox dispatched: count=%d", count)
			}
		}
	}()

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/gateway/payments", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/payments", paymentHandler)
	mux.Handle("/api/v1/students", studentHandler)
	mux.Handle("/api/v1/students/", studentHandler)
	mux.Handle("/api/v1/statements", statementHandler)
	mux.Handle("/api/v1/statements/", statementHandler)
	mux.Handle("/api/v1/receipts/", receiptHandler)
	mux.Handle("/api/v1/reconcile/run", reconHandler)
	mux.Handle("/api/v1/reconcile/runs", reconHandler)
	mux.Handle("/api/v1/reconcile/reports", reconHandler)
	mux.Handle("/api/v1/reconcile/reports/", reconHandler)
	mux.Handle("/api/v1/fees/status", apihttp.NewFeeStatusHandler(db, cfg.TenantID))
	mux.Handle("/api/v1/fees/outstanding", apihttp.NewOutstandingHandler(db, cfg.TenantID))
	mux.Handle("/api/v1/fees/stats", apihttp.NewFeeStatsHandler(db, cfg.TenantID))
	mux.Handle("/api/v1/exports/fees.csv", apihttp.NewExportFeesCSVHandler(db, cfg.TenantID))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	TenantID          string
	ReceiptPrefix     string
	FeeFixedAmount    float64
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
	DispatchInterval  time.Duration
	DispatchBatch     int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:          getenvDefault("TENANT_ID", "tenant-demo"),
		ReceiptPrefix:     getenvDefault("RECEIPT_PREFIX", "RCP"),
		FeeFixedAmount:    getenvFloatDefault("FEE_FIXED_AMOUNT", 0),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		DispatchInterval:  getenvDuration("OUTBOX_DISPATCH_INTERVAL", 30*time.Second),
		DispatchBatch:     getenvIntDefault("OUTBOX_DISPATCH_BATCH", 100),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ---- Adapters ----

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
