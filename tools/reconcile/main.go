package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	feesrepo "schoolfees-cloud/internal/fees/infrastructure/postgres"
	reconapp "schoolfees-cloud/internal/reconcile/application"
	reconrepo "schoolfees-cloud/internal/reconcile/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dbURL    string
	tenantID string
	from     string
	to       string
	outDir   string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintln(os.Stderr, "db ping:", err)
		os.Exit(2)
	}

	reconCfg, err := reconapp.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if cfg.outDir != "" {
		reconCfg.StorageRoot = cfg.outDir
	}

	ledger := feesrepo.NewLedgerRepository(db, feesrepo.WithLedgerTenantID(cfg.tenantID))
	snapshots := feesrepo.NewSnapshotRepository(db, feesrepo.WithSnapshotTenantID(cfg.tenantID))
	runs := reconrepo.NewRepository(db, reconrepo.WithTenantID(cfg.tenantID))

	logger := log.New(os.Stderr, "", log.LstdFlags)
	runner, err := reconapp.NewRunner(ledger, snapshots, runs, reconCfg, nil, nil, nil, nil, logger, cfg.tenantID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runner:", err)
		os.Exit(2)
	}

	report, err := runner.Run(context.Background(), cfg.tenantID, reconapp.RunOptions{
		AccountFrom: cfg.from,
		AccountTo:   cfg.to,
	})
	if err != nil {
		if report != nil {
			printReport(report)
		}
		fmt.Fprintln(os.Stderr, "run:", err)
		os.Exit(1)
	}

	printReport(report)
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.tenantID, "tenant", getenvDefault("TENANT_ID", ""), "tenant id")
	flag.StringVar(&cfg.from, "from", "", "account id range start (inclusive, optional)")
	flag.StringVar(&cfg.to, "to", "", "account id range end (exclusive, optional)")
	flag.StringVar(&cfg.outDir, "out", "", "report directory (overrides RECONCILE_STORAGE_ROOT)")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.tenantID == "" {
		return cfg, errors.New("missing --tenant or TENANT_ID")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func printReport(report *reconapp.RunReport) {
	fmt.Printf("run %s\n", report.RunID)
	fmt.Printf("scanned=%d groups=%d created=%d updated=%d skipped=%d\n",
		report.Scanned, report.Groups, report.Created, report.Updated, report.Skipped)
	fmt.Printf("drift_keys=%d drift_paid_max=%.2f\n", report.DriftKeys, report.DriftPaidMax)
	if report.Location != "" {
		fmt.Printf("report written to %s\n", report.Location)
	}
}
