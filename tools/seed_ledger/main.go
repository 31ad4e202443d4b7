package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	fees "schoolfees-cloud/internal/fees/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dsn       string
	tenantID  string
	prefix    string
	students  int
	payments  int
	session   string
	skewEvery int
}

var (
	classLevels = []string{"JSS1", "JSS2", "JSS3", "SS1", "SS2", "SS3"}
	termNames   = []string{"first", "second", "third"}

	// Spelling variants exercised on raw ledger rows; reconciliation must
	// collapse them to one key per student and term.
	termSpellings    = []string{"first", "First Term", "FIRST", " first "}
	sessionSpellings = []func(session string) string{
		func(s string) string { return s },
		func(s string) string { return altSeparator(s) },
		func(s string) string { return " " + s + " " },
	}
)

type obligation struct {
	accountID string
	key       fees.AccountPeriodKey
	period    fees.Period
	totalDue  float64
	totalPaid float64
	lastRef   string
	lastAt    time.Time
	lastPaid  float64
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.students <= 0 {
		log.Fatal("students must be > 0")
	}
	if cfg.payments <= 0 {
		log.Fatal("payments must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	studentIDs := buildStudentIDs(cfg.prefix, cfg.students)

	log.Printf("seeding students: count=%d tenant=%s", len(studentIDs), cfg.tenantID)
	if err := seedStudents(ctx, db, cfg.tenantID, studentIDs); err != nil {
		log.Fatalf("seed students: %v", err)
	}

	log.Printf("seeding fee structures: session=%s", cfg.session)
	if err := seedFeeStructures(ctx, db, cfg.tenantID, cfg.session); err != nil {
		log.Fatalf("seed fee structures: %v", err)
	}

	log.Printf("seeding payment ledger: payments=%d per student", cfg.payments)
	obligations, events, err := seedLedger(ctx, db, cfg, studentIDs)
	if err != nil {
		log.Fatalf("seed ledger: %v", err)
	}

	skewed, err := seedSnapshots(ctx, db, cfg.tenantID, obligations, cfg.skewEvery)
	if err != nil {
		log.Fatalf("seed snapshots: %v", err)
	}

	log.Printf("seed completed: students=%d events=%d snapshots=%d skewed=%d",
		len(studentIDs), events, len(obligations), skewed)
	if skewed > 0 {
		log.Printf("run tools/reconcile to repair the skewed snapshots")
	}
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "db", envOrDefault("DATABASE_URL", envOrDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.tenantID, "tenant", envOrDefault("TENANT_ID", "tenant-demo"), "tenant id")
	flag.StringVar(&cfg.prefix, "prefix", "stu-seed-", "student id prefix")
	flag.IntVar(&cfg.students, "students", envOrInt("SEED_STUDENTS", 40), "number of students to seed")
	flag.IntVar(&cfg.payments, "payments", envOrInt("SEED_PAYMENTS", 3), "payments per student")
	flag.StringVar(&cfg.session, "session", "2025/2026", "academic session")
	flag.IntVar(&cfg.skewEvery, "skew", 0, "drop the last payment from every Nth snapshot (0 disables)")
	flag.Parse()
	return cfg
}

func buildStudentIDs(prefix string, count int) []string {
	list := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%04d", prefix, i))
	}
	return list
}

func classLevelFor(idx int) string {
	return classLevels[idx%len(classLevels)]
}

// feeAmountFor keeps seniors more expensive than juniors, so statements and
// stats have visible spread.
func feeAmountFor(classLevel string) float64 {
	for i, level := range classLevels {
		if level == classLevel {
			return 90000 + float64(i)*15000
		}
	}
	return 90000
}

func seedStudents(ctx context.Context, db *sql.DB, tenantID string, studentIDs []string) error {
	const insertSQL = `
INSERT INTO students (
	id,
	tenant_id,
	full_name,
	class_level,
	guardian_phone,
	status
) VALUES (
	$1,$2,$3,$4,$5,$6
)
ON CONFLICT (id)
DO UPDATE SET
	tenant_id = EXCLUDED.tenant_id,
	full_name = EXCLUDED.full_name,
	class_level = EXCLUDED.class_level,
	guardian_phone = EXCLUDED.guardian_phone,
	status = EXCLUDED.status,
	updated_at = NOW()`

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for idx, id := range studentIDs {
		fullName := fmt.Sprintf("Seed Student %04d", idx+1)
		phone := fmt.Sprintf("+23480%08d", idx+1)
		if _, err := stmt.ExecContext(ctx, id, tenantID, fullName, classLevelFor(idx), phone, "active"); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func seedFeeStructures(ctx context.Context, db *sql.DB, tenantID, session string) error {
	const insertSQL = `
INSERT INTO fee_structures (
	tenant_id,
	class_level,
	term,
	session,
	amount
) VALUES (
	$1,$2,$3,$4,$5
)
ON CONFLICT (tenant_id, class_level, term, session)
DO UPDATE SET amount = EXCLUDED.amount`

	canonical := fees.NormalizePeriod(termNames[0], session)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, level := range classLevels {
		for _, term := range termNames {
			if _, err := stmt.ExecContext(ctx, tenantID, level, term, canonical.Session, feeAmountFor(level)); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func seedLedger(ctx context.Context, db *sql.DB, cfg config, studentIDs []string) (map[fees.AccountPeriodKey]*obligation, int, error) {
	const insertSQL = `
INSERT INTO payment_events (
	id,
	tenant_id,
	account_id,
	term,
	session,
	amount,
	method,
	details,
	paid_at,
	receipt_number,
	recorded_by
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO NOTHING`

	obligations := make(map[fees.AccountPeriodKey]*obligation)
	start := time.Now().UTC().AddDate(0, 0, -30).Truncate(time.Hour)
	events := 0

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return nil, 0, err
	}

	for idx, accountID := range studentIDs {
		totalDue := feeAmountFor(classLevelFor(idx))
		for p := 0; p < cfg.payments; p++ {
			term := termNames[p%len(termNames)]
			period := fees.NormalizePeriod(term, cfg.session)
			key, err := fees.BuildAccountPeriodKey(accountID, period)
			if err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return nil, 0, err
			}

			ob, ok := obligations[key]
			if !ok {
				ob = &obligation{accountID: accountID, key: key, period: period, totalDue: totalDue}
				obligations[key] = ob
			}

			// Raw rows carry the uncleaned spellings bursars actually type.
			rawTerm := termSpellings[(idx+p)%len(termSpellings)]
			rawSession := sessionSpellings[(idx+p)%len(sessionSpellings)](cfg.session)
			amount := totalDue / float64(cfg.payments+1)
			paidAt := start.Add(time.Duration(idx*24+p*6) * time.Hour)
			receipt := fmt.Sprintf("RCP-SEED-%04d-%02d", idx+1, p+1)
			eventID := fmt.Sprintf("seed-%s-%02d", accountID, p+1)

			if _, err := stmt.ExecContext(
				ctx,
				eventID,
				cfg.tenantID,
				accountID,
				rawTerm,
				rawSession,
				amount,
				string(fees.MethodCash),
				[]byte(`{"teller_name":"seed"}`),
				paidAt,
				receipt,
				"seed:tools/seed_ledger",
			); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return nil, 0, err
			}
			events++

			ob.totalPaid += amount
			ob.lastRef = receipt
			ob.lastAt = paidAt
			ob.lastPaid = amount
		}
		if (idx+1)%20 == 0 {
			log.Printf("seeded ledger for %d/%d students", idx+1, len(studentIDs))
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return obligations, events, nil
}

func seedSnapshots(ctx context.Context, db *sql.DB, tenantID string, obligations map[fees.AccountPeriodKey]*obligation, skewEvery int) (int, error) {
	const insertSQL = `
INSERT INTO fee_status_snapshots (
	tenant_id,
	account_period_key,
	account_id,
	term,
	session,
	total_due,
	total_paid,
	balance,
	status,
	last_payment_ref,
	last_payment_at,
	version
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1
)
ON CONFLICT (tenant_id, account_period_key)
DO UPDATE SET
	total_due = EXCLUDED.total_due,
	total_paid = EXCLUDED.total_paid,
	balance = EXCLUDED.balance,
	status = EXCLUDED.status,
	last_payment_ref = EXCLUDED.last_payment_ref,
	last_payment_at = EXCLUDED.last_payment_at,
	version = EXCLUDED.version,
	updated_at = NOW()`

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	skewed := 0
	count := 0
	for _, ob := range obligations {
		count++
		totalPaid := ob.totalPaid
		lastRef := ob.lastRef
		if skewEvery > 0 && count%skewEvery == 0 {
			totalPaid -= ob.lastPaid
			lastRef = ""
			skewed++
		}

		balance := ob.totalDue - totalPaid
		status := fees.StatusUnpaid
		switch {
		case balance <= 0:
			status = fees.StatusPaid
		case totalPaid > 0:
			status = fees.StatusPartial
		}

		if _, err := stmt.ExecContext(
			ctx,
			tenantID,
			ob.key.String(),
			ob.accountID,
			ob.period.Term,
			ob.period.Session,
			ob.totalDue,
			totalPaid,
			balance,
			string(status),
			lastRef,
			ob.lastAt,
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, err
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return skewed, nil
}

func altSeparator(session string) string {
	out := []byte(session)
	for i := range out {
		if out[i] == '-' {
			out[i] = '/'
		} else if out[i] == '/' {
			out[i] = '-'
		}
	}
	return string(out)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
