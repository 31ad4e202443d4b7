package application

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	driftKeysFile = "drift_keys.csv"
	snapshotsFile = "snapshots.csv"
	summaryFile   = "drift_summary.json"
	archiveFile   = "report.zip"
)

type driftSummary struct {
	RunID        string  `json:"run_id"`
	TenantID     string  `json:"tenant_id"`
	AccountFrom  string  `json:"account_from,omitempty"`
	AccountTo    string  `json:"account_to,omitempty"`
	Scanned      int     `json:"scanned"`
	Groups       int     `json:"groups"`
	Created      int     `json:"created"`
	Updated      int     `json:"updated"`
	Skipped      int     `json:"skipped"`
	DriftKeys    int     `json:"drift_keys"`
	DriftPaidMax float64 `json:"drift_paid_max"`
	Tolerance    float64 `json:"tolerance"`
	GeneratedAt  string  `json:"generated_at"`
}

func buildDriftSummary(runID, tenantID string, opts RunOptions, report *RunReport, tolerance float64) driftSummary {
	return driftSummary{
		RunID:        runID,
		TenantID:     tenantID,
		AccountFrom:  opts.AccountFrom,
		AccountTo:    opts.AccountTo,
		Scanned:      report.Scanned,
		Groups:       report.Groups,
		Created:      report.Created,
		Updated:      report.Updated,
		Skipped:      report.Skipped,
		DriftKeys:    report.DriftKeys,
		DriftPaidMax: report.DriftPaidMax,
		Tolerance:    tolerance,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// writeDriftFiles writes the per-key drift listing and the rebuilt snapshot
// listing for the committed writes of a run.
func writeDriftFiles(dir string, committed []*stagedWrite) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeDriftKeysCSV(filepath.Join(dir, driftKeysFile), committed); err != nil {
		return err
	}
	return writeSnapshotsCSV(filepath.Join(dir, snapshotsFile), committed)
}

func writeDriftKeysCSV(path string, committed []*stagedWrite) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"account_id", "term", "session", "key", "cached_total_paid", "ledger_total_paid", "drift", "action"}); err != nil {
		return err
	}
	for _, write := range committed {
		action := "update"
		if write.isNew {
			action = "create"
		}
		row := []string{
			write.group.accountID,
			write.group.period.Term,
			write.group.period.Session,
			write.group.key.String(),
			formatCSVFloat(write.cachedPaid),
			formatCSVFloat(write.group.totalPaid),
			formatCSVFloat(abs(write.group.totalPaid - write.cachedPaid)),
			action,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeSnapshotsCSV(path string, committed []*stagedWrite) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"account_id", "term", "session", "total_due", "total_paid", "balance", "status", "last_payment_ref", "last_payment_at", "version"}); err != nil {
		return err
	}
	for _, write := range committed {
		snapshot := write.snapshot
		lastAt := ""
		if !snapshot.LastPaymentAt().IsZero() {
			lastAt = snapshot.LastPaymentAt().UTC().Format(time.RFC3339)
		}
		row := []string{
			snapshot.AccountID(),
			snapshot.Period().Term,
			snapshot.Period().Session,
			formatCSVFloat(snapshot.TotalDue()),
			formatCSVFloat(snapshot.TotalPaid()),
			formatCSVFloat(snapshot.Balance()),
			string(snapshot.Status()),
			snapshot.LastPaymentRef(),
			lastAt,
			strconv.Itoa(snapshot.Version()),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeSummaryJSON(dir string, summary driftSummary) error {
	file, err := os.Create(filepath.Join(dir, summaryFile))
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

// writeArchive bundles the report files of dir into report.zip and returns
// the archive path. Missing files are skipped.
func writeArchive(dir string) (string, error) {
	archivePath := filepath.Join(dir, archiveFile)
	file, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	archive := zip.NewWriter(file)
	for _, name := range []string{driftKeysFile, snapshotsFile, summaryFile} {
		source := filepath.Join(dir, name)
		if _, err := os.Stat(source); err != nil {
			continue
		}
		if err := addToArchive(archive, source, name); err != nil {
			archive.Close()
			return "", err
		}
	}
	if err := archive.Close(); err != nil {
		return "", err
	}
	return archivePath, nil
}

func addToArchive(archive *zip.Writer, source, name string) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	entry, err := archive.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, file)
	return err
}

func formatCSVFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
