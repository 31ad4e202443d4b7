package notify

import "context"

// AlertMessage represents a drift notification payload.
type AlertMessage struct {
	TenantID     string            `json:"tenant_id"`
	RunID        string            `json:"run_id"`
	ReportID     string            `json:"report_id"`
	ReportURL    string            `json:"report_url"`
	DriftSummary map[string]any    `json:"drift_summary"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}
