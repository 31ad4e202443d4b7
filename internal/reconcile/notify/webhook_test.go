package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func alertFixture() AlertMessage {
	return AlertMessage{
		TenantID:  "tenant-a",
		RunID:     "rec-1",
		ReportID:  "report-rec-1",
		ReportURL: "http://fees.local/api/v1/reconcile/reports/report-rec-1/download",
		DriftSummary: map[string]any{
			"drift_keys":     3,
			"drift_paid_max": 30000.0,
		},
	}
}

func TestWebhookNotifier_PostsTextPayload(t *testing.T) {
	var (
		method      string
		contentType string
		body        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	if err := notifier.Notify(context.Background(), alertFixture()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if method != http.MethodPost {
		t.Fatalf("expected POST, got %s", method)
	}
	if contentType != "application/json" {
		t.Fatalf("expected json content type, got %s", contentType)
	}

	var payload struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.MsgType != "text" {
		t.Fatalf("expected msgtype text, got %s", payload.MsgType)
	}
	if !strings.Contains(payload.Text.Content, "[Fee Drift Alert]") {
		t.Fatalf("expected alert banner, got %q", payload.Text.Content)
	}
	if !strings.Contains(payload.Text.Content, "Run: rec-1") {
		t.Fatalf("expected run id, got %q", payload.Text.Content)
	}
	if !strings.Contains(payload.Text.Content, "Report URL: http://fees.local") {
		t.Fatalf("expected report url, got %q", payload.Text.Content)
	}
}

func TestWebhookNotifier_RejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	if err := notifier.Notify(context.Background(), alertFixture()); err == nil {
		t.Fatal("expected error on non-2xx")
	}
}

func TestWebhookNotifier_RequiresURL(t *testing.T) {
	notifier := NewWebhookNotifier("")
	if err := notifier.Notify(context.Background(), alertFixture()); err == nil {
		t.Fatal("expected error on empty url")
	}
}

func TestFormatAlertMessage_SkipsEmptyFields(t *testing.T) {
	content := formatAlertMessage(AlertMessage{RunID: "rec-9"})
	if !strings.Contains(content, "Run: rec-9") {
		t.Fatalf("expected run line, got %q", content)
	}
	if strings.Contains(content, "Tenant:") || strings.Contains(content, "Report URL:") {
		t.Fatalf("expected empty fields omitted, got %q", content)
	}
}
