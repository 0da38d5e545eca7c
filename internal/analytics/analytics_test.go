package analytics

import (
	"context"
	"reflect"
	"testing"
	"time"

	"spamguard/internal/storage"
)

type staticSource []storage.AuditLog

func (s staticSource) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error) {
	return s, nil
}

func TestReportCounts(t *testing.T) {
	logs := staticSource{
		{UserID: "u1", Level: "WARN", Event: "spam_flagged"},
		{UserID: "u2", Level: "CRIT", Event: "spam_flagged"},
		{UserID: "u2", Level: "WARN", Event: "spam_flagged"},
		{UserID: "u2", Level: "WARN", Event: "enforcement_failed"},
		{UserID: "admin", Level: "INFO", Event: "policy_changed"},
	}
	report, err := New(logs).Report(context.Background(), "g1", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 5 || report.ByLevel["WARN"] != 3 || report.ByEvent["spam_flagged"] != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	want := []UserCount{{UserID: "u2", Count: 2}, {UserID: "u1", Count: 1}}
	if !reflect.DeepEqual(report.TopUsers, want) {
		t.Fatalf("expected %v, got %v", want, report.TopUsers)
	}
}
