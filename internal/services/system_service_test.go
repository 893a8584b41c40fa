package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/feastline/checkout/internal/domain"
)

func TestSystemServiceHealthReportAllHealthy(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(time.Minute)

	svc, err := NewSystemService(SystemServiceDeps{
		Probes: map[string]HealthProbe{
			"firestore": func(context.Context) error { return nil },
			"pricing":   func(context.Context) error { return nil },
		},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("status = %s, want ok", report.Status)
	}
	if report.Uptime != time.Minute {
		t.Fatalf("uptime = %s, want 1m", report.Uptime)
	}
	if report.Version != "1.0.0" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("firestore check = %+v", report.Checks["firestore"])
	}
}

func TestSystemServiceHealthReportDegraded(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		Probes: map[string]HealthProbe{
			"firestore": func(context.Context) error { return nil },
			"orders":    func(context.Context) error { return errors.New("connection refused") },
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.Checks["orders"].Error != "connection refused" {
		t.Fatalf("orders check = %+v", report.Checks["orders"])
	}
	if report.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("firestore check = %+v", report.Checks["firestore"])
	}
}

func TestSystemServiceRejectsNilProbe(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{
		Probes: map[string]HealthProbe{"firestore": nil},
	})
	if err == nil {
		t.Fatal("expected error for nil probe")
	}
}
