package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/config"
	"github.com/clinicops/clinicops/internal/domain/dailycode"
	"github.com/clinicops/clinicops/internal/platform/db"
)

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{time.Second, "00:00:01"},
		{59*time.Minute + 59*time.Second, "00:59:59"},
		{24 * time.Hour, "24:00:00"},
		{7*time.Hour + 30*time.Minute + 1500*time.Millisecond, "07:30:01"},
		{-5 * time.Second, "00:00:00"},
	}
	for _, tt := range tests {
		if got := formatCountdown(tt.in); got != tt.want {
			t.Errorf("formatCountdown(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_daily_codes.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_daily_code_settings.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "001_daily_codes.sql") || !strings.Contains(out, "2026-10-14 07:00:00") {
		t.Errorf("expected applied row, got:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("expected second migration pending, got %q", lines[3])
	}
}

func testRouterConfig() *config.Config {
	return &config.Config{
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
		MetricsEnabled: true,
	}
}

func testHandler() *dailycode.Handler {
	svc := dailycode.NewService(nil, nil, dailycode.ServiceConfig{}, zerolog.Nop())
	return dailycode.NewHandler(svc, nil)
}

func TestNewRouter_Health(t *testing.T) {
	e := newRouter(testRouterConfig(), zerolog.Nop(), testHandler(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected security headers")
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	e := newRouter(testRouterConfig(), zerolog.Nop(), testHandler(), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected prometheus exposition output")
	}
}

func TestNewRouter_MetricsDisabled(t *testing.T) {
	cfg := testRouterConfig()
	cfg.MetricsEnabled = false
	e := newRouter(cfg, zerolog.Nop(), testHandler(), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with metrics disabled, got %d", rec.Code)
	}
}

func TestNewRouter_DecodeRoute(t *testing.T) {
	e := newRouter(testRouterConfig(), zerolog.Nop(), testHandler(), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/daily-code/decode/AAA24", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"index":1`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}
