package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errors.New("down") }

func TestHealthChecker_Folds(t *testing.T) {
	hc := NewHealthChecker("tourbot", "v1")
	hc.AddCheck("config", ok)
	if got := hc.Run(context.Background()).Status; got != StatusHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}

	hc.AddOptionalCheck("redis", fail)
	report := hc.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["redis"].Error != "down" {
		t.Fatalf("expected error text, got %+v", report.Checks["redis"])
	}

	hc.AddCheck("database", fail)
	report = hc.Run(context.Background())
	if report.Status != StatusUnhealthy || len(report.Checks) != 3 {
		t.Fatalf("expected unhealthy with 3 checks, got %+v", report)
	}
	if names := hc.Names(); len(names) != 3 || names[0] != "config" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestHealthChecker_SharedTimeout(t *testing.T) {
	hc := NewHealthChecker("tourbot", "")
	hc.timeout = 0
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if got := hc.Run(context.Background()).Status; got != StatusUnhealthy {
		t.Fatalf("expected timed out check to fail, got %s", got)
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hc := NewHealthChecker("tourbot", "v1")
	hc.AddOptionalCheck("redis", fail)

	r := gin.New()
	r.GET("/health", hc.Handler())
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected degraded to answer 200, got %d", w.Code)
	}
	var report Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Service != "tourbot" || report.Status != StatusDegraded {
		t.Fatalf("unexpected report %+v", report)
	}

	hc.AddCheck("config", fail)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestDatabaseCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	if err := DatabaseCheck(db)(context.Background()); err != nil {
		t.Fatalf("expected ping to pass, got %v", err)
	}
	if err := DatabaseCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected nil db to fail")
	}
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := RedisCheck(client)(context.Background()); err != nil {
		t.Fatalf("expected ping to pass, got %v", err)
	}
	mr.Close()
	if err := RedisCheck(client)(context.Background()); err == nil {
		t.Fatal("expected failure after redis stops")
	}
}

func TestRequiredConfig(t *testing.T) {
	err := RequiredConfig(map[string]string{"TOURVISOR_AUTH_PASS": "", "TOURVISOR_AUTH_LOGIN": "", "LLM_PROVIDER": "yandex"})(context.Background())
	if err == nil || err.Error() != "missing TOURVISOR_AUTH_LOGIN, TOURVISOR_AUTH_PASS" {
		t.Fatalf("unexpected error %v", err)
	}
	if err := RequiredConfig(map[string]string{"LLM_PROVIDER": "yandex"})(context.Background()); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}
