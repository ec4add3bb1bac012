package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/courier/internal/core/config"
	"github.com/vietddude/courier/internal/core/domain"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Tiers: []config.TierConfig{
			{
				ID:   "spool-local",
				Type: domain.TierTypeSpool,
				Dir:  t.TempDir(),
			},
		},
	}
}

func TestCourierDeliversEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewCourier(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewCourier: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out, err := app.Deliver(context.Background(), domain.Message{
		ID:        "msg-1",
		Recipient: "user-1",
		Payload:   []byte("hello"),
		Priority:  domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if out.Tier != "spool-local" || out.Attempts != 1 {
		t.Errorf("outcome = %+v", out)
	}

	// The message must be on disk.
	files, _ := filepath.Glob(filepath.Join(cfg.Tiers[0].Dir, "*.msg"))
	if len(files) != 1 {
		t.Errorf("spool files = %v, want one", files)
	}

	// And in the audit trail.
	recs, err := app.Deliveries().RecentByRecipient(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("RecentByRecipient: %v", err)
	}
	if len(recs) != 1 || !recs[0].Delivered || recs[0].MessageID != "msg-1" {
		t.Errorf("audit records = %+v", recs)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestCourierRejectsBrokenTierConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tiers = append(cfg.Tiers, config.TierConfig{
		ID:   "bad-tier",
		Type: domain.TierType("pigeon"),
	})

	if _, err := NewCourier(context.Background(), cfg); err == nil {
		t.Error("NewCourier accepted unknown tier type")
	}
}

func TestSubmitHandler(t *testing.T) {
	app, err := NewCourier(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("NewCourier: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		shutdownCtx, c2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer c2()
		_ = app.Stop(shutdownCtx)
	}()

	h := app.submitHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"recipient":"user-1","payload":"aGVsbG8=","priority":"high"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Delivered || resp.Tier != "spool-local" || resp.ID == "" {
		t.Errorf("response = %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"payload":"aGVsbG8="}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing recipient status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/messages", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}
}

func TestCourierStopIsGraceful(t *testing.T) {
	app, err := NewCourier(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("NewCourier: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		shutdownCtx, c2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer c2()
		done <- app.Stop(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}
}
