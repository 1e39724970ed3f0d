package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mamabot/internal/bus"
	"mamabot/internal/channel"
	"mamabot/internal/config"
	"mamabot/internal/domain"
	"mamabot/internal/facility"
	"mamabot/internal/metrics"
	"mamabot/internal/store"
)

func newTestServer(t *testing.T) (*Server, domain.FacilityStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := facility.NewSQLiteStore(filepath.Join(t.TempDir(), "facilities.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Defaults()
	cfg.API.Enabled = true
	cfg.Metrics.Enabled = true

	srv := NewServer(ServerConfig{
		Config:     cfg,
		Facilities: store,
		Collector:  metrics.NewMetricsCollector(),
		Logger:     logger,
	})
	return srv, store
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mamabot_uptime_seconds") {
		t.Error("metrics output missing uptime")
	}
}

func TestFacilityCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	create := domain.FacilityRecord{
		Name:           "Migori County Referral Hospital",
		ContactNumbers: []string{"0800 723 253"},
		County:         "Migori",
		HasMaternity:   true,
		HasEmergency:   true,
	}
	rec := doRequest(t, srv, "POST", "/api/facilities", create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.FacilityRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("create did not assign an id")
	}
	if !created.Active {
		t.Error("created facility should be active")
	}

	rec = doRequest(t, srv, "GET", "/api/facilities/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	created.ContactNumbers = []string{"0800 723 253", "0709 123 456"}
	rec = doRequest(t, srv, "PUT", "/api/facilities/"+created.ID, created)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, "GET", "/api/facilities?county=Migori", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Facilities []domain.FacilityRecord `json:"facilities"`
		Count      int                     `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if listed.Count != 1 {
		t.Fatalf("list count = %d", listed.Count)
	}
	if len(listed.Facilities[0].ContactNumbers) != 2 {
		t.Errorf("update not persisted: %v", listed.Facilities[0].ContactNumbers)
	}

	rec = doRequest(t, srv, "DELETE", "/api/facilities/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	// Soft delete: gone from the active list, still fetchable by id.
	rec = doRequest(t, srv, "GET", "/api/facilities?county=Migori", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if listed.Count != 0 {
		t.Errorf("deactivated facility still listed: count = %d", listed.Count)
	}
	rec = doRequest(t, srv, "GET", "/api/facilities/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("deactivated facility should remain fetchable, got %d", rec.Code)
	}
}

func TestFacilityValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/facilities", domain.FacilityRecord{County: "Migori"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("nameless create status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/facilities", strings.NewReader("{broken"))
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec2.Code)
	}
}

func TestFacilityNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, method := range []string{"GET", "PUT", "DELETE"} {
		var body any
		if method == "PUT" {
			body = domain.FacilityRecord{Name: "x"}
		}
		rec := doRequest(t, srv, method, "/api/facilities/no-such-id", body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s unknown id status = %d, want 404", method, rec.Code)
		}
	}
}

func TestUserConversations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mamabot.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { users.Close() })

	ctx := context.Background()
	u := domain.User{ID: "u1", WhatsAppID: "254711000001", Phase: domain.PhaseComplete, Active: true}
	if err := users.Create(ctx, u); err != nil {
		t.Fatal(err)
	}
	for i, text := range []string{"habari", "Habari Mama!", "nina swali"} {
		dir := domain.DirectionIncoming
		if i == 1 {
			dir = domain.DirectionOutgoing
		}
		rec := domain.ConversationRecord{UserID: "u1", Direction: dir, Text: text,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := users.LogMessage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Defaults()
	cfg.API.Enabled = true
	srv := NewServer(ServerConfig{Config: cfg, Conversations: users, Logger: logger})

	rec := doRequest(t, srv, "GET", "/api/users/254711000001/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		UserID   string                      `json:"user_id"`
		Messages []domain.ConversationRecord `json:"messages"`
		Count    int                         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.UserID != "u1" || resp.Count != 3 {
		t.Fatalf("user_id = %q, count = %d", resp.UserID, resp.Count)
	}
	// Oldest first.
	if resp.Messages[0].Text != "habari" || resp.Messages[2].Text != "nina swali" {
		t.Errorf("message order = %q, %q, %q",
			resp.Messages[0].Text, resp.Messages[1].Text, resp.Messages[2].Text)
	}

	rec = doRequest(t, srv, "GET", "/api/users/254711000001/conversations?limit=2", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || resp.Messages[1].Text != "nina swali" {
		t.Errorf("limited read: count = %d, last = %q", resp.Count, resp.Messages[len(resp.Messages)-1].Text)
	}

	rec = doRequest(t, srv, "GET", "/api/users/254711000001/conversations?limit=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, "GET", "/api/users/unknown/conversations", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
}

func TestWebhookMountedAtConfiguredPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Defaults()
	cfg.WhatsApp.VerifyToken = "tok"

	wa := channel.NewWhatsApp(cfg.WhatsApp, logger)
	if err := wa.Start(context.Background(), bus.New(1, logger)); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(ServerConfig{Config: cfg, Webhook: wa.Handler(), Logger: logger})

	req := httptest.NewRequest("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=99", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "99" {
		t.Errorf("challenge echo = %q", rec.Body.String())
	}
}

func TestAPIDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.API.Enabled = false

	rec := doRequest(t, srv, "GET", "/api/facilities", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled API status = %d, want 404", rec.Code)
	}
}
