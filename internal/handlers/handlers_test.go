package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shellpilot/shellpilot/internal/advisor"
	"github.com/shellpilot/shellpilot/internal/database"
	"github.com/shellpilot/shellpilot/internal/history"
	"github.com/shellpilot/shellpilot/internal/sshconn"
	"github.com/shellpilot/shellpilot/internal/terminal"
)

// setupTestDB points the package-level database handle at an in-memory
// SQLite database.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&database.Target{}, &database.CommandRecord{}, &database.TargetSession{}, &database.Setting{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })
}

// setupHandlers wires the package-level collaborators the way main does and
// returns a test server over the full route table.
func setupHandlers(t *testing.T) *httptest.Server {
	t.Helper()
	setupTestDB(t)

	History = history.NewStore(database.DB)

	SSHMgr = sshconn.NewManager()
	t.Cleanup(SSHMgr.CloseAll)

	TermMgr = terminal.NewSessionManager(nil, nil)
	t.Cleanup(TermMgr.Stop)

	// No advisor endpoint: suggestions come from the local heuristic.
	Advisor = advisor.New(advisor.NewClient("", "", "", time.Second), advisor.NewCache(time.Minute))

	r := chi.NewRouter()
	r.Get("/health", HealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/targets/{id}/terminal", TerminalWS)
		r.Get("/targets/{id}/terminal/sessions", ListTerminalSessions)
		r.Delete("/targets/{id}/terminal/sessions/{sessionId}", CloseTerminalSession)
		r.Get("/targets/{id}/session", GetCurrentSession)
		r.Put("/targets/{id}/session", SetCurrentSession)
		r.Get("/targets/{id}/history", QueryHistory)
		r.Post("/targets/{id}/suggest", Suggest)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var parsed map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&parsed)
	return resp, parsed
}

func TestHealthCheck(t *testing.T) {
	srv := setupHandlers(t)

	resp, _ := doJSON(t, "GET", srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestSetCurrentSessionMintsID(t *testing.T) {
	srv := setupHandlers(t)

	resp, body := doJSON(t, "PUT", srv.URL+"/api/v1/targets/1/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	minted, _ := body["session_id"].(string)
	if minted == "" {
		t.Fatal("expected a minted session ID")
	}

	_, body = doJSON(t, "GET", srv.URL+"/api/v1/targets/1/session", nil)
	if got, _ := body["session_id"].(string); got != minted {
		t.Errorf("current session = %q, want %q", got, minted)
	}
}

func TestSetCurrentSessionExplicitAndIdempotent(t *testing.T) {
	srv := setupHandlers(t)

	for i := 0; i < 3; i++ {
		resp, body := doJSON(t, "PUT", srv.URL+"/api/v1/targets/1/session",
			map[string]string{"session_id": "deploy-review"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i, resp.StatusCode)
		}
		if got, _ := body["session_id"].(string); got != "deploy-review" {
			t.Errorf("attempt %d: session_id = %q", i, got)
		}
	}

	var count int64
	database.DB.Model(&database.TargetSession{}).Where("target_id = ?", 1).Count(&count)
	if count != 1 {
		t.Errorf("expected a single session pointer row, got %d", count)
	}
}

func TestGetCurrentSessionUnset(t *testing.T) {
	srv := setupHandlers(t)

	resp, body := doJSON(t, "GET", srv.URL+"/api/v1/targets/1/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if v, present := body["session_id"]; !present || v != nil {
		t.Errorf("expected null session_id, got %v", v)
	}
}

func TestInvalidTargetID(t *testing.T) {
	srv := setupHandlers(t)

	for _, path := range []string{
		"/api/v1/targets/abc/session",
		"/api/v1/targets/0/session",
		"/api/v1/targets/-1/history",
	} {
		resp, _ := doJSON(t, "GET", srv.URL+path, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s: status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestQueryHistoryBySession(t *testing.T) {
	srv := setupHandlers(t)

	for i := 1; i <= 3; i++ {
		if _, err := History.Append(1, "sess-a", fmt.Sprintf("cmd-%d", i), fmt.Sprintf("out-%d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := History.Append(1, "sess-b", "other", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	resp, body := doJSON(t, "GET", srv.URL+"/api/v1/targets/1/history?session=sess-a", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	records, _ := body["records"].([]interface{})
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	first, _ := records[0].(map[string]interface{})
	if first["command"] != "cmd-1" {
		t.Errorf("records not oldest first: %v", first["command"])
	}
}

func TestQueryHistoryFallsBackToCurrentSession(t *testing.T) {
	srv := setupHandlers(t)

	if err := History.SetCurrentSession(1, "sess-current"); err != nil {
		t.Fatalf("set current session: %v", err)
	}
	if _, err := History.Append(1, "sess-current", "uptime", "up 3 days"); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, body := doJSON(t, "GET", srv.URL+"/api/v1/targets/1/history", nil)
	if got, _ := body["session_id"].(string); got != "sess-current" {
		t.Errorf("resolved session = %q, want sess-current", got)
	}
	records, _ := body["records"].([]interface{})
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestQueryHistoryLimitValidation(t *testing.T) {
	srv := setupHandlers(t)

	for _, limit := range []string{"abc", "0", "-5"} {
		resp, _ := doJSON(t, "GET", srv.URL+"/api/v1/targets/1/history?limit="+limit, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestListTerminalSessionsEmpty(t *testing.T) {
	srv := setupHandlers(t)

	resp, body := doJSON(t, "GET", srv.URL+"/api/v1/targets/1/terminal/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	sessions, _ := body["sessions"].([]interface{})
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %v", sessions)
	}
}

func TestCloseTerminalSessionNotFound(t *testing.T) {
	srv := setupHandlers(t)

	req, _ := http.NewRequest("DELETE", srv.URL+"/api/v1/targets/1/terminal/sessions/ghost", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSuggestUsesFallbackWithoutAdvisor(t *testing.T) {
	srv := setupHandlers(t)

	if err := History.SetCurrentSession(1, "sess-a"); err != nil {
		t.Fatalf("set current session: %v", err)
	}
	if _, err := History.Append(1, "sess-a", "cd /var/log", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	resp, body := doJSON(t, "POST", srv.URL+"/api/v1/targets/1/suggest", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got, _ := body["next_command"].(string); got != "ls -la" {
		t.Errorf("next_command = %q, want heuristic for cd", got)
	}
	if got, _ := body["source"].(string); got != advisor.SourceFallback {
		t.Errorf("source = %q, want %q", got, advisor.SourceFallback)
	}
}

func TestSuggestEmptyHistoryStillSuggests(t *testing.T) {
	srv := setupHandlers(t)

	resp, body := doJSON(t, "POST", srv.URL+"/api/v1/targets/1/suggest", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got, _ := body["next_command"].(string); got == "" {
		t.Error("expected a non-empty suggestion for empty history")
	}
}
