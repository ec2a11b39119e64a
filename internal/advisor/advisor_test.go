package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shellpilot/shellpilot/internal/contextwin"
)

func window(pairs ...[2]string) contextwin.Window {
	win := contextwin.Window{}
	for _, p := range pairs {
		win.Records = append(win.Records, contextwin.Record{Command: p[0], Output: p[1]})
	}
	return win
}

// --- Fingerprint ---

func TestFingerprintStable(t *testing.T) {
	a := window([2]string{"ls", "file"}, [2]string{"pwd", "/root"})
	b := window([2]string{"ls", "file"}, [2]string{"pwd", "/root"})
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("identical windows must produce the same fingerprint")
	}
}

func TestFingerprintSensitive(t *testing.T) {
	base := window([2]string{"ls", "file"}, [2]string{"pwd", "/root"})
	variants := []contextwin.Window{
		window([2]string{"ls", "file"}),                                  // dropped record
		window([2]string{"pwd", "/root"}, [2]string{"ls", "file"}),       // reordered
		window([2]string{"ls", "filex"}, [2]string{"pwd", "/root"}),      // changed output
		window([2]string{"lsx", "file"}, [2]string{"pwd", "/root"}),      // changed command
		window([2]string{"ls", "filepwd"}, [2]string{"", "/root"}),       // shifted boundary
		window([2]string{"ls", ""}, [2]string{"file pwd", "/root"}),      // shifted boundary
		window([2]string{"ls", "file"}, [2]string{"pwd", "/root"}, [2]string{"", ""}),
	}
	fp := Fingerprint(base)
	for i, v := range variants {
		if Fingerprint(v) == fp {
			t.Errorf("variant %d must change the fingerprint", i)
		}
	}
}

// --- Cache ---

func TestCacheHitAndExpiry(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("fp", Suggestion{NextCommand: "ls"})
	if s, ok := c.Get("fp"); !ok || s.NextCommand != "ls" {
		t.Fatalf("expected cache hit, got ok=%v s=%+v", ok, s)
	}

	// Advance past the TTL: lazy eviction on access
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("fp"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry evicted, len=%d", c.Len())
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("fp", Suggestion{NextCommand: "ls"})
	c.Invalidate("fp")
	if _, ok := c.Get("fp"); ok {
		t.Fatal("expected invalidated entry to miss")
	}
}

// --- Reply parsing ---

func TestParseReplyPlainObject(t *testing.T) {
	s, err := ParseReply(`{"nextCommand": "cd repo", "alternatives": ["ls"], "explanations": ["enter the clone"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.NextCommand != "cd repo" {
		t.Errorf("expected next command %q, got %q", "cd repo", s.NextCommand)
	}
	if len(s.Alternatives) != 1 || s.Alternatives[0] != "ls" {
		t.Errorf("unexpected alternatives: %v", s.Alternatives)
	}
	if s.Rationale != "enter the clone" {
		t.Errorf("unexpected rationale: %q", s.Rationale)
	}
	if s.Source != SourceModel {
		t.Errorf("expected source %q, got %q", SourceModel, s.Source)
	}
}

func TestParseReplyCodeFence(t *testing.T) {
	text := "Sure! Here is my suggestion:\n```json\n{\"answer\": \"git push\", \"commands\": [\"git log\"]}\n```\nGood luck!"
	s, err := ParseReply(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.NextCommand != "git push" {
		t.Errorf("expected %q, got %q", "git push", s.NextCommand)
	}
	if len(s.Alternatives) != 1 || s.Alternatives[0] != "git log" {
		t.Errorf("unexpected alternatives: %v", s.Alternatives)
	}
}

func TestParseReplyBracesInStrings(t *testing.T) {
	s, err := ParseReply(`{"nextCommand": "echo '{'", "explanations": []}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.NextCommand != "echo '{'" {
		t.Errorf("expected brace preserved, got %q", s.NextCommand)
	}
}

func TestParseReplyCommandsOnly(t *testing.T) {
	s, err := ParseReply(`{"commands": ["make test", "make build"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.NextCommand != "make test" {
		t.Errorf("expected first command promoted, got %q", s.NextCommand)
	}
	if len(s.Alternatives) != 1 || s.Alternatives[0] != "make build" {
		t.Errorf("unexpected alternatives: %v", s.Alternatives)
	}
}

func TestParseReplyUnparseable(t *testing.T) {
	for _, text := range []string{
		"",
		"no json here",
		"{not valid json}",
		`{"explanations": ["no command at all"]}`,
	} {
		if _, err := ParseReply(text); err == nil {
			t.Errorf("expected error for %q", text)
		}
	}
}

// --- Fallback ---

func TestFallbackRules(t *testing.T) {
	cases := []struct {
		lastCommand string
		wantNext    string
	}{
		{"git clone https://example.com/owner/repo.git", "cd repo"},
		{"git clone git@example.com:owner/tool", "cd tool"},
		{"cd /var/log", "ls -la"},
		{"tar -xzf release.tar.gz", "cd release"},
		{"docker ps", "docker logs "},
		{"sudo apt install jq", "which "},
		{"grep -r TODO .", "wc -l"},
	}
	for _, tc := range cases {
		win := window([2]string{"echo earlier", ""}, [2]string{tc.lastCommand, ""})
		s := Fallback(win)
		if s.NextCommand != tc.wantNext {
			t.Errorf("after %q: expected %q, got %q", tc.lastCommand, tc.wantNext, s.NextCommand)
		}
		if s.Source != SourceFallback {
			t.Errorf("after %q: expected fallback source, got %q", tc.lastCommand, s.Source)
		}
	}
}

func TestFallbackDefault(t *testing.T) {
	if s := Fallback(contextwin.Window{}); s.NextCommand == "" {
		t.Fatal("fallback must always produce a command")
	}
	win := window([2]string{"some-unknown-binary --flag", ""})
	if s := Fallback(win); s.NextCommand == "" {
		t.Fatal("fallback must always produce a command for unknown input")
	}
}

// --- Suggest orchestration ---

func modelServer(t *testing.T, calls *int32, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": reply}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSuggestCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := modelServer(t, &calls, `{"nextCommand": "cd repo"}`)

	a := New(NewClient(srv.URL, "", "test-model", time.Second), NewCache(time.Minute))
	win := window([2]string{"git clone repo", "done"})

	first := a.Suggest(context.Background(), win)
	second := a.Suggest(context.Background(), win)

	if first.NextCommand != "cd repo" || second.NextCommand != "cd repo" {
		t.Fatalf("unexpected suggestions: %+v / %+v", first, second)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly 1 service call, got %d", n)
	}
}

func TestSuggestDifferentWindowsMiss(t *testing.T) {
	var calls int32
	srv := modelServer(t, &calls, `{"nextCommand": "ls"}`)

	a := New(NewClient(srv.URL, "", "test-model", time.Second), NewCache(time.Minute))
	a.Suggest(context.Background(), window([2]string{"pwd", "/a"}))
	a.Suggest(context.Background(), window([2]string{"pwd", "/b"}))

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 service calls for distinct windows, got %d", n)
	}
}

func TestSuggestTimeoutFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	timeout := 50 * time.Millisecond
	a := New(NewClient(srv.URL, "", "test-model", timeout), NewCache(time.Minute))
	win := window([2]string{"docker ps", "CONTAINER ID"})

	start := time.Now()
	s := a.Suggest(context.Background(), win)
	elapsed := time.Since(start)

	if s.NextCommand == "" {
		t.Fatal("expected non-empty fallback suggestion")
	}
	if s.Source != SourceFallback {
		t.Fatalf("expected fallback source, got %q", s.Source)
	}
	if elapsed > timeout+300*time.Millisecond {
		t.Fatalf("suggest took %v, expected timeout + small constant", elapsed)
	}
}

func TestSuggestUnparseableFallsBack(t *testing.T) {
	var calls int32
	srv := modelServer(t, &calls, "I have no idea, sorry.")

	a := New(NewClient(srv.URL, "", "test-model", time.Second), NewCache(time.Minute))
	s := a.Suggest(context.Background(), window([2]string{"cd /tmp", ""}))

	if s.Source != SourceFallback {
		t.Fatalf("expected fallback source, got %q", s.Source)
	}
	if s.NextCommand != "ls -la" {
		t.Fatalf("expected heuristic for cd, got %q", s.NextCommand)
	}
}

func TestSuggestNoEndpointUsesFallback(t *testing.T) {
	a := New(NewClient("", "", "", time.Second), NewCache(time.Minute))
	s := a.Suggest(context.Background(), window([2]string{"git status", "modified: main.go"}))
	if s.Source != SourceFallback || s.NextCommand == "" {
		t.Fatalf("expected fallback suggestion, got %+v", s)
	}
}

func TestSuggestDeduplicatesConcurrentCalls(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"nextCommand": "ls"}`}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(NewClient(srv.URL, "", "test-model", 5*time.Second), NewCache(time.Minute))
	win := window([2]string{"pwd", "/root"})

	const workers = 8
	var wg sync.WaitGroup
	results := make([]Suggestion, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Suggest(context.Background(), win)
		}(i)
	}

	// Give all workers time to pile onto the same fingerprint, then let
	// the single service call finish.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected 1 in-flight service call, got %d", n)
	}
	for i, s := range results {
		if s.NextCommand != "ls" {
			t.Errorf("worker %d: expected shared result, got %+v", i, s)
		}
	}
}

func TestRenderPromptIncludesHistory(t *testing.T) {
	win := window([2]string{"ls -la", "total 8"}, [2]string{"pwd", "/root"})
	prompt := RenderPrompt(win)
	for _, want := range []string{"ls -la", "total 8", "pwd", "/root", "nextCommand"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}
