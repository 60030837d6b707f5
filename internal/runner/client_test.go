package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func testClient() *Client {
	return New(nil)
}

// TestRunTaskSuccess tests that a 2xx JSON body passes through parsed.
func TestRunTaskSuccess(t *testing.T) {
	var gotPath, gotToken, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("x-runner-token")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"completed","output":"42"}`))
	}))
	defer srv.Close()

	cfg := Config{BaseURL: srv.URL, Token: "sekrit"}
	body, err := testClient().RunTask(context.Background(), cfg, map[string]string{"taskId": "t1"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if gotPath != "/run-task" {
		t.Errorf("Expected path /run-task, got %q", gotPath)
	}
	if gotToken != "sekrit" {
		t.Errorf("Token header not sent, got %q", gotToken)
	}
	if gotAgent != UserAgent {
		t.Errorf("Expected User-Agent %q, got %q", UserAgent, gotAgent)
	}
	if body.Str("status") != "completed" || body.Str("output") != "42" {
		t.Errorf("Body not passed through: %+v", body)
	}
}

// TestRunTaskNotConfigured tests that a missing base URL short-circuits
// without any network call.
func TestRunTaskNotConfigured(t *testing.T) {
	_, err := testClient().RunTask(context.Background(), Config{}, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

// TestRunTaskRunnerError tests that a non-2xx with an error body maps
// to RunnerError carrying the reported message.
func TestRunTaskRunnerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	_, err := testClient().RunTask(context.Background(), Config{BaseURL: srv.URL}, nil)
	var re *RunnerError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RunnerError, got %T: %v", err, err)
	}
	if re.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", re.StatusCode)
	}
	if re.Message != "boom" {
		t.Errorf("Expected message %q, got %q", "boom", re.Message)
	}
}

// TestRunTaskInBandFailure tests that ok:false on a 2xx maps to
// RunnerError.
func TestRunTaskInBandFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"denied"}`))
	}))
	defer srv.Close()

	_, err := testClient().RunTask(context.Background(), Config{BaseURL: srv.URL}, nil)
	var re *RunnerError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RunnerError, got %T: %v", err, err)
	}
	if re.Message != "denied" {
		t.Errorf("Expected message %q, got %q", "denied", re.Message)
	}
}

// TestRunTaskHTMLResponse tests that an HTML page on a 2xx maps to
// InvalidResponseError with the tunnel diagnostic.
func TestRunTaskHTMLResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html><body>tunnel offline</body></html>"))
	}))
	defer srv.Close()

	_, err := testClient().RunTask(context.Background(), Config{BaseURL: srv.URL}, nil)
	var ie *InvalidResponseError
	if !errors.As(err, &ie) {
		t.Fatalf("Expected InvalidResponseError, got %T: %v", err, err)
	}
	if !strings.Contains(ie.Message, "HTML") {
		t.Errorf("Expected tunnel diagnostic, got %q", ie.Message)
	}
}

// TestRunTaskUnreachable tests that a dead endpoint maps to
// UnreachableError.
func TestRunTaskUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := testClient().RunTask(context.Background(), Config{BaseURL: srv.URL}, nil)
	var ue *UnreachableError
	if !errors.As(err, &ue) {
		t.Fatalf("Expected UnreachableError, got %T: %v", err, err)
	}
}

// TestShellRequestShape tests the shell request body sent to the
// runner.
func TestShellRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decodeInto(t, r, &got)
		w.Write([]byte(`{"stdout":"ok"}`))
	}))
	defer srv.Close()

	body, err := testClient().Shell(context.Background(), Config{BaseURL: srv.URL}, "ls -la", "/tmp", true)
	if err != nil {
		t.Fatalf("Shell failed: %v", err)
	}
	if body.Str("stdout") != "ok" {
		t.Errorf("Body not passed through: %+v", body)
	}
	if got["command"] != "ls -la" || got["cwd"] != "/tmp" || got["admin"] != true {
		t.Errorf("Request body wrong: %+v", got)
	}
}

// TestBrowseQuery tests the query encoding of the browse operation.
func TestBrowseQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	_, err := testClient().Browse(context.Background(), Config{BaseURL: srv.URL}, "/home", "*.go", true)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	for _, want := range []string{"path=%2Fhome", "pattern=%2A.go", "recursive=true"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("Query %q missing %q", gotQuery, want)
		}
	}
}

// TestTruncateRuneBoundary tests that diagnostics are cut without
// splitting a multi-byte rune.
func TestTruncateRuneBoundary(t *testing.T) {
	s := "héllo wörld"
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		if len(got) > n {
			t.Errorf("truncate(%q, %d) too long: %q", s, n, got)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) split a rune: %q", s, n, got)
		}
	}
	if got := truncate("short", 200); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
}

func decodeInto(t *testing.T, r *http.Request, out *map[string]any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode request body: %v", err)
	}
}
