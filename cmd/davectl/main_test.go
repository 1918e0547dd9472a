package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func run(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--url", srvURL, "--key", "k"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestTicketsList(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[{"id":"c1","type":"Incident","status":"claimed","claimed_by":"s1","channel_name":"incident-ana","deadline":"2030-01-01T00:00:00Z","remaining_seconds":90}]`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "tickets", "list", "--status", "claimed")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotQuery != "status=claimed" || gotAuth != "Bearer k" {
		t.Errorf("query=%q auth=%q", gotQuery, gotAuth)
	}
	for _, want := range []string{"c1", "Incident", "claimed", "s1", "1m30s", "incident-ana"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTicketsCloseShowsWarning(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tickets/c1/close" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"status":"closed","ticket_id":"c1","warning":"delete channel: forbidden"}`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "tickets", "close", "c1", "--actor", "steward")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if body["actor"] != "steward" {
		t.Errorf("actor = %q", body["actor"])
	}
	if !strings.Contains(out, "closed") || !strings.Contains(out, "warning: delete channel: forbidden") {
		t.Errorf("output = %q", out)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"ticket not open"}`))
	}))
	defer srv.Close()

	_, err := run(t, srv.URL, "tickets", "close", "gone")
	if err == nil || !strings.Contains(err.Error(), "HTTP 404: ticket not open") {
		t.Errorf("err = %v", err)
	}
}

func TestArchiveShow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ticket_id":"c9","type":"Report","channel_name":"report-bo","owner_user_id":"u1","reason":"timeout","summary":"Reported a ghosting driver.","closed_at":"2026-01-02T15:04:05Z","messages":[{"author_name":"Bo","content":"he ghosted","timestamp":"2026-01-02T14:00:00Z"}]}`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "archive", "show", "c9")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"report-bo (Report)", "timeout", "Reported a ghosting driver.", "Bo: he ghosted"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("bot:\n  name: Dave\n"), 0o644)

	if _, err := run(t, "http://unused", "config", "validate", bad); err == nil {
		t.Error("expected validation error for config without platform or provider")
	}
}
