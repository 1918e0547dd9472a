package logbuf

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newTestLogger(buf *Buffer, level slog.Level) *slog.Logger {
	inner := slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: level})
	return slog.New(NewHandler(inner, buf))
}

func TestBufferWrapsOldestFirst(t *testing.T) {
	buf := New(3)
	now := time.Now()
	for i, msg := range []string{"a", "b", "c", "d", "e"} {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: msg})
	}

	entries := buf.Query(Filter{})
	if len(entries) != 3 || buf.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "c" || entries[2].Message != "e" {
		t.Fatalf("unexpected order: %v", entries)
	}
}

func TestQuerySince(t *testing.T) {
	buf := New(10)
	now := time.Now()
	buf.Write(Entry{Time: now.Add(-time.Minute), Level: "INFO", Message: "old"})
	buf.Write(Entry{Time: now, Level: "INFO", Message: "new"})

	entries := buf.Query(Filter{Since: now.Add(-time.Second)})
	if len(entries) != 1 || entries[0].Message != "new" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestQueryMinLevel(t *testing.T) {
	buf := New(10)
	now := time.Now()
	buf.Write(Entry{Time: now, Level: "DEBUG", Message: "debug"})
	buf.Write(Entry{Time: now, Level: "INFO", Message: "info"})
	buf.Write(Entry{Time: now, Level: "WARN", Message: "warn"})
	buf.Write(Entry{Time: now, Level: "ERROR", Message: "error"})

	entries := buf.Query(Filter{MinLevel: slog.LevelWarn})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at WARN+, got %d", len(entries))
	}
	if entries[0].Message != "warn" || entries[1].Message != "error" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestQueryLimitKeepsNewest(t *testing.T) {
	buf := New(10)
	now := time.Now()
	for i := 0; i < 8; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: string(rune('a' + i))})
	}

	entries := buf.Query(Filter{Limit: 3})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries with limit, got %d", len(entries))
	}
	if entries[2].Message != "h" {
		t.Fatalf("expected newest last, got %q", entries[2].Message)
	}
}

func TestQueryByTicket(t *testing.T) {
	buf := New(10)
	logger := newTestLogger(buf, slog.LevelInfo)

	logger.With("ticket", "c1").Info("ticket created")
	logger.Info("assistant reply", "ticket", "c2")
	logger.With("ticket", "c1").Warn("history unavailable")
	logger.Info("unrelated")

	entries := buf.Query(Filter{Ticket: "c1"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for c1, got %d: %v", len(entries), entries)
	}
	if entries[1].Message != "history unavailable" {
		t.Fatalf("unexpected entry: %v", entries[1])
	}
}

func TestQueryByComponentAndText(t *testing.T) {
	buf := New(10)
	logger := newTestLogger(buf, slog.LevelInfo)

	logger.With("component", "lifecycle").Info("Ticket Closed")
	logger.With("component", "timer").Info("ticket closed by timer")
	logger.With("component", "lifecycle").Info("ticket claimed")

	entries := buf.Query(Filter{Component: "lifecycle", Contains: "closed"})
	if len(entries) != 1 || entries[0].Message != "Ticket Closed" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestHandlerCapturesAllLevels(t *testing.T) {
	buf := New(10)
	logger := newTestLogger(buf, slog.LevelWarn)

	logger.Debug("debug msg")
	logger.Info("info msg", "key", "value")
	logger.Warn("warn msg")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in buffer, got %d", len(entries))
	}
	if entries[1].Attrs["key"] != "value" {
		t.Fatalf("expected attr key=value, got %v", entries[1].Attrs)
	}
	if entries[2].Level != "WARN" {
		t.Fatalf("expected WARN level, got %q", entries[2].Level)
	}
}

func TestHandlerEnabledAlwaysTrue(t *testing.T) {
	inner := slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewHandler(inner, New(1))
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected DEBUG to be enabled")
	}
}

func TestHandlerGroupsAndErrors(t *testing.T) {
	buf := New(10)
	logger := newTestLogger(buf, slog.LevelInfo)

	logger.WithGroup("discord").Error("send failed", "error", errors.New("rate limited"))

	entries := buf.Query(Filter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].Attrs["discord.error"]; got != "rate limited" {
		t.Fatalf("expected stringified error under group key, got %#v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (int, error) { return len(p), nil }
