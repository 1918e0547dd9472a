// Package rules loads the league rulebook the assistant quotes from.
package rules

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

// Fallback is returned when no rules could be loaded.
const Fallback = "No rules file found."

const (
	fetchTimeout = 30 * time.Second
	maxRulesSize = 200_000
)

// Source holds the current rules text. It reads from a local file, a URL,
// or both (the file wins when it exists).
type Source struct {
	File   string
	URL    string
	Client *http.Client
	Logger *slog.Logger

	mu   sync.RWMutex
	text string
}

// NewSource creates a Source for the given file path and URL. Either may be empty.
func NewSource(file, rawURL string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		File:   file,
		URL:    rawURL,
		Client: &http.Client{Timeout: fetchTimeout},
		Logger: logger.With("component", "rules"),
	}
}

// Text returns the loaded rules or Fallback.
func (s *Source) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.text == "" {
		return Fallback
	}
	return s.text
}

// Load (re)reads the rules. On failure the previously loaded text is kept
// and the error is returned.
func (s *Source) Load(ctx context.Context) error {
	text, err := s.read(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
	s.Logger.Info("rules loaded", "chars", len(text))
	return nil
}

func (s *Source) read(ctx context.Context) (string, error) {
	if s.File != "" {
		data, err := os.ReadFile(s.File)
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if s.URL == "" {
			return "", fmt.Errorf("rules: read %s: %w", s.File, err)
		}
		s.Logger.Warn("rules file unreadable, trying url", "file", s.File, "error", err)
	}
	if s.URL == "" {
		return "", fmt.Errorf("rules: no file or url configured")
	}
	return s.fetch(ctx)
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	parsedURL, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("rules: invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("rules: %w", err)
	}
	req.Header.Set("User-Agent", "dave-bot/1.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("rules: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rules: fetch: HTTP %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxRulesSize)
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("rules: read body: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	article, err := readability.FromReader(body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("rules: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return "", fmt.Errorf("rules: render: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if title := article.Title(); title != "" && !strings.HasPrefix(text, title) {
		text = title + "\n\n" + text
	}
	return text, nil
}
