// Package translate produces en/zh/th text through the OpenRouter chat-completions API.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "anthropic/claude-3.5-sonnet"
)

// Config controls the OpenRouter client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
	Referer     string
	Title       string
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.Referer == "" {
		c.Referer = "https://lmsy.space"
	}
	if c.Title == "" {
		c.Title = "LMSY Archive"
	}
}

// Client calls OpenRouter and parses locale maps out of model replies.
type Client struct {
	cfg    Config
	http   *http.Client
	retry  *ingest.ExponentialRetryPolicy
	logger *zap.Logger
}

var _ ingest.Translator = (*Client)(nil)

// New validates cfg and builds a Client. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("translator api key is required")
	}
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		retry:  ingest.NewExponentialRetryPolicy(cfg.MaxAttempts, 500*time.Millisecond, 5*time.Second),
		logger: logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Translate returns text in every target locale. The source locale always carries text verbatim.
func (c *Client) Translate(ctx context.Context, text string, hint ingest.Locale, targets []ingest.Locale) (ingest.Localized, error) {
	text = norm.NFC.String(strings.TrimSpace(text))
	if len(targets) == 0 {
		targets = ingest.AllLocales
	}
	if text == "" {
		out := make(ingest.Localized, len(targets))
		for _, loc := range targets {
			out[loc] = ""
		}
		return out, nil
	}

	source := hint
	if source == "" {
		source = DetectLocale(text)
	}
	needed := make([]ingest.Locale, 0, len(targets))
	for _, loc := range targets {
		if loc != source {
			needed = append(needed, loc)
		}
	}
	out := ingest.Localized{source: text}
	if len(needed) == 0 {
		return out, nil
	}

	reply, err := c.complete(ctx, buildPrompt(text, source, needed))
	if err != nil {
		metrics.ObserveTranslation(c.cfg.Model, "error")
		return nil, fmt.Errorf("%w: %w", ingest.ErrTranslationFailed, err)
	}
	parsed, err := parseReply(reply)
	if err != nil {
		metrics.ObserveTranslation(c.cfg.Model, "invalid_reply")
		return nil, fmt.Errorf("%w: %w", ingest.ErrTranslationFailed, err)
	}
	for _, loc := range needed {
		value := norm.NFC.String(strings.TrimSpace(parsed[string(loc)]))
		if value == "" {
			metrics.ObserveTranslation(c.cfg.Model, "invalid_reply")
			return nil, fmt.Errorf("%w: reply is missing %q", ingest.ErrTranslationFailed, loc)
		}
		out[loc] = value
	}
	metrics.ObserveTranslation(c.cfg.Model, "ok")
	return out, nil
}

// TranslateFields translates a title and description concurrently into every
// locale. Each field carries its own source hint; an empty hint is detected.
func (c *Client) TranslateFields(ctx context.Context, title, description string, titleHint, descHint ingest.Locale) (ingest.Localized, ingest.Localized, error) {
	var titleOut, descOut ingest.Localized
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		titleOut, err = c.Translate(gctx, title, titleHint, ingest.AllLocales)
		return err
	})
	g.Go(func() error {
		var err error
		descOut, err = c.Translate(gctx, description, descHint, ingest.AllLocales)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return titleOut, descOut, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// statusError is a non-2xx reply; 429 and 5xx are worth another attempt.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openrouter returned %d: %s", e.code, e.body)
}

func (e *statusError) Retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	for attempt := 1; ; attempt++ {
		content, err := c.post(ctx, payload)
		if err == nil {
			return content, nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return "", err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("translation attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", c.cfg.Referer)
	req.Header.Set("X-Title", c.cfg.Title)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call openrouter: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode, body: truncate(string(body), 256)}
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("openrouter error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", errors.New("openrouter returned no content")
	}
	c.logger.Debug("translation completed",
		zap.String("model", decoded.Model),
		zap.Int("tokens", decoded.Usage.TotalTokens),
	)
	return decoded.Choices[0].Message.Content, nil
}

func buildPrompt(text string, source ingest.Locale, targets []ingest.Locale) string {
	names := make([]string, 0, len(targets))
	keys := make([]string, 0, len(targets))
	for _, loc := range targets {
		names = append(names, localeNames[loc])
		keys = append(keys, fmt.Sprintf("%q", loc))
	}
	var b strings.Builder
	b.WriteString("You translate posts for a fan archive dedicated to the Thai actress duo Lookmhee & Sonya.\n\n")
	b.WriteString("Style:\n")
	b.WriteString("- Warm, fan-oriented tone.\n")
	b.WriteString("- Always write the names as \"Lookmhee\" and \"Sonya\".\n")
	b.WriteString("- Keep hashtags, handles and emoji unchanged.\n\n")
	fmt.Fprintf(&b, "The input is written in %s. Translate it to: %s.\n\n", localeNames[source], strings.Join(names, ", "))
	fmt.Fprintf(&b, "INPUT:\n\"\"\"%s\"\"\"\n\n", text)
	fmt.Fprintf(&b, "Reply with ONLY a JSON object whose keys are exactly %s and whose values are the translations.", strings.Join(keys, ", "))
	return b.String()
}

var (
	fencedJSON  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	firstObject = regexp.MustCompile(`(?s)\{.*?\}`)
)

// parseReply accepts raw JSON, a fenced json block, or the first {...} in the text.
func parseReply(reply string) (map[string]string, error) {
	reply = strings.TrimSpace(reply)
	candidates := []string{reply}
	if m := fencedJSON.FindStringSubmatch(reply); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := firstObject.FindString(reply); m != "" {
		candidates = append(candidates, m)
	}
	for _, candidate := range candidates {
		var out map[string]string
		if err := json.Unmarshal([]byte(candidate), &out); err == nil && len(out) > 0 {
			return out, nil
		}
	}
	return nil, fmt.Errorf("reply is not a locale object: %s", truncate(reply, 120))
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
