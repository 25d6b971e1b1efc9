// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build(zap.Fields(zap.String("service", "lmsy-ingest")))
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

var (
	botTokenPath = regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_-]+`)
	botToken     = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// RedactText masks Telegram bot tokens anywhere in s, such as inside an
// error message that quotes a file download URL.
func RedactText(s string) string {
	return botToken.ReplaceAllString(s, "bot[redacted]")
}

// RedactURL strips credentials from a URL before it reaches a log line:
// userinfo, the query string, and Telegram bot tokens embedded in the path.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	u.Path = botTokenPath.ReplaceAllString(u.Path, "/bot[redacted]")
	u.RawPath = ""
	return strings.Replace(u.String(), "%5Bredacted%5D", "[redacted]", 1)
}
