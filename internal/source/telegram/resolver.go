package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// DefaultAPIBase is the public Bot API origin.
const DefaultAPIBase = "https://api.telegram.org"

// MaxBotFileSize is the largest file the Bot API will serve through getFile.
const MaxBotFileSize = 20 << 20

// Resolver turns a file id into a download URL through getFile.
type Resolver struct {
	token   string
	apiBase string
	client  *http.Client
}

var _ ingest.MediaResolver = (*Resolver)(nil)

// NewResolver builds a Resolver for token. An empty apiBase uses DefaultAPIBase.
func NewResolver(token, apiBase string, client *http.Client) (*Resolver, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{token: token, apiBase: strings.TrimRight(apiBase, "/"), client: client}, nil
}

type getFileResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		FileID   string `json:"file_id"`
		FileSize int64  `json:"file_size,omitempty"`
		FilePath string `json:"file_path"`
	} `json:"result"`
}

// Resolve calls getFile for candidate.MediaRef. The returned URL embeds the bot token
// and must not be logged.
func (r *Resolver) Resolve(ctx context.Context, candidate ingest.Candidate) (string, error) {
	if candidate.MediaRef == "" {
		if candidate.RawMediaURL != "" {
			return candidate.RawMediaURL, nil
		}
		return "", fmt.Errorf("%w: candidate has no file id", ingest.ErrInvalidContent)
	}
	body, err := json.Marshal(map[string]string{"file_id": candidate.MediaRef})
	if err != nil {
		return "", fmt.Errorf("marshal getFile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/getFile", r.apiBase, r.token), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build getFile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		// url.Error carries the token-bearing URL; keep only the cause.
		return "", fmt.Errorf("%w: getFile: %v", ingest.ErrNetwork, errors.Unwrap(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: getFile returned %d", ingest.ErrNetwork, resp.StatusCode)
	}

	var decoded getFileResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode getFile: %v", ingest.ErrNetwork, err)
	}
	if !decoded.OK || decoded.Result.FilePath == "" {
		return "", fmt.Errorf("%w: getFile: %s", ingest.ErrInvalidContent, decoded.Description)
	}
	if decoded.Result.FileSize > MaxBotFileSize {
		return "", fmt.Errorf("%w: file is %d bytes, over the bot api limit", ingest.ErrInvalidContent, decoded.Result.FileSize)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", r.apiBase, r.token, strings.TrimLeft(decoded.Result.FilePath, "/")), nil
}
