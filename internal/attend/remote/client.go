// Package remote talks to the hosted collaborator that stores session
// configuration and archived session documents.  The wire format is
// plain JSON over HTTP; upload failures are the caller's to log, never
// to retry.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ipbeep/attendance/internal/attend/types"
)

// ErrConfigNotFound means no session config document exists under the
// requested key.
var ErrConfigNotFound = errors.New("session config not found")

type Client struct {
	base     string
	http     *http.Client
	validate *validator.Validate
}

func NewClient(baseURL string) *Client {
	return &Client{
		base:     baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		validate: validator.New(),
	}
}

// FetchSessionConfig retrieves and validates the session descriptor.
// A descriptor that decodes but fails validation is treated as absent
// from the caller's perspective: the session must not start on it.
func (c *Client) FetchSessionConfig(ctx context.Context, key string) (*types.SessionConfig, error) {
	u := c.base + "/config/" + url.PathEscape(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrConfigNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch config: unexpected status %d", resp.StatusCode)
	}

	var cfg types.SessionConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// UploadSessionLog archives the flattened ledger snapshot under the
// session's document id.
func (c *Client) UploadSessionLog(ctx context.Context, doc types.SessionDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session document: %w", err)
	}

	docID := doc.CourseID + "_" + doc.SessionID
	u := c.base + "/sessions/" + url.PathEscape(docID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload session %s: %w", docID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload session %s: unexpected status %d", docID, resp.StatusCode)
	}
	return nil
}
