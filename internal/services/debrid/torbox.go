package debrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
)

// TorboxClient talks to a torbox-style debrid API. All calls are stateless;
// the provider item id returned by Add is the only handle carried forward.
type TorboxClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewTorboxClient creates a provider client
func NewTorboxClient(name, baseURL, apiKey string, logger *logrus.Logger) (*TorboxClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: URL is required", name)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", name)
	}

	return &TorboxClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// Name returns the configured provider name
func (c *TorboxClient) Name() string { return c.name }

type cacheResponse struct {
	Success bool `json:"success"`
	Cached  bool `json:"cached"`
}

// CheckCached reports whether the source is already available on the provider
func (c *TorboxClient) CheckCached(ctx context.Context, cand models.Candidate) (bool, error) {
	var resp cacheResponse
	err := c.do(ctx, http.MethodGet, "/api/cache/"+url.PathEscape(cand.SourceID), nil, &resp)
	if err != nil {
		return false, err
	}
	return resp.Cached, nil
}

type addRequest struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name,omitempty"`
}

type addResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
	Data    struct {
		ItemID string `json:"item_id"`
	} `json:"data"`
}

// Add submits the source and returns the provider item id
func (c *TorboxClient) Add(ctx context.Context, cand models.Candidate) (string, error) {
	var resp addResponse
	err := c.do(ctx, http.MethodPost, "/api/items", addRequest{SourceID: cand.SourceID, Name: cand.Title}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("%s: %s: %w", c.name, resp.Detail, models.ErrProviderRejected)
	}

	c.logger.WithFields(logrus.Fields{
		"provider": c.name,
		"item_id":  resp.Data.ItemID,
	}).Debug("Source added to provider")

	return resp.Data.ItemID, nil
}

type statusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"` // ready | pending | failed
}

// Status reports readiness of a previously added item
func (c *TorboxClient) Status(ctx context.Context, itemID string) (ItemState, error) {
	var resp statusResponse
	err := c.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(itemID), nil, &resp)
	if err != nil {
		return "", err
	}

	switch resp.Status {
	case "ready", "completed":
		return ItemReady, nil
	case "failed", "error":
		return ItemFailed, nil
	default:
		return ItemPending, nil
	}
}

type filesResponse struct {
	Success bool `json:"success"`
	Files   []struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	} `json:"files"`
}

// ListFiles lists the file set behind a ready item
func (c *TorboxClient) ListFiles(ctx context.Context, itemID string) ([]File, error) {
	var resp filesResponse
	err := c.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(itemID)+"/files", nil, &resp)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(resp.Files))
	for _, f := range resp.Files {
		files = append(files, File{Path: f.Path, Size: f.Size})
	}
	return files, nil
}

func (c *TorboxClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusPaymentRequired ||
		resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s returned status %d: %w", c.name, resp.StatusCode, models.ErrProviderRejected)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, string(bodyBytes))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
