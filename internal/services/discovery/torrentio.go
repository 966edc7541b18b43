package discovery

import (
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

// TorrentioBackend queries a torrentio-style stream indexer. The indexer is
// addressed by catalog id plus season/episode and answers with a flat stream
// list; quality attributes are parsed out of each release title.
type TorrentioBackend struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewTorrentioBackend creates a torrentio-style backend
func NewTorrentioBackend(name, baseURL string, logger *logrus.Logger) (*TorrentioBackend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("indexer URL is required")
	}

	return &TorrentioBackend{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// Name returns the configured backend name
func (b *TorrentioBackend) Name() string { return b.name }

type stream struct {
	Title   string `json:"title"`
	Hash    string `json:"infoHash"`
	Size    int64  `json:"size"`
	Seeders int    `json:"seeders"`
	Cached  bool   `json:"cached"`
}

type streamResponse struct {
	Streams []stream `json:"streams"`
}

// Search queries the indexer for the requested title
func (b *TorrentioBackend) Search(ctx context.Context, req Request) ([]models.Candidate, error) {
	if req.CatalogID == "" {
		// This indexer is keyed by catalog id; nothing to ask without one.
		return nil, nil
	}

	path := b.streamPath(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("indexer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("indexer returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed streamResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse indexer response: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(parsed.Streams))
	for _, s := range parsed.Streams {
		c := models.Candidate{
			Title:    s.Title,
			SourceID: strings.ToLower(s.Hash),
			Size:     s.Size,
			Seeders:  s.Seeders,
			Cached:   s.Cached,
		}
		ParseRelease(s.Title, &c)
		candidates = append(candidates, c)
	}

	b.logger.WithFields(logrus.Fields{
		"backend": b.name,
		"count":   len(candidates),
	}).Debug("Indexer search completed")

	return candidates, nil
}

func (b *TorrentioBackend) streamPath(req Request) string {
	id := url.PathEscape(req.CatalogID)
	if req.Kind.IsShow() && req.Season != nil && req.Episode != nil {
		return fmt.Sprintf("/stream/series/%s:%d:%d.json", id, *req.Season, *req.Episode)
	}
	return fmt.Sprintf("/stream/movie/%s.json", id)
}
