package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Client queries the catalog service over HTTP. Lookups are cached since the
// same show is re-indexed on every forced retry.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *gocache.Cache
	logger     *logrus.Logger
}

// NewClient creates a catalog client
func NewClient(baseURL, apiKey string, logger *logrus.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("catalog URL is required")
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:  gocache.New(6*time.Hour, 30*time.Minute),
		logger: logger,
	}, nil
}

type searchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Year  int    `json:"year"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Lookup searches the catalog and returns full details of the best match
func (c *Client) Lookup(ctx context.Context, title string, year int, kind models.MediaKind) (*Metadata, error) {
	cacheKey := fmt.Sprintf("%s|%d|%s", title, year, kind)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(*Metadata), nil
	}

	results, err := c.search(ctx, title, year, kind)
	if err != nil {
		return nil, err
	}

	best := bestMatch(results, title, year)
	if best == nil {
		return nil, fmt.Errorf("%q (%d): %w", title, year, models.ErrMetadataNotFound)
	}

	meta, err := c.details(ctx, best.ID)
	if err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, meta, gocache.DefaultExpiration)
	return meta, nil
}

func (c *Client) search(ctx context.Context, title string, year int, kind models.MediaKind) ([]searchResult, error) {
	mediaType := "movie"
	if kind.IsShow() {
		mediaType = "show"
	}

	params := url.Values{}
	params.Set("query", title)
	params.Set("type", mediaType)
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}

	var resp searchResponse
	if err := c.get(ctx, "/search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	return resp.Results, nil
}

func (c *Client) details(ctx context.Context, id string) (*Metadata, error) {
	var meta Metadata
	if err := c.get(ctx, "/title/"+url.PathEscape(id), &meta); err != nil {
		return nil, fmt.Errorf("catalog details for %s: %w", id, err)
	}
	return &meta, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrMetadataNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// bestMatch picks the result whose title is closest to the request,
// preferring exact year matches when a year was given.
func bestMatch(results []searchResult, title string, year int) *searchResult {
	var best *searchResult
	bestDistance := -1

	for i := range results {
		r := &results[i]
		if year > 0 && r.Year > 0 && r.Year != year {
			continue
		}
		d := levenshtein.ComputeDistance(strings.ToLower(title), strings.ToLower(r.Title))
		if bestDistance < 0 || d < bestDistance {
			best = r
			bestDistance = d
		}
	}

	// Fall back to ignoring the year filter if it excluded everything.
	if best == nil && year > 0 {
		return bestMatch(results, title, 0)
	}
	return best
}
