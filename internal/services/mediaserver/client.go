// Package mediaserver sends library refresh signals to the media server.
package mediaserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Refresher asks the media server to rescan its library. Best-effort: the
// outcome never affects pipeline state.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Client is an HTTP refresher for plex-style servers
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a refresh client. An empty URL disables refreshing.
func NewClient(baseURL, token string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Refresh fires the refresh signal and logs failures without returning them
func (c *Client) Refresh(ctx context.Context) {
	if c.baseURL == "" {
		return
	}

	url := fmt.Sprintf("%s/library/sections/all/refresh", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to build refresh request")
		return
	}
	if c.token != "" {
		req.Header.Set("X-Plex-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).Warn("Library refresh failed")
		return
	}
	resp.Body.Close()

	c.logger.WithField("status", resp.StatusCode).Debug("Library refresh sent")
}
