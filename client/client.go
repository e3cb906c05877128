// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package client implements a minimal WHIP publishing client for the
// whipd service. It handles the HTTP signaling only; generating the
// offer and running the media transport are up to the caller.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	httpRequestTimeout           = 10 * time.Second
	httpResponseBodyMaxSizeBytes = 1024 * 1024 // 1MB
)

type Client struct {
	cfg        Config
	log        *slog.Logger
	httpClient *http.Client

	resourceURL string
	mut         sync.Mutex
}

type Option func(c *Client) error

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		if httpClient == nil {
			return fmt.Errorf("http client should not be nil")
		}
		c.httpClient = httpClient
		return nil
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	c := &Client{
		cfg: cfg,
		log: slog.Default(),
		httpClient: &http.Client{
			Timeout: httpRequestTimeout,
		},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return c, nil
}

// Publish submits the given SDP offer and returns the answer. The
// session resource created on the server side is tracked internally so
// that a following Unpublish can tear it down.
func (c *Client) Publish(ctx context.Context, offer string) (string, error) {
	if !strings.HasPrefix(offer, "v=0") {
		return "", fmt.Errorf("invalid session description")
	}

	reqURL := fmt.Sprintf("%s/whip/%d", c.cfg.URL, c.cfg.ChannelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(offer))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpResponseBodyMaxSizeBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, apiError(body))
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("missing Location header in response")
	}

	c.mut.Lock()
	c.resourceURL = c.cfg.URL + location
	c.mut.Unlock()

	c.log.Debug("published stream", slog.String("location", location))

	return string(body), nil
}

// Unpublish ends the session created by the last successful Publish.
func (c *Client) Unpublish(ctx context.Context) error {
	c.mut.Lock()
	resourceURL := c.resourceURL
	c.resourceURL = ""
	c.mut.Unlock()

	if resourceURL == "" {
		return fmt.Errorf("no active session")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, httpResponseBodyMaxSizeBytes))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, apiError(body))
	}

	return nil
}

// TrackStats mirrors the per-track snapshot returned by the stats API.
type TrackStats struct {
	Kind        string  `json:"kind"`
	MimeType    string  `json:"mimeType,omitempty"`
	BitrateKbps float64 `json:"bitrateKbps"`
	LossPct     float64 `json:"lossPct"`
	JitterMs    float64 `json:"jitterMs"`
	RTTMs       float64 `json:"rttMs"`
	PLICount    *uint64 `json:"pliCount,omitempty"`
	FIRCount    *uint64 `json:"firCount,omitempty"`
}

type SessionStats struct {
	SessionID string       `json:"sessionID"`
	ChannelID uint64       `json:"channelID"`
	Tracks    []TrackStats `json:"tracks"`
}

// Stats fetches the live ingest stats for the configured channel.
func (c *Client) Stats(ctx context.Context) ([]SessionStats, error) {
	reqURL := fmt.Sprintf("%s/whip/stats/%d", c.cfg.URL, c.cfg.ChannelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpResponseBodyMaxSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, apiError(body))
	}

	var stats []SessionStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	return stats, nil
}

func apiError(body []byte) string {
	var data map[string]string
	if err := json.Unmarshal(body, &data); err == nil && data["error"] != "" {
		return data["error"]
	}
	return string(body)
}
