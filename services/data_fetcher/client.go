// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datafetcher holds the HTTP clients for the external collaborators
// the chat service calls: the vehicle listing search and the PDF report
// generator. Both are bounded by a request timeout and an outbound rate
// limit.
package datafetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/zynk/pkg/validation"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRatePerSecond = 5
	DefaultBurst         = 10

	// maxErrorBody bounds how much of an error response is kept for logs.
	maxErrorBody = 512
)

// ErrReportUnavailable is returned when the report service answers without
// a PDF url.
var ErrReportUnavailable = errors.New("report service returned no pdf url")

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the collaborator clients.
type Config struct {
	VehicleSearchURL string        `yaml:"vehicleSearchURL"`
	ReportURL        string        `yaml:"reportURL"`
	Timeout          time.Duration `yaml:"timeout"`
	RatePerSecond    float64       `yaml:"ratePerSecond"`
	Burst            int           `yaml:"burst"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
}

// --- Vehicle search ---

// Listing is one vehicle for sale.
type Listing struct {
	Make          string  `json:"make"`
	Model         string  `json:"model"`
	Year          int     `json:"year"`
	Price         float64 `json:"price"`
	Miles         int     `json:"miles"`
	ExteriorColor string  `json:"exterior_color,omitempty"`
	InteriorColor string  `json:"interior_color,omitempty"`
}

// VehicleSearchResult is the search service response.
type VehicleSearchResult struct {
	NumFound int       `json:"num_found"`
	Listings []Listing `json:"listings"`
}

// VehicleSearcher finds vehicle listings near a zip code.
type VehicleSearcher interface {
	Search(ctx context.Context, vehicleMake, model, zip string) (*VehicleSearchResult, error)
}

// ReportGenerator turns search data into a downloadable PDF report.
type ReportGenerator interface {
	Generate(ctx context.Context, data *VehicleSearchResult, userID string) (string, error)
}

// Client calls both collaborators over HTTP. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    HTTPClient
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a collaborator client. A nil httpClient uses an
// http.Client with cfg.Timeout.
func NewClient(cfg Config, httpClient HTTPClient, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger,
	}
}

// Search implements VehicleSearcher.
func (c *Client) Search(ctx context.Context, vehicleMake, model, zip string) (*VehicleSearchResult, error) {
	if c.cfg.VehicleSearchURL == "" {
		return nil, errors.New("vehicle search url not configured")
	}
	q, err := validation.SanitizeVehicleQuery(vehicleMake, model, zip)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.cfg.VehicleSearchURL)
	if err != nil {
		return nil, fmt.Errorf("parse vehicle search url: %w", err)
	}
	params := u.Query()
	params.Set("zip", q.Zip)
	params.Set("make", q.Make)
	params.Set("model", q.Model)
	u.RawQuery = params.Encode()

	c.logger.Info("Searching vehicles", "make", q.Make, "model", q.Model, "zip", q.Zip)

	var result VehicleSearchResult
	if err := c.do(ctx, http.MethodGet, u.String(), nil, &result); err != nil {
		return nil, fmt.Errorf("vehicle search: %w", err)
	}
	return &result, nil
}

type reportRequest struct {
	Data   *VehicleSearchResult `json:"data"`
	UserID string               `json:"userId"`
}

type reportResponse struct {
	PDFURL string `json:"pdfUrl"`
}

// Generate implements ReportGenerator and returns the PDF url.
func (c *Client) Generate(ctx context.Context, data *VehicleSearchResult, userID string) (string, error) {
	if c.cfg.ReportURL == "" {
		return "", errors.New("report url not configured")
	}
	if data == nil {
		return "", errors.New("no search data for report")
	}
	body, err := json.Marshal(reportRequest{Data: data, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("marshal report request: %w", err)
	}

	var resp reportResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.ReportURL, body, &resp); err != nil {
		return "", fmt.Errorf("generate report: %w", err)
	}
	if strings.TrimSpace(resp.PDFURL) == "" {
		return "", ErrReportUnavailable
	}
	return resp.PDFURL, nil
}

// do waits for the rate limiter, sends one request bounded by the configured
// timeout and decodes a 200 JSON response into out.
func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("Collaborator returned error status",
			"url", target, "status", resp.StatusCode, "body", string(snippet))
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var (
	_ VehicleSearcher = (*Client)(nil)
	_ ReportGenerator = (*Client)(nil)
)
