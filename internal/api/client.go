// Package api is the HTTP client for the mobility backend. Responses that
// carry point data are returned undecoded beyond generic JSON; resolving
// their wrapping shape is the normalizer's job, not the client's.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client handles communication with the mobility backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BboxQuery filters the spatial point query.
type BboxQuery struct {
	Dataset    string  `json:"dataset,omitempty"`
	MinLon     float64 `json:"min_lon"`
	MaxLon     float64 `json:"max_lon"`
	MinLat     float64 `json:"min_lat"`
	MaxLat     float64 `json:"max_lat"`
	StartTime  string  `json:"start_time,omitempty"`
	EndTime    string  `json:"end_time,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	OnlyValid  bool    `json:"only_valid"`
	Limit      int     `json:"limit"`
}

// EntityQuery filters the per-entity point query.
type EntityQuery struct {
	Dataset   string
	Limit     int
	StartTime string
	EndTime   string
}

// Dataset is the opaque dataset identity exposed by the backend.
type Dataset struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"dataset_type"`
	Scope     string `json:"geographic_scope"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// Healthcheck checks if the backend is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// QueryPoints runs the spatial/temporal point query. The response is a
// FeatureCollection-shaped payload in one of the wrappings the normalizer
// recognizes.
func (c *Client) QueryPoints(q BboxQuery) (any, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bbox query: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/points/query/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doJSON(req)
}

// PointsByEntity fetches all known points for one entity, ignoring the
// viewport. The response is a paginated object whose results array carries
// raw point records.
func (c *Client) PointsByEntity(entityID string, q EntityQuery) (any, error) {
	params := url.Values{}
	params.Set("entity_id", entityID)
	if q.Dataset != "" {
		params.Set("dataset", q.Dataset)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.StartTime != "" {
		params.Set("start_time", q.StartTime)
	}
	if q.EndTime != "" {
		params.Set("end_time", q.EndTime)
	}

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/points/by_entity/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.doJSON(req)
}

// Datasets lists the datasets available for selection. Handles both the
// paginated and the bare-array listing shape.
func (c *Client) Datasets() ([]Dataset, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/datasets/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	raw, err := c.doRaw(req)
	if err != nil {
		return nil, err
	}

	var paginated struct {
		Results []Dataset `json:"results"`
	}
	if err := json.Unmarshal(raw, &paginated); err == nil && paginated.Results != nil {
		return paginated.Results, nil
	}

	var bare []Dataset
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("failed to decode dataset listing: %w", err)
	}
	return bare, nil
}

// DatasetStatistics fetches the statistics blob for one dataset. The shape is
// consumed opaquely; only the caller decides which fields it cares about.
func (c *Client) DatasetStatistics(datasetID string) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/datasets/"+datasetID+"/statistics/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	raw, err := c.doRaw(req)
	if err != nil {
		return nil, err
	}

	var stats map[string]any
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return stats, nil
}

// StartImport asks the backend to ingest a data source into a dataset.
func (c *Client) StartImport(datasetID, sourceType, sourcePath, fileFormat string) error {
	payload := map[string]any{
		"dataset_id":  datasetID,
		"source_type": sourceType,
		"source_path": sourcePath,
	}
	if fileFormat != "" {
		payload["file_format"] = fileFormat
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode import request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/imports/start_import/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.doRaw(req); err != nil {
		return err
	}
	return nil
}

// doJSON executes the request and decodes the body into generic JSON.
func (c *Client) doJSON(req *http.Request) (any, error) {
	raw, err := c.doRaw(req)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return payload, nil
}

func (c *Client) doRaw(req *http.Request) (json.RawMessage, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d", req.URL.Path, resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return buf.Bytes(), nil
}
