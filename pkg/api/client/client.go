package client

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
)

const defaultBaseURL = "http://localhost:4100"

// Client provides typed access to the lbinsight report API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// NotFound reports whether the API answered 404.
func (e APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// ReportSummary describes a stored report without its payload.
type ReportSummary struct {
	ID               int64     `json:"id"`
	ReportType       string    `json:"report_type"`
	ReportTimestamp  time.Time `json:"report_timestamp"`
	ProcessingTimeMS *int64    `json:"processing_time_ms,omitempty"`
	RecordCount      *int64    `json:"record_count,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// StoredReport is a stored report with its JSON document.
type StoredReport struct {
	ReportSummary
	Report json.RawMessage `json:"report"`
}

// Health mirrors the /healthz payload.
type Health struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
	Timestamp  string         `json:"timestamp"`
}

// LatestReport fetches the newest report, optionally filtered by type.
func (c *Client) LatestReport(ctx context.Context, reportType string) (StoredReport, error) {
	var out StoredReport
	err := c.do(ctx, "/reports/latest", typeQuery(reportType, 0), &out)
	return out, err
}

// ListReports fetches report summaries, newest first. A zero limit uses the
// server default.
func (c *Client) ListReports(ctx context.Context, reportType string, limit int) ([]ReportSummary, error) {
	var out struct {
		Reports []ReportSummary `json:"reports"`
	}
	if err := c.do(ctx, "/reports", typeQuery(reportType, limit), &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// Health queries the API health endpoint. A degraded API returns an APIError
// with status 503.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, "/healthz", nil, &out)
	return out, err
}

func typeQuery(reportType string, limit int) url.Values {
	values := url.Values{}
	if reportType = strings.TrimSpace(reportType); reportType != "" {
		values.Set("type", reportType)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	return values
}

func (c *Client) do(ctx context.Context, path string, query url.Values, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}
