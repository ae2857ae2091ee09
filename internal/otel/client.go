package otel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// Client queries a Tempo-style trace collector for error spans and maps them
// to trace events. It follows the same caller contract as the APM client: a
// failed fetch returns an error and an empty batch, never partial garbage.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a trace collector client. An empty endpoint leaves the
// client unconfigured.
func NewClient(cfg config.OTelConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Configured reports whether a collector endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != ""
}

// FetchErrorTraces searches for traces with error status since the given time.
func (c *Client) FetchErrorTraces(ctx context.Context, since time.Time) ([]models.MonitoringEvent, error) {
	if !c.Configured() {
		return nil, utils.ErrNotConfigured
	}

	query := url.Values{}
	query.Set("tags", "error=true")
	query.Set("start", strconv.FormatInt(since.Unix(), 10))
	query.Set("end", strconv.FormatInt(time.Now().Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/search?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build trace search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trace search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trace search returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read trace search response: %w", err)
	}

	var payload struct {
		Traces []struct {
			TraceID           string `json:"traceID"`
			RootServiceName   string `json:"rootServiceName"`
			RootTraceName     string `json:"rootTraceName"`
			StartTimeUnixNano string `json:"startTimeUnixNano"`
			DurationMs        int64  `json:"durationMs"`
		} `json:"traces"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode trace search response: %w", err)
	}

	events := make([]models.MonitoringEvent, 0, len(payload.Traces))
	for _, trace := range payload.Traces {
		if trace.TraceID == "" {
			continue
		}
		event := models.NewMonitoringEvent(models.SourceOpenTelemetry, models.EventTypeTrace, trace.RootServiceName, models.SeverityMedium)
		if nanos, err := strconv.ParseInt(trace.StartTimeUnixNano, 10, 64); err == nil && nanos > 0 {
			event.Timestamp = time.Unix(0, nanos).UTC()
		}
		event.TraceID = trace.TraceID
		event.BusinessTransaction = trace.RootTraceName
		event.ResponseTimeMs = float64(trace.DurationMs)
		events = append(events, event)
	}
	return events, nil
}
