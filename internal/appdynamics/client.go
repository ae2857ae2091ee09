package appdynamics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/metrics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// Client pulls telemetry from an AppDynamics controller and normalises each
// payload into monitoring events. All fetches share one outbound rate limiter
// so the combined cadences stay under the controller's API rate cap.
type Client struct {
	cfg        config.AppDynamicsConfig
	baseURL    string
	httpClient *http.Client
	tokens     *TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient constructs a controller client around the shared token source.
func NewClient(cfg config.AppDynamicsConfig, tokens *TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 100
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.ControllerURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute/10+1),
		logger:     logger,
	}
}

// Configured reports whether the client can reach a controller.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.cfg.Configured()
}

// TokenInfo exposes the credential state for the health surface.
func (c *Client) TokenInfo() models.TokenInfo {
	if c == nil {
		return models.TokenInfo{}
	}
	return c.tokens.Info()
}

// MaintainToken refreshes the cached token only when it is close to expiry.
func (c *Client) MaintainToken(ctx context.Context) error {
	if !c.Configured() {
		return utils.ErrNotConfigured
	}
	return c.tokens.EnsureFresh(ctx)
}

// RefreshToken forces a new token on the next collection call.
func (c *Client) RefreshToken(ctx context.Context) error {
	if !c.Configured() {
		return utils.ErrNotConfigured
	}
	c.tokens.Invalidate()
	return c.tokens.EnsureFresh(ctx)
}

// Healthy probes the controller with a cheap application list call.
func (c *Client) Healthy(ctx context.Context) error {
	var apps []struct {
		Name string `json:"name"`
	}
	return c.getJSON(ctx, "applications", "/controller/rest/applications", url.Values{}, &apps)
}

// FetchBusinessTransactions lists registered business transactions as
// informational business events.
func (c *Client) FetchBusinessTransactions(ctx context.Context) ([]models.MonitoringEvent, error) {
	var rows []struct {
		ID             int64  `json:"id"`
		Name           string `json:"name"`
		EntryPointType string `json:"entryPointType"`
		InternalName   string `json:"internalName"`
		TierName       string `json:"tierName"`
	}
	path := fmt.Sprintf("/controller/rest/applications/%s/business-transactions", url.PathEscape(c.cfg.ApplicationName))
	if err := c.getJSON(ctx, "business-transactions", path, url.Values{}, &rows); err != nil {
		return nil, err
	}

	events := make([]models.MonitoringEvent, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		event := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeBusiness, row.TierName, models.SeverityInfo)
		event.BusinessTransaction = row.Name
		event.Metadata = map[string]string{
			"entryPointType": row.EntryPointType,
			"btId":           strconv.FormatInt(row.ID, 10),
		}
		events = append(events, event)
	}
	return events, nil
}

// FetchErrorSnapshots pulls request snapshots that recorded an error inside
// the window and maps them to error events with stack detail.
func (c *Client) FetchErrorSnapshots(ctx context.Context, since time.Time) ([]models.MonitoringEvent, error) {
	query := windowQuery(since)
	query.Set("error-occurred", "true")
	query.Set("need-exit-calls", "false")

	var rows []struct {
		RequestGUID             string   `json:"requestGUID"`
		Summary                 string   `json:"summary"`
		BusinessTransactionName string   `json:"businessTransactionName"`
		ApplicationComponent    string   `json:"applicationComponentName"`
		ServerStartTime         int64    `json:"serverStartTime"`
		TimeTakenMs             float64  `json:"timeTakenInMilliSecs"`
		ErrorDetails            []string `json:"errorDetails"`
		StackTraces             []string `json:"stackTraces"`
		UserExperience          string   `json:"userExperience"`
	}
	path := fmt.Sprintf("/controller/rest/applications/%s/request-snapshots", url.PathEscape(c.cfg.ApplicationName))
	if err := c.getJSON(ctx, "error-snapshots", path, query, &rows); err != nil {
		return nil, err
	}

	events := make([]models.MonitoringEvent, 0, len(rows))
	for _, row := range rows {
		event := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeError, row.ApplicationComponent, snapshotSeverity(row.UserExperience))
		if ts := utils.FromEpochMillis(row.ServerStartTime); !ts.IsZero() {
			event.Timestamp = ts
		}
		event.BusinessTransaction = row.BusinessTransactionName
		event.ErrorMessage = row.Summary
		event.ResponseTimeMs = row.TimeTakenMs
		event.CorrelationID = row.RequestGUID
		if len(row.ErrorDetails) > 0 {
			event.ErrorType = errorTypeFromDetail(row.ErrorDetails[0])
		}
		if len(row.StackTraces) > 0 {
			event.StackTrace = row.StackTraces[0]
			frame := topFrame(row.StackTraces[0])
			event.ClassName = frame.class
			event.MethodName = frame.method
			event.LineNumber = frame.line
		}
		if event.ErrorType == "" && event.StackTrace == "" && event.ErrorMessage == "" {
			// Nothing usable in this snapshot; skip rather than store noise.
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// FetchPerformanceMetrics pulls overall application performance series and
// records the latest value of each as a performance event.
func (c *Client) FetchPerformanceMetrics(ctx context.Context) ([]models.MonitoringEvent, error) {
	query := url.Values{}
	query.Set("metric-path", "Overall Application Performance|*")
	query.Set("time-range-type", "BEFORE_NOW")
	query.Set("duration-in-mins", "5")
	query.Set("rollup", "true")

	var rows []struct {
		MetricName   string `json:"metricName"`
		MetricPath   string `json:"metricPath"`
		MetricValues []struct {
			Value            float64 `json:"value"`
			StartTimeInMilli int64   `json:"startTimeInMillis"`
		} `json:"metricValues"`
	}
	path := fmt.Sprintf("/controller/rest/applications/%s/metric-data", url.PathEscape(c.cfg.ApplicationName))
	if err := c.getJSON(ctx, "performance-metrics", path, query, &rows); err != nil {
		return nil, err
	}

	events := make([]models.MonitoringEvent, 0, len(rows))
	for _, row := range rows {
		if row.MetricName == "" || len(row.MetricValues) == 0 {
			continue
		}
		latest := row.MetricValues[len(row.MetricValues)-1]
		event := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypePerformance, c.cfg.ApplicationName, models.SeverityInfo)
		if ts := utils.FromEpochMillis(latest.StartTimeInMilli); !ts.IsZero() {
			event.Timestamp = ts
		}
		event.MetricName = row.MetricName
		event.MetricValue = latest.Value
		if strings.Contains(row.MetricName, "Average Response Time") {
			event.ResponseTimeMs = latest.Value
		}
		event.Metadata = map[string]string{"metricPath": row.MetricPath}
		events = append(events, event)
	}
	return events, nil
}

// FetchHealthViolations pulls health rule violations inside the window as
// error events with upstream severity preserved.
func (c *Client) FetchHealthViolations(ctx context.Context, since time.Time) ([]models.MonitoringEvent, error) {
	query := windowQuery(since)

	var rows []struct {
		ID                int64  `json:"id"`
		Name              string `json:"name"`
		Severity          string `json:"severity"`
		IncidentStatus    string `json:"incidentStatus"`
		StartTimeInMillis int64  `json:"startTimeInMillis"`
		AffectedEntity    struct {
			Name string `json:"name"`
		} `json:"affectedEntityDefinition"`
	}
	path := fmt.Sprintf("/controller/rest/applications/%s/problems/healthrule-violations", url.PathEscape(c.cfg.ApplicationName))
	if err := c.getJSON(ctx, "health-violations", path, query, &rows); err != nil {
		return nil, err
	}

	events := make([]models.MonitoringEvent, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		event := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeError, row.AffectedEntity.Name, models.ParseSeverity(row.Severity))
		if ts := utils.FromEpochMillis(row.StartTimeInMillis); !ts.IsZero() {
			event.Timestamp = ts
		}
		event.ErrorType = "HealthRuleViolation"
		event.ErrorMessage = row.Name
		event.Metadata = map[string]string{
			"incidentStatus": row.IncidentStatus,
			"violationId":    strconv.FormatInt(row.ID, 10),
		}
		events = append(events, event)
	}
	return events, nil
}

// PublishEvent writes a custom event back to the controller, used to close
// the loop when an automated fix lands.
func (c *Client) PublishEvent(ctx context.Context, summary, comment string, severity models.Severity) error {
	if !c.Configured() {
		return utils.ErrNotConfigured
	}
	query := url.Values{}
	query.Set("summary", summary)
	query.Set("comment", comment)
	query.Set("eventtype", "CUSTOM")
	query.Set("severity", controllerSeverity(severity))

	path := fmt.Sprintf("/controller/rest/applications/%s/events", url.PathEscape(c.cfg.ApplicationName))
	return c.do(ctx, http.MethodPost, "publish-event", path, query, nil)
}

// getJSON issues an authenticated GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if !c.Configured() {
		return utils.ErrNotConfigured
	}
	query.Set("output", "JSON")
	return c.do(ctx, http.MethodGet, endpoint, path, query, out)
}

// do applies the rate limit, attaches the bearer token, and retries transient
// failures. Retries cover 5xx responses and network timeouts only: a 4xx
// response cannot succeed on replay.
func (c *Client) do(ctx context.Context, method, endpoint, path string, query url.Values, out any) error {
	maxAttempts := c.cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * 500 * time.Millisecond):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		retryable, err := c.doOnce(ctx, method, endpoint, path, query, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			metrics.ObserveCollectionFailure(endpoint)
			return err
		}
		c.logger.Warn("appdynamics request retrying", "endpoint", endpoint, "attempt", attempt+1, "error", err)
	}
	metrics.ObserveCollectionFailure(endpoint)
	return fmt.Errorf("%s: attempts exhausted: %w", endpoint, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, endpoint, path string, query url.Values, out any) (retryable bool, err error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return false, err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveUpstreamRequest(endpoint, time.Since(started))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true, fmt.Errorf("%s timed out: %w", endpoint, err)
		}
		return true, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return true, fmt.Errorf("%s read body: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The cached token is no longer accepted; drop it so the next pass
		// re-authenticates.
		c.tokens.Invalidate()
		return false, fmt.Errorf("%s returned %d: %w", endpoint, resp.StatusCode, utils.ErrUnauthorized)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}

	if out == nil {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%s decode response: %w", endpoint, err)
	}
	return false, nil
}

func windowQuery(since time.Time) url.Values {
	query := url.Values{}
	mins := int(time.Since(since).Minutes()) + 1
	if mins < 1 {
		mins = 1
	}
	query.Set("time-range-type", "BEFORE_NOW")
	query.Set("duration-in-mins", strconv.Itoa(mins))
	return query
}

func snapshotSeverity(userExperience string) models.Severity {
	switch userExperience {
	case "ERROR":
		return models.SeverityHigh
	case "VERY_SLOW":
		return models.SeverityMedium
	case "SLOW":
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

func controllerSeverity(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical, models.SeverityHigh:
		return "ERROR"
	case models.SeverityMedium:
		return "WARN"
	default:
		return "INFO"
	}
}

// errorTypeFromDetail extracts the exception class from a detail line such as
// "java.lang.NullPointerException: something was null".
func errorTypeFromDetail(detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return ""
	}
	if idx := strings.IndexAny(detail, ":\n"); idx > 0 {
		detail = detail[:idx]
	}
	if idx := strings.LastIndexByte(detail, '.'); idx >= 0 && idx < len(detail)-1 {
		return detail[idx+1:]
	}
	return detail
}

type stackFrame struct {
	class  string
	method string
	line   int
}

// topFrame parses the first "at pkg.Class.method(File.java:123)" line.
func topFrame(stack string) stackFrame {
	for _, raw := range strings.Split(stack, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "at ") {
			continue
		}
		line = strings.TrimPrefix(line, "at ")
		call := line
		var lineNo int
		if open := strings.IndexByte(line, '('); open > 0 {
			call = line[:open]
			loc := strings.TrimSuffix(line[open+1:], ")")
			if colon := strings.LastIndexByte(loc, ':'); colon >= 0 {
				lineNo, _ = strconv.Atoi(loc[colon+1:])
			}
		}
		frame := stackFrame{line: lineNo}
		if dot := strings.LastIndexByte(call, '.'); dot > 0 {
			frame.class = call[:dot]
			frame.method = call[dot+1:]
		} else {
			frame.method = call
		}
		return frame
	}
	return stackFrame{}
}
