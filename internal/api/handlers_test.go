package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/audit"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/cache"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/engine"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

type testEnv struct {
	app      *fiber.App
	events   *stubEvents
	patterns *stubPatterns
	fixes    *stubFixes
	auditLog *stubAudit
	tokens   *stubTokens
	cache    *cache.MemoryProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		events:   newStubEvents(),
		patterns: newStubPatterns(),
		fixes:    newStubFixes(),
		auditLog: &stubAudit{},
		tokens:   &stubTokens{},
		cache:    cache.NewMemoryProvider(),
	}

	workflow := engine.NewReviewWorkflow(env.fixes, env.patterns, audit.NewRecorder(env.auditLog, nil), nil)
	handler := NewHandler(
		env.events, env.patterns, env.fixes, env.auditLog,
		workflow, stubStatus{}, env.tokens,
		env.cache,
		config.CacheConfig{StatsTTL: time.Minute, PatternsTTL: time.Minute, HealthTTL: time.Minute},
		nil, nil,
	)

	env.app = fiber.New()
	handler.Register(env.app)
	return env
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) seedTestedFix(t *testing.T) models.AutomatedFix {
	t.Helper()
	ctx := context.Background()

	pattern := models.NewErrorPattern("sig-api", "checkout-service", "NullPointerException", models.SeverityHigh, time.Now().UTC())
	if err := e.patterns.Insert(ctx, pattern); err != nil {
		t.Fatalf("seed pattern: %v", err)
	}
	fix := models.NewAutomatedFix(pattern.ID, pattern.Signature, pattern.ServiceName, "null-check", "add null guard")
	if err := fix.MarkApplied("abc123", "autofix/sig-api"); err != nil {
		t.Fatalf("seed apply: %v", err)
	}
	if err := fix.MarkTested(true); err != nil {
		t.Fatalf("seed test: %v", err)
	}
	if err := e.fixes.Insert(ctx, fix); err != nil {
		t.Fatalf("seed fix: %v", err)
	}
	return fix
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.info = models.TokenInfo{Configured: true, HasToken: true}

	resp := env.request(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatsRejectsBadWindow(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/api/v1/stats?window=soon", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsServedFromCacheOnRepeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.request(t, http.MethodGet, "/api/v1/stats?window=1h", nil)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", first.StatusCode)
	}
	stats := decode[models.EventStats](t, first)
	if stats.Total != 0 {
		t.Fatalf("total = %d", stats.Total)
	}

	// New data arriving does not show until the cached window expires.
	_ = env.events.Insert(ctx, models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeError, "checkout-service", models.SeverityHigh))

	second := env.request(t, http.MethodGet, "/api/v1/stats?window=1h", nil)
	cachedStats := decode[models.EventStats](t, second)
	if cachedStats.Total != 0 {
		t.Fatalf("cached total = %d, want stale 0", cachedStats.Total)
	}
}

func TestPatternBySignatureNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/api/v1/patterns/deadbeef", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decode[ErrorResponse](t, resp)
	if body.Error != "not_found" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestValidatePatternInvalidatesAttentionCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pattern := models.NewErrorPattern("sig-cache", "checkout-service", "NullPointerException", models.SeverityCritical, time.Now().UTC())
	_ = env.patterns.Insert(ctx, pattern)

	// Prime the attention cache.
	resp := env.request(t, http.MethodGet, "/api/v1/patterns/attention", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := env.cache.Get(ctx, cache.PatternsNeedingAttentionKey()); err != nil {
		t.Fatalf("attention cache not primed: %v", err)
	}

	resp = env.request(t, http.MethodPost, "/api/v1/patterns/sig-cache/validate", map[string]string{"validatedBy": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status = %d", resp.StatusCode)
	}
	validated := decode[models.ErrorPattern](t, resp)
	if !validated.Validated || validated.ValidatedBy != "alice" {
		t.Fatalf("pattern = %+v", validated)
	}

	if _, err := env.cache.Get(ctx, cache.PatternsNeedingAttentionKey()); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatal("validate did not invalidate the attention cache")
	}
}

func TestValidatePatternRequiresValidator(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/patterns/sig/validate", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// Validation is a human act; the service's own identity is rejected.
	resp = env.request(t, http.MethodPost, "/api/v1/patterns/sig/validate",
		map[string]string{"validatedBy": "system"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("system validator status = %d, want 400", resp.StatusCode)
	}
}

func TestReviewDecisionApprove(t *testing.T) {
	env := newTestEnv(t)
	fix := env.seedTestedFix(t)

	resp := env.request(t, http.MethodPost, "/api/v1/fixes/review", models.ReviewDecision{
		ReviewID: "rev-api-1",
		FixID:    fix.ID,
		Decision: models.DecisionApprove,
		Reviewer: "alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	outcome := decode[models.ReviewOutcome](t, resp)
	if outcome.Status != models.FixStatusValidated || outcome.Replayed {
		t.Fatalf("outcome = %+v", outcome)
	}

	// Replaying the same review returns the recorded outcome.
	resp = env.request(t, http.MethodPost, "/api/v1/fixes/review", models.ReviewDecision{
		ReviewID: "rev-api-1",
		FixID:    fix.ID,
		Decision: models.DecisionReject,
		Reviewer: "alice",
	})
	replay := decode[models.ReviewOutcome](t, resp)
	if !replay.Replayed || replay.Status != models.FixStatusValidated {
		t.Fatalf("replay = %+v", replay)
	}
}

func TestReviewDecisionErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := models.NewAutomatedFix("p1", "sig-pending", "cart-service", "db-retry", "retry")
	_ = env.fixes.Insert(ctx, pending)

	cases := []struct {
		name       string
		decision   models.ReviewDecision
		wantStatus int
	}{
		{"missing reviewer", models.ReviewDecision{ReviewID: "r1", FixID: pending.ID, Decision: models.DecisionApprove}, http.StatusBadRequest},
		{"unknown fix", models.ReviewDecision{ReviewID: "r2", FixID: "nope", Decision: models.DecisionApprove, Reviewer: "alice"}, http.StatusNotFound},
		{"approve pending fix", models.ReviewDecision{ReviewID: "r3", FixID: pending.ID, Decision: models.DecisionApprove, Reviewer: "alice"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/api/v1/fixes/review", tc.decision)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestFixLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fix := models.NewAutomatedFix("p1", "sig-life", "checkout-service", "null-check", "add null guard")
	_ = env.fixes.Insert(ctx, fix)

	resp := env.request(t, http.MethodPost, "/api/v1/fixes/"+fix.ID+"/apply",
		map[string]string{"commitId": "abc123", "branch": "autofix/sig-life", "actor": "deployer"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("apply status = %d", resp.StatusCode)
	}
	applied := decode[models.AutomatedFix](t, resp)
	if applied.Status != models.FixStatusApplied {
		t.Fatalf("status = %s", applied.Status)
	}

	resp = env.request(t, http.MethodPost, "/api/v1/fixes/"+fix.ID+"/test",
		map[string]any{"passed": true, "actor": "ci"})
	tested := decode[models.AutomatedFix](t, resp)
	if tested.Status != models.FixStatusTested {
		t.Fatalf("status = %s", tested.Status)
	}

	resp = env.request(t, http.MethodPost, "/api/v1/fixes/"+fix.ID+"/rollback",
		map[string]string{"reason": "latency regression", "actor": "oncall"})
	rolled := decode[models.AutomatedFix](t, resp)
	if rolled.Status != models.FixStatusRolledBack {
		t.Fatalf("status = %s", rolled.Status)
	}

	// Applying again conflicts: the fix already moved on.
	resp = env.request(t, http.MethodPost, "/api/v1/fixes/"+fix.ID+"/apply",
		map[string]string{"commitId": "def456"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-apply status = %d, want 409", resp.StatusCode)
	}
}

func TestRollbackRequiresReason(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/fixes/f1/rollback", map[string]string{"actor": "oncall"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEventsByService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	event := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeError, "checkout-service", models.SeverityHigh)
	_ = env.events.Insert(ctx, event)

	resp := env.request(t, http.MethodGet, "/api/v1/events/service/checkout-service?limit=5000", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	events := decode[[]models.MonitoringEvent](t, resp)
	if len(events) != 1 || events[0].ID != event.ID {
		t.Fatalf("events = %+v", events)
	}
	if env.events.lastQuery.Limit != 1000 {
		t.Fatalf("limit = %d, want capped at 1000", env.events.lastQuery.Limit)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/events/service/checkout-service?start=not-a-time", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad start status = %d, want 400", resp.StatusCode)
	}
}

func TestRecentErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fresh := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeError, "checkout-service", models.SeverityHigh)
	_ = env.events.Insert(ctx, fresh)
	stale := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeError, "checkout-service", models.SeverityHigh)
	stale.Timestamp = time.Now().UTC().Add(-31 * 24 * time.Hour)
	_ = env.events.Insert(ctx, stale)

	// The lookback is capped at the retention bound, so a 31-day-old error
	// never comes back no matter how wide the requested window.
	resp := env.request(t, http.MethodGet, "/api/v1/events/errors/recent?service=checkout-service&window=2000h", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	events := decode[[]models.MonitoringEvent](t, resp)
	if len(events) != 1 || events[0].ID != fresh.ID {
		t.Fatalf("events = %+v, want only the fresh error", events)
	}
	if env.events.lastRecentService != "checkout-service" {
		t.Fatalf("service filter = %q", env.events.lastRecentService)
	}
	if cutoff := time.Now().UTC().Add(-31 * 24 * time.Hour); env.events.lastRecentSince.Before(cutoff) {
		t.Fatalf("since = %v, reaches past the retention bound", env.events.lastRecentSince)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/events/errors/recent?window=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad window status = %d, want 400", resp.StatusCode)
	}
}

func TestMarkEventAutoFixed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	event := models.NewMonitoringEvent(models.SourceAppDynamics, models.EventTypeError, "checkout-service", models.SeverityHigh)
	_ = env.events.Insert(ctx, event)

	resp := env.request(t, http.MethodPost, "/api/v1/events/"+event.ID+"/auto-fixed",
		map[string]string{"commitId": "abc123"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if stored := env.events.byID[event.ID]; !stored.AutoFixed || stored.FixCommitID != "abc123" {
		t.Fatalf("event = %+v", stored)
	}

	resp = env.request(t, http.MethodPost, "/api/v1/events/missing/auto-fixed",
		map[string]string{"commitId": "abc123"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRefreshTokenStatuses(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"success", nil, http.StatusOK},
		{"not configured", utils.ErrNotConfigured, http.StatusConflict},
		{"rejected upstream", utils.ErrUnauthorized, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.tokens.refreshErr = tc.err

			resp := env.request(t, http.MethodPost, "/api/v1/token/refresh", nil)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestAuditTrailFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.auditLog.Append(ctx, models.NewAuditEvent("fix_transition", "remediation", "ci"))
	_ = env.auditLog.Append(ctx, models.NewAuditEvent("pattern_validated", "analysis", "alice"))

	resp := env.request(t, http.MethodGet, "/api/v1/audit?category=analysis", nil)
	rows := decode[[]models.AuditEvent](t, resp)
	if len(rows) != 1 || rows[0].Category != "analysis" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/api/v1/status", nil)
	status := decode[models.SchedulerStatus](t, resp)
	if !status.Enabled || status.Workers != 5 {
		t.Fatalf("status = %+v", status)
	}
}
