package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/cache"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/engine"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/store"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// StatusReporter exposes collector health to the API without binding the
// handler to the scheduler implementation.
type StatusReporter interface {
	Status() models.SchedulerStatus
}

// TokenManager is the slice of the upstream client the API needs.
type TokenManager interface {
	TokenInfo() models.TokenInfo
	RefreshToken(ctx context.Context) error
}

// ErrorResponse is the JSON error envelope for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Handler serves the query and review-mutation surface.
type Handler struct {
	events    store.EventStore
	patterns  store.PatternStore
	fixes     store.FixStore
	auditLog  store.AuditStore
	workflow  *engine.ReviewWorkflow
	collector StatusReporter
	tokens    TokenManager
	cache     cache.Provider
	cacheCfg  config.CacheConfig
	pingStore func(ctx context.Context) error
	logger    *slog.Logger
}

// NewHandler wires the handler set.
func NewHandler(
	events store.EventStore,
	patterns store.PatternStore,
	fixes store.FixStore,
	auditLog store.AuditStore,
	workflow *engine.ReviewWorkflow,
	collector StatusReporter,
	tokens TokenManager,
	cacheProvider cache.Provider,
	cacheCfg config.CacheConfig,
	pingStore func(ctx context.Context) error,
	logger *slog.Logger,
) *Handler {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events:    events,
		patterns:  patterns,
		fixes:     fixes,
		auditLog:  auditLog,
		workflow:  workflow,
		collector: collector,
		tokens:    tokens,
		cache:     cacheProvider,
		cacheCfg:  cacheCfg,
		pingStore: pingStore,
		logger:    logger,
	}
}

// Register mounts all routes on the app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.health)

	v1 := app.Group("/api/v1")
	v1.Get("/status", h.schedulerStatus)
	v1.Get("/stats", h.stats)
	v1.Get("/health-summary", h.healthSummary)

	v1.Get("/patterns/attention", h.patternsNeedingAttention)
	v1.Get("/patterns/fixable", h.fixablePatterns)
	v1.Get("/patterns/:signature", h.patternBySignature)
	v1.Post("/patterns/:signature/validate", h.validatePattern)

	v1.Get("/fixes/attention", h.fixesNeedingAttention)
	v1.Get("/fixes/awaiting-validation", h.fixesAwaitingValidation)
	v1.Get("/fixes/review/:reviewId", h.fixByReviewID)
	v1.Post("/fixes/review", h.applyReviewDecision)
	v1.Post("/fixes/:id/apply", h.applyFix)
	v1.Post("/fixes/:id/test", h.recordTestRun)
	v1.Post("/fixes/:id/rollback", h.rollbackFix)

	v1.Get("/events/errors/recent", h.recentErrors)
	v1.Get("/events/correlation/:id", h.eventsByCorrelation)
	v1.Get("/events/trace/:id", h.eventsByTrace)
	v1.Get("/events/service/:name", h.eventsByService)
	v1.Post("/events/:id/auto-fixed", h.markEventAutoFixed)

	v1.Get("/audit", h.auditTrail)
	v1.Post("/token/refresh", h.refreshToken)
}

func (h *Handler) health(c *fiber.Ctx) error {
	status := fiber.Map{
		"status": "ok",
		"token":  h.tokens.TokenInfo(),
	}
	if h.pingStore != nil {
		if err := h.pingStore(c.UserContext()); err != nil {
			status["status"] = "degraded"
			status["store"] = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		status["store"] = "ok"
	}
	return c.JSON(status)
}

func (h *Handler) schedulerStatus(c *fiber.Ctx) error {
	return c.JSON(h.collector.Status())
}

func (h *Handler) stats(c *fiber.Ctx) error {
	window := time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return badRequest(c, "invalid window duration")
		}
		window = parsed
	}

	key := cache.StatsKey(window)
	if cached, err := h.cache.Get(c.UserContext(), key); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(cached)
	}

	stats, err := h.events.Stats(c.UserContext(), window)
	if err != nil {
		return h.internalError(c, "load statistics", err)
	}
	if counts, err := h.fixes.CountByStatus(c.UserContext()); err == nil {
		stats.FixCounts = counts
	}
	if top, err := h.patterns.TopBySeverity(c.UserContext(), 10); err == nil {
		stats.PatternTop = top
	}

	h.cacheJSON(c.UserContext(), key, stats, h.cacheCfg.StatsTTL)
	return c.JSON(stats)
}

func (h *Handler) healthSummary(c *fiber.Ctx) error {
	key := cache.HealthSummaryKey()
	if cached, err := h.cache.Get(c.UserContext(), key); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(cached)
	}

	summary, err := h.events.HealthSummary(c.UserContext(), time.Hour)
	if err != nil {
		return h.internalError(c, "load health summary", err)
	}
	h.cacheJSON(c.UserContext(), key, summary, h.cacheCfg.HealthTTL)
	return c.JSON(summary)
}

func (h *Handler) patternsNeedingAttention(c *fiber.Ctx) error {
	key := cache.PatternsNeedingAttentionKey()
	if cached, err := h.cache.Get(c.UserContext(), key); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(cached)
	}

	patterns, err := h.patterns.FindNeedingAttention(c.UserContext(), queryLimit(c))
	if err != nil {
		return h.internalError(c, "load patterns", err)
	}
	h.cacheJSON(c.UserContext(), key, patterns, h.cacheCfg.PatternsTTL)
	return c.JSON(patterns)
}

func (h *Handler) fixablePatterns(c *fiber.Ctx) error {
	minConfidence := models.HighConfidenceThreshold
	if raw := c.Query("minConfidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return badRequest(c, "minConfidence must be within [0, 1]")
		}
		minConfidence = parsed
	}
	patterns, err := h.patterns.FindFixable(c.UserContext(), minConfidence, queryLimit(c))
	if err != nil {
		return h.internalError(c, "load fixable patterns", err)
	}
	return c.JSON(patterns)
}

func (h *Handler) patternBySignature(c *fiber.Ctx) error {
	pattern, err := h.patterns.FindBySignature(c.UserContext(), c.Params("signature"))
	if errors.Is(err, utils.ErrNotFound) {
		return notFound(c, "pattern not found")
	}
	if err != nil {
		return h.internalError(c, "load pattern", err)
	}
	return c.JSON(pattern)
}

func (h *Handler) validatePattern(c *fiber.Ctx) error {
	var body struct {
		ValidatedBy string `json:"validatedBy"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.ValidatedBy == "" {
		return badRequest(c, "validatedBy is required")
	}

	pattern, err := h.workflow.ValidatePattern(c.UserContext(), c.Params("signature"), body.ValidatedBy)
	if errors.Is(err, utils.ErrNotFound) {
		return notFound(c, "pattern not found")
	}
	if errors.Is(err, utils.ErrInvalidArgument) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return h.internalError(c, "validate pattern", err)
	}
	h.invalidatePatternCaches(c.UserContext())
	return c.JSON(pattern)
}

func (h *Handler) fixesNeedingAttention(c *fiber.Ctx) error {
	fixes, err := h.fixes.FindNeedingAttention(c.UserContext(), queryLimit(c))
	if err != nil {
		return h.internalError(c, "load fixes", err)
	}
	return c.JSON(fixes)
}

func (h *Handler) fixesAwaitingValidation(c *fiber.Ctx) error {
	fixes, err := h.fixes.FindAwaitingValidation(c.UserContext(), queryLimit(c))
	if err != nil {
		return h.internalError(c, "load fixes", err)
	}
	return c.JSON(fixes)
}

func (h *Handler) fixByReviewID(c *fiber.Ctx) error {
	fix, err := h.fixes.FindByReviewID(c.UserContext(), c.Params("reviewId"))
	if errors.Is(err, utils.ErrNotFound) {
		return notFound(c, "no fix for review id")
	}
	if err != nil {
		return h.internalError(c, "load fix", err)
	}
	return c.JSON(fix)
}

func (h *Handler) applyReviewDecision(c *fiber.Ctx) error {
	var decision models.ReviewDecision
	if err := c.BodyParser(&decision); err != nil {
		return badRequest(c, "invalid request body")
	}

	outcome, err := h.workflow.ApplyDecision(c.UserContext(), decision)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return notFound(c, "fix not found")
	case errors.Is(err, utils.ErrInvalidTransition):
		return conflict(c, err.Error())
	case errors.Is(err, utils.ErrInvalidArgument):
		return badRequest(c, err.Error())
	case err != nil:
		return h.internalError(c, "apply review decision", err)
	}
	h.invalidatePatternCaches(c.UserContext())
	return c.JSON(outcome)
}

func (h *Handler) applyFix(c *fiber.Ctx) error {
	var body struct {
		CommitID string `json:"commitId"`
		Branch   string `json:"branch"`
		Actor    string `json:"actor"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.CommitID == "" {
		return badRequest(c, "commitId is required")
	}
	fix, err := h.workflow.ApplyFix(c.UserContext(), c.Params("id"), body.CommitID, body.Branch, body.Actor)
	return h.fixTransitionResponse(c, fix, err)
}

func (h *Handler) recordTestRun(c *fiber.Ctx) error {
	var body struct {
		Passed bool   `json:"passed"`
		Actor  string `json:"actor"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	fix, err := h.workflow.RecordTestRun(c.UserContext(), c.Params("id"), body.Passed, body.Actor)
	return h.fixTransitionResponse(c, fix, err)
}

func (h *Handler) rollbackFix(c *fiber.Ctx) error {
	var body struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Reason == "" {
		return badRequest(c, "reason is required")
	}
	fix, err := h.workflow.RollbackFix(c.UserContext(), c.Params("id"), body.Reason, body.Actor)
	return h.fixTransitionResponse(c, fix, err)
}

func (h *Handler) fixTransitionResponse(c *fiber.Ctx, fix models.AutomatedFix, err error) error {
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return notFound(c, "fix not found")
	case errors.Is(err, utils.ErrInvalidTransition):
		return conflict(c, err.Error())
	case err != nil:
		return h.internalError(c, "fix transition", err)
	}
	return c.JSON(fix)
}

// maxRecentErrorsWindow caps the lookback at the event retention bound;
// anything older has been purged.
const maxRecentErrorsWindow = 30 * 24 * time.Hour

func (h *Handler) recentErrors(c *fiber.Ctx) error {
	window := time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return badRequest(c, "invalid window duration")
		}
		window = parsed
	}
	if window > maxRecentErrorsWindow {
		window = maxRecentErrorsWindow
	}

	since := time.Now().UTC().Add(-window)
	events, err := h.events.FindRecentErrors(c.UserContext(), c.Query("service"), since)
	if err != nil {
		return h.internalError(c, "load recent errors", err)
	}
	return c.JSON(events)
}

func (h *Handler) eventsByCorrelation(c *fiber.Ctx) error {
	events, err := h.events.FindByCorrelationID(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.internalError(c, "load events", err)
	}
	return c.JSON(events)
}

func (h *Handler) eventsByTrace(c *fiber.Ctx) error {
	events, err := h.events.FindByTraceID(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.internalError(c, "load events", err)
	}
	return c.JSON(events)
}

func (h *Handler) eventsByService(c *fiber.Ctx) error {
	query := models.EventQuery{
		ServiceName: c.Params("name"),
		Severity:    models.Severity(c.Query("severity")),
		Limit:       queryLimit(c),
	}
	if raw := c.Query("start"); raw != "" {
		start, err := utils.ParseRFC3339(raw)
		if err != nil {
			return badRequest(c, "invalid start time")
		}
		query.Start = start
	}
	if raw := c.Query("end"); raw != "" {
		end, err := utils.ParseRFC3339(raw)
		if err != nil {
			return badRequest(c, "invalid end time")
		}
		query.End = end
	}

	events, err := h.events.FindByService(c.UserContext(), query)
	if err != nil {
		return h.internalError(c, "load events", err)
	}
	return c.JSON(events)
}

func (h *Handler) markEventAutoFixed(c *fiber.Ctx) error {
	var body struct {
		CommitID string `json:"commitId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.CommitID == "" {
		return badRequest(c, "commitId is required")
	}
	err := h.events.MarkAutoFixed(c.UserContext(), c.Params("id"), body.CommitID)
	if errors.Is(err, utils.ErrNotFound) {
		return notFound(c, "event not found")
	}
	if err != nil {
		return h.internalError(c, "mark event auto-fixed", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) auditTrail(c *fiber.Ctx) error {
	events, err := h.auditLog.FindRecent(c.UserContext(), c.Query("category"), queryLimit(c))
	if err != nil {
		return h.internalError(c, "load audit trail", err)
	}
	return c.JSON(events)
}

func (h *Handler) refreshToken(c *fiber.Ctx) error {
	if err := h.tokens.RefreshToken(c.UserContext()); err != nil {
		if errors.Is(err, utils.ErrNotConfigured) {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Error:   "not_configured",
				Message: "appdynamics integration is not configured",
			})
		}
		if errors.Is(err, utils.ErrUnauthorized) {
			return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
				Error:   "unauthorized_upstream",
				Message: err.Error(),
			})
		}
		return h.internalError(c, "refresh token", err)
	}
	return c.JSON(h.tokens.TokenInfo())
}

func (h *Handler) cacheJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, payload, ttl); err != nil {
		h.logger.Debug("cache write failed", "key", key, "error", err)
	}
}

func (h *Handler) invalidatePatternCaches(ctx context.Context) {
	_ = h.cache.Del(ctx, cache.PatternsNeedingAttentionKey())
}

func (h *Handler) internalError(c *fiber.Ctx, op string, err error) error {
	h.logger.Error(op, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "internal_error",
		Message: op + " failed",
	})
}

func queryLimit(c *fiber.Ctx) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "bad_request", Message: msg})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "not_found", Message: msg})
}

func conflict(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: "conflict", Message: msg})
}
