package controller

import (
	"errors"
	"net/http"
	"strconv"

	"flagengine/pkg/logger"
	"flagengine/service"
	"flagengine/validator"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type FlagController struct {
	flagService service.FlagService
	evalService service.EvaluationService
	logger      *logger.Logger
}

func NewFlagController(fs service.FlagService, es service.EvaluationService, log *logger.Logger) *FlagController {
	return &FlagController{
		flagService: fs,
		evalService: es,
		logger:      log,
	}
}

// CreateFlag handles POST /flags
func (fc *FlagController) CreateFlag(c echo.Context) error {
	var req validator.FlagCreateRequest
	if err := c.Bind(&req); err != nil {
		fc.logger.Warnw("Failed to bind create flag request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	actor := getActorFromContext(c)
	reason := c.QueryParam("reason")

	flag, err := fc.flagService.CreateFlag(c.Request().Context(), req, actor, reason)
	if err != nil {
		return fc.handleServiceError(c, err)
	}

	fc.logger.Infow("Flag created via API", "flagKey", flag.FlagKey, "actor", actor)
	return c.JSON(http.StatusCreated, flag)
}

// UpdateFlag handles PATCH /flags/:key
func (fc *FlagController) UpdateFlag(c echo.Context) error {
	flagKey := c.Param("key")

	var req validator.FlagUpdateRequest
	if err := c.Bind(&req); err != nil {
		fc.logger.Warnw("Failed to bind update flag request", "error", err, "flagKey", flagKey)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	if req.IsEmpty() {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "No fields supplied",
		})
	}

	actor := getActorFromContext(c)

	flag, err := fc.flagService.UpdateFlag(c.Request().Context(), flagKey, req, actor)
	if err != nil {
		return fc.handleServiceError(c, err)
	}

	fc.logger.Infow("Flag updated via API", "flagKey", flagKey, "actor", actor)
	return c.JSON(http.StatusOK, flag)
}

// DeleteFlag handles DELETE /flags/:key
func (fc *FlagController) DeleteFlag(c echo.Context) error {
	flagKey := c.Param("key")
	actor := getActorFromContext(c)
	reason := c.QueryParam("reason")

	if err := fc.flagService.DeleteFlag(c.Request().Context(), flagKey, actor, reason); err != nil {
		return fc.handleServiceError(c, err)
	}

	fc.logger.Infow("Flag deleted via API", "flagKey", flagKey, "actor", actor)
	return c.JSON(http.StatusOK, map[string]string{
		"message":  "Flag deleted successfully",
		"flag_key": flagKey,
	})
}

// ListFlags handles GET /flags
func (fc *FlagController) ListFlags(c echo.Context) error {
	flags, err := fc.flagService.ListFlags(c.Request().Context())
	if err != nil {
		fc.logger.Errorw("Failed to list flags via API", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to retrieve flags",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"flags": flags,
		"count": len(flags),
	})
}

// GetFlag handles GET /flags/:key
func (fc *FlagController) GetFlag(c echo.Context) error {
	flag, err := fc.flagService.GetFlag(c.Request().Context(), c.Param("key"))
	if err != nil {
		return fc.handleServiceError(c, err)
	}

	return c.JSON(http.StatusOK, flag)
}

// GetFlagAudit handles GET /flags/:key/audit
func (fc *FlagController) GetFlagAudit(c echo.Context) error {
	audits, err := fc.flagService.GetFlagAudits(c.Request().Context(), c.Param("key"))
	if err != nil {
		return fc.handleServiceError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"audit_logs": audits,
		"count":      len(audits),
	})
}

// GetFlagEvaluations handles GET /flags/:key/evaluations
func (fc *FlagController) GetFlagEvaluations(c echo.Context) error {
	limit := parseIntParam(c.QueryParam("limit"), 100)
	offset := parseIntParam(c.QueryParam("offset"), 0)

	evals, err := fc.flagService.GetFlagEvaluations(c.Request().Context(), c.Param("key"), limit, offset)
	if err != nil {
		return fc.handleServiceError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// Evaluate handles POST /evaluate
func (fc *FlagController) Evaluate(c echo.Context) error {
	var req validator.EvaluateRequest
	if err := c.Bind(&req); err != nil {
		fc.logger.Warnw("Failed to bind evaluate request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	// Attach a trace id when the caller did not supply one so logged
	// evaluations stay correlatable.
	if req.TraceID == nil {
		traceID := uuid.NewString()
		req.TraceID = &traceID
	}

	result, err := fc.evalService.Evaluate(c.Request().Context(), req)
	if err != nil {
		return fc.handleServiceError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// handleServiceError converts service errors to appropriate HTTP responses
func (fc *FlagController) handleServiceError(c echo.Context, err error) error {
	// Handle validation errors
	if validationErr, ok := err.(validator.ValidationErrors); ok {
		fc.logger.Warnw("Validation error in API", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":             "Validation failed",
			"validation_errors": validationErr.Errors,
		})
	}

	switch {
	case errors.Is(err, service.ErrFlagNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Flag not found",
		})
	case errors.Is(err, service.ErrFlagAlreadyExists):
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "Flag with this key already exists",
		})
	default:
		fc.logger.Errorw("Internal error in API", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
		})
	}
}

// getActorFromContext extracts the actor from the request context.
// In production an auth middleware populates the X-Actor header.
func getActorFromContext(c echo.Context) string {
	if actor := c.Request().Header.Get("X-Actor"); actor != "" {
		return actor
	}
	if actor := c.QueryParam("actor"); actor != "" {
		return actor
	}
	return "anonymous"
}

func parseIntParam(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
