package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validations
	validate.RegisterValidation("flag_key", validateFlagKey)
}

// FlagCreateRequest represents the request payload for creating a flag
type FlagCreateRequest struct {
	FlagKey           string   `json:"flag_key" validate:"required,flag_key,min=3,max=100"`
	Description       string   `json:"description" validate:"max=512"`
	Enabled           bool     `json:"enabled"`
	RolloutPercentage int      `json:"rollout_percentage" validate:"min=0,max=100"`
	Whitelist         []string `json:"whitelist,omitempty" validate:"dive,required,max=255"`
	AnalyticsEnabled  bool     `json:"analytics_enabled"`
}

// FlagUpdateRequest represents a partial update: only the fields supplied
// by the caller are applied, so every attribute is a pointer.
type FlagUpdateRequest struct {
	Description       *string   `json:"description,omitempty" validate:"omitempty,max=512"`
	Enabled           *bool     `json:"enabled,omitempty"`
	RolloutPercentage *int      `json:"rollout_percentage,omitempty" validate:"omitempty,min=0,max=100"`
	Whitelist         *[]string `json:"whitelist,omitempty" validate:"omitempty,dive,required,max=255"`
	AnalyticsEnabled  *bool     `json:"analytics_enabled,omitempty"`
	Reason            string    `json:"reason,omitempty" validate:"max=500"`
}

// IsEmpty reports whether the patch supplies no fields at all
func (r FlagUpdateRequest) IsEmpty() bool {
	return r.Description == nil && r.Enabled == nil && r.RolloutPercentage == nil &&
		r.Whitelist == nil && r.AnalyticsEnabled == nil
}

// EvaluateRequest represents the request payload for evaluating a flag
// against a subject. Exactly one of user_id and session_hash identifies
// the subject; when both are present the user id is canonical.
type EvaluateRequest struct {
	FlagKey          string  `json:"flag_key" validate:"required,min=3,max=100"`
	UserID           *string `json:"user_id,omitempty" validate:"omitempty,max=255"`
	SessionHash      *string `json:"session_hash,omitempty" validate:"omitempty,max=255"`
	AnalyticsConsent bool    `json:"analytics_consent"`
	TraceID          *string `json:"trace_id,omitempty" validate:"omitempty,uuid"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve ValidationErrors) Error() string {
	var messages []string
	for _, err := range ve.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, ", ")
}

// ValidateFlagCreateRequest validates a flag creation request
func ValidateFlagCreateRequest(req FlagCreateRequest) error {
	if err := validate.Struct(req); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// ValidateFlagUpdateRequest validates a partial flag update request
func ValidateFlagUpdateRequest(req FlagUpdateRequest) error {
	if err := validate.Struct(req); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// ValidateEvaluateRequest validates an evaluation request
func ValidateEvaluateRequest(req EvaluateRequest) error {
	if err := validate.Struct(req); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// ValidateActor validates an actor identifier
func ValidateActor(actor string) error {
	if actor == "" {
		return errors.New("actor is required")
	}
	if len(actor) > 100 {
		return errors.New("actor name too long (max 100 characters)")
	}
	return nil
}

// validateFlagKey is a custom validation function for flag keys
func validateFlagKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()

	// Flag keys are lowercase alphanumeric with underscores and hyphens
	for _, char := range key {
		if !((char >= 'a' && char <= 'z') ||
			(char >= '0' && char <= '9') ||
			char == '_' || char == '-') {
			return false
		}
	}

	// Should not start or end with underscore or hyphen
	if strings.HasPrefix(key, "_") || strings.HasPrefix(key, "-") ||
		strings.HasSuffix(key, "_") || strings.HasSuffix(key, "-") {
		return false
	}

	return true
}

// formatValidationErrors formats validator errors into a custom error format
func formatValidationErrors(err error) error {
	var validationErrors []ValidationError

	for _, err := range err.(validator.ValidationErrors) {
		var message string

		switch err.Tag() {
		case "required":
			message = "This field is required"
		case "flag_key":
			message = "Flag key must contain only lowercase alphanumeric characters, underscores, and hyphens, and cannot start or end with underscore or hyphen"
		case "min":
			message = fmt.Sprintf("Must be at least %s", err.Param())
		case "max":
			message = fmt.Sprintf("Must be at most %s", err.Param())
		case "uuid":
			message = "Must be a valid UUID"
		default:
			message = "Invalid value"
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return ValidationErrors{Errors: validationErrors}
}
