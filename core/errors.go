package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IntakeErrorUnauthorized     = "INTAKE_UNAUTHORIZED"
	IntakeErrorBadInput         = "INTAKE_BAD_INPUT"
	IntakeErrorThrottled        = "INTAKE_THROTTLED"
	IntakeErrorConflict         = "INTAKE_CONFLICT"
	IntakeErrorNotFound         = "INTAKE_NOT_FOUND"
	IntakeErrorDependencyFailed = "INTAKE_DEPENDENCY_FAILED"
	IntakeErrorInternal         = "INTAKE_INTERNAL_ERROR"
)

// IntakeErrorMapper lifts arbitrary errors into the shared envelope so the
// HTTP surface and the command bus agree on codes.
func IntakeErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIntakeErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "unauthorized"):
		return newIntakeError(err.Error(), goerrors.CategoryAuth, IntakeErrorUnauthorized)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newIntakeError(err.Error(), goerrors.CategoryRateLimit, IntakeErrorThrottled)
	case strings.Contains(msg, "not found"):
		return newIntakeError(err.Error(), goerrors.CategoryNotFound, IntakeErrorNotFound)
	case strings.Contains(msg, "conflict"):
		return newIntakeError(err.Error(), goerrors.CategoryConflict, IntakeErrorConflict)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newIntakeError(err.Error(), goerrors.CategoryBadInput, IntakeErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIntakeErrorEnvelope(mapped)
}

func newIntakeError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIntakeErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIntakeErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = intakeHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIntakeTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIntakeTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return IntakeErrorBadInput
	case goerrors.CategoryNotFound:
		return IntakeErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return IntakeErrorUnauthorized
	case goerrors.CategoryConflict:
		return IntakeErrorConflict
	case goerrors.CategoryRateLimit:
		return IntakeErrorThrottled
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return IntakeErrorDependencyFailed
	default:
		return IntakeErrorInternal
	}
}

func intakeHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
