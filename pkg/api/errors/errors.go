package errors

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/models"
	"github.com/labstack/echo/v4"
)

// ValidationError returns a validation error. Validation messages describe the
// caller's input and are safe to expose.
func ValidationError(c echo.Context, err error) error {
	log.Printf("[VALIDATION ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	message := "Invalid request data. Please check your input and try again."
	var de *domain.DomainError
	if errors.As(err, &de) && de.Code == domain.ErrCodeValidation {
		message = de.Message
	}
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: message,
	})
}

// DatabaseError returns a generic database error without exposing internal details
func DatabaseError(c echo.Context, err error) error {
	log.Printf("[DATABASE ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "database_error",
		Message: "A database error occurred. Please try again later.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Printf("[INTERNAL ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// NotFoundError returns a not found error naming the resource
func NotFoundError(c echo.Context, resource string) error {
	message := "The requested resource was not found."
	if resource != "" {
		message = resource + " not found"
	}
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: message,
	})
}

// ConflictError returns a conflict error
func ConflictError(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, models.ErrorResponse{
		Error:   "conflict",
		Message: message,
	})
}

// BadGatewayError reports that a dependency failed
func BadGatewayError(c echo.Context, err error) error {
	log.Printf("[DEPENDENCY ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusBadGateway, models.ErrorResponse{
		Error:   "external_service_error",
		Message: "A dependency is unavailable. Please try again later.",
	})
}

// HTTPStatus maps a domain error code to its HTTP status
func HTTPStatus(code string) int {
	switch code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeConflict, domain.ErrCodeStaleEntry:
		return http.StatusConflict
	case domain.ErrCodeNoEligibleCandidate, domain.ErrCodeCapacityExhausted, domain.ErrCodeManualAssignmentRequired:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromDomain writes the response for any error returned by the service layer.
// Messages of client errors are exposed; server errors are logged and hidden.
func FromDomain(c echo.Context, err error) error {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return InternalError(c, err)
	}

	switch status := HTTPStatus(de.Code); status {
	case http.StatusBadRequest:
		return ValidationError(c, err)
	case http.StatusBadGateway:
		return BadGatewayError(c, err)
	case http.StatusInternalServerError:
		return InternalError(c, err)
	default:
		return c.JSON(status, models.ErrorResponse{
			Error:   strings.ToLower(de.Code),
			Message: de.Message,
		})
	}
}
