package httpapi

import "github.com/gofiber/fiber/v3"

// Code is a stable machine-readable error tag returned in every error response body.
type Code string

// The canonical error codes this node returns.
const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeAuthorityUnavailable Code = "AUTHORITY_UNAVAILABLE"
	CodeForbidden            Code = "FORBIDDEN"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodePayloadTooLarge      Code = "PAYLOAD_TOO_LARGE"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// successBody wraps every successful JSON response.
type successBody struct {
	Data any `json:"data"`
}

// errorBody holds structured error details returned to the client as {error: {code, message}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// success sends a 200 JSON response with the given data.
func success(c fiber.Ctx, data any) error {
	return c.JSON(successBody{Data: data})
}

// successStatus sends a JSON response with a custom status code.
func successStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(successBody{Data: data})
}

// fail sends a structured JSON error response.
func fail(c fiber.Ctx, status int, code Code, message string) error {
	return c.Status(status).JSON(errorBody{Error: errorDetail{Code: code, Message: message}})
}
