package common

// Error codes returned in the "error.code" field of API responses.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeInvalidBody           = "INVALID_BODY"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeArticleNotFound       = "ARTICLE_NOT_FOUND"
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeRulesUnavailable      = "RULES_UNAVAILABLE"
	CodeUsageStoreUnavailable = "USAGE_STORE_UNAVAILABLE"
	CodeCacheUnavailable      = "CACHE_UNAVAILABLE"
	CodeRateLimited           = "RATE_LIMITED"
	CodeIdempotencyStore      = "IDEMPOTENCY_UNAVAILABLE"
	CodeIdempotentReplay      = "IDEMPOTENT_REPLAY"
	CodeInternal              = "INTERNAL"
)

// AppError carries the API error code and HTTP status a failure maps to.
// Err is the cause; it is logged and unwrapped but never rendered.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}
