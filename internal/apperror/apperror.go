package apperror

import (
	"errors"
)

// Kind classifies an error by how the system must react to it: retry, skip
// the offending fragment, roll back the batch, fail the job, or abort
// startup.
type Kind string

const (
	// KindSource covers transient telemetry-source failures (timeouts,
	// rate limiting). Retried with backoff, then degraded to a skipped
	// fetch cycle.
	KindSource Kind = "source"
	// KindMalformed covers unexpected payload shapes and non-numeric
	// values. Scoped to the single row or field being processed.
	KindMalformed Kind = "malformed"
	// KindStorage covers persistence failures. The enclosing batch is
	// rolled back and the operation reported failed.
	KindStorage Kind = "storage"
	// KindJob covers failures caught at the processor boundary. The job is
	// marked failed and the loop continues.
	KindJob Kind = "job"
	// KindConfig covers fatal startup problems (missing credentials,
	// unreachable database). The process aborts.
	KindConfig Kind = "config"
)

type Error struct {
	Code      string
	Kind      Kind
	Message   string
	Retryable bool
	Internal  error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

var (
	ErrSourceUnavailable = &Error{
		Code:      "source_unavailable",
		Kind:      KindSource,
		Message:   "Telemetry source did not respond",
		Retryable: true,
	}

	ErrSourceRateLimited = &Error{
		Code:      "source_rate_limited",
		Kind:      KindSource,
		Message:   "Telemetry source is rate limiting requests",
		Retryable: true,
	}

	ErrSourceAuth = &Error{
		Code:      "source_auth_failed",
		Kind:      KindSource,
		Message:   "Authentication with the telemetry source failed",
		Retryable: true,
	}

	ErrMalformedPayload = &Error{
		Code:    "malformed_payload",
		Kind:    KindMalformed,
		Message: "Payload fragment has an unexpected shape",
	}

	ErrValueNotNumeric = &Error{
		Code:    "value_not_numeric",
		Kind:    KindMalformed,
		Message: "Metric value is not coercible to a number",
	}

	ErrStorageUnavailable = &Error{
		Code:      "storage_unavailable",
		Kind:      KindStorage,
		Message:   "Database is unreachable",
		Retryable: true,
	}

	ErrBatchRolledBack = &Error{
		Code:    "batch_rolled_back",
		Kind:    KindStorage,
		Message: "Write batch failed and was rolled back",
	}

	ErrJobNotFound = &Error{
		Code:    "job_not_found",
		Kind:    KindJob,
		Message: "Analytics job does not exist",
	}

	ErrJobFailed = &Error{
		Code:    "job_failed",
		Kind:    KindJob,
		Message: "Analytics job failed during computation",
	}

	ErrNoWindowData = &Error{
		Code:    "no_window_data",
		Kind:    KindJob,
		Message: "No telemetry rows in the requested window",
	}

	ErrMissingCredentials = &Error{
		Code:    "missing_credentials",
		Kind:    KindConfig,
		Message: "Telemetry source credentials are not configured",
	}

	ErrMissingDatabaseURL = &Error{
		Code:    "missing_database_url",
		Kind:    KindConfig,
		Message: "DATABASE_URL is not configured",
	}

	ErrInvalidRules = &Error{
		Code:    "invalid_extract_rules",
		Kind:    KindConfig,
		Message: "Extraction rules config failed to parse",
	}
)

func New(code string, kind Kind, message string) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:      appErr.Code,
		Kind:      appErr.Kind,
		Message:   appErr.Message,
		Retryable: appErr.Retryable,
		Internal:  err,
	}
}

func WrapWithMessage(err error, code string, kind Kind, message string) *Error {
	return &Error{
		Code:     code,
		Kind:     kind,
		Message:  message,
		Internal: err,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// KindOf reports the taxonomy kind of err. Unclassified errors map to
// KindJob: at the processor boundary an unknown failure fails the job, never
// the loop.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindJob
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrJobFailed.Code
}

func WithRetryable(appErr *Error, retryable bool) *Error {
	clone := *appErr
	clone.Retryable = retryable
	return &clone
}

// IsRetryable reports whether a bounded retry might succeed. Unclassified
// errors default to retryable so transient failures from lower layers are
// not silently made terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return true
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

// Fatal reports whether err must abort process startup.
func Fatal(err error) bool {
	return KindOf(err) == KindConfig
}
