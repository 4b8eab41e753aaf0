package apperror

import (
	"context"
	"errors"

	"github.com/vitalsink/vitalsink/internal/logger"
)

// Log reports err through the context logger at the severity its kind
// demands: malformed fragments and transient source trouble are expected
// operating noise (Warn), storage/job/config failures are not (Error).
func Log(ctx context.Context, err error, msg string) {
	log := logger.FromContext(ctx)

	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Wrap(err, ErrJobFailed)
	}

	attrs := []any{
		"code", appErr.Code,
		"kind", string(appErr.Kind),
	}
	if appErr.Internal != nil {
		attrs = append(attrs, "internal_error", appErr.Internal.Error())
	}

	switch appErr.Kind {
	case KindMalformed, KindSource:
		log.Warn(msg, attrs...)
	default:
		log.Error(msg, attrs...)
	}
}
