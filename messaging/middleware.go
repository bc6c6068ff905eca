package messaging

import (
	"context"
	"log/slog"
	"time"
)

// LoggingMiddleware logs every handler invocation with its outcome.
func LoggingMiddleware(logger *slog.Logger) MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, payload any, next Handler) (any, error) {
		start := time.Now()
		info, _ := RequestInfoFrom(ctx)

		result, err := next.Handle(ctx, payload)
		if err != nil {
			logger.Warn("handler failed",
				"name", info.Name,
				"id", info.ID,
				"error", err,
				"duration", time.Since(start),
			)
			return nil, err
		}

		logger.Debug("handler completed",
			"name", info.Name,
			"id", info.ID,
			"duration", time.Since(start),
		)
		return result, nil
	}
}

// RecoverMiddleware turns a panic in the handler into a PanicError before it
// reaches the dispatcher.
func RecoverMiddleware() MiddlewareFunc {
	return func(ctx context.Context, payload any, next Handler) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				info, _ := RequestInfoFrom(ctx)
				result = nil
				err = &PanicError{Name: info.Name, Value: r}
			}
		}()
		return next.Handle(ctx, payload)
	}
}
