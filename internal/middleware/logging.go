package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lottery-ticket-reservation/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger tags every request with a correlation id (reusing an
// incoming X-Request-ID), stores a logger carrying it in the request
// context and logs the finished request.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(requestIDHeader, id)

			entry := logrus.WithField("correlation_id", id)
			ctx := logging.ContextWithCorrelationID(req.Context(), id)
			ctx = logging.ToContext(ctx, entry)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			fields := logrus.Fields{
				"method":  req.Method,
				"path":    c.Path(),
				"status":  c.Response().Status,
				"latency": time.Since(start).String(),
				"user":    userKey(c),
			}
			if c.Response().Status >= 500 {
				entry.WithFields(fields).Error("request failed")
			} else {
				entry.WithFields(fields).Info("request")
			}
			return nil
		}
	}
}
