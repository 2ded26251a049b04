package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// RequestLogger logs one structured line per request. Server errors are logged at
// error level, client errors at warn level.
func RequestLogger(logger *zap.SugaredLogger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if v.RequestID != "" {
				fields = append(fields, "request_id", v.RequestID)
			}
			if authorized, _ := c.Get(ContextKeyWriteAuthorized).(bool); authorized {
				fields = append(fields, "write_authorized", true)
			}

			switch {
			case v.Status >= 500:
				logger.Errorw("request failed", append(fields, "error", v.Error)...)
			case v.Status >= 400:
				logger.Warnw("request rejected", append(fields, "error", v.Error)...)
			default:
				logger.Infow("request", fields...)
			}
			return nil
		},
	})
}
