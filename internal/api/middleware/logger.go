package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const redacted = "[REDACTED]"

// Query parameters whose values never reach the logs. License tokens grant
// ownership proof, account numbers identify payout destinations.
var sensitiveParams = map[string]struct{}{
	"token":         {},
	"license_token": {},
	"licensetoken":  {},
	"account":       {},
	"iban":          {},
	"secret":        {},
	"signature":     {},
}

func redactQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Unparseable input is dropped rather than logged verbatim.
		return redacted
	}

	changed := false
	for name, values := range params {
		if _, ok := sensitiveParams[strings.ToLower(name)]; !ok {
			continue
		}
		for i := range values {
			values[i] = redacted
		}
		changed = true
	}
	if !changed {
		return rawQuery
	}
	return params.Encode()
}

func levelFor(log *zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	default:
		return log.Info()
	}
}

// RequestLogger logs one line per request with the caller identity when
// the gateway supplied one.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := redactQueryString(c.Request.URL.RawQuery)

		c.Next()

		status := c.Writer.Status()
		event := levelFor(&log, status).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size())
		if query != "" {
			event = event.Str("query", query)
		}
		if route := c.FullPath(); route != "" {
			event = event.Str("route", route)
		}
		if id := GetIdentity(c); id != nil {
			event = event.Str("user_id", id.UserID.String()).Str("role", id.Role)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("request")
	}
}
