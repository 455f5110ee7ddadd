package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// cspAPI is a strict Content-Security-Policy for routes that return JSON.
const cspAPI = "default-src 'none'; frame-ancestors 'none'"

// cspDocs allows the inline scripts and styles of the Swagger UI.
const cspDocs = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; frame-ancestors 'none'"

// SecurityHeaders returns a middleware that sets security-related HTTP response headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if strings.HasPrefix(c.Request.URL.Path, "/api/docs") {
			c.Header("Content-Security-Policy", cspDocs)
		} else {
			c.Header("Content-Security-Policy", cspAPI)
		}

		c.Next()
	}
}
