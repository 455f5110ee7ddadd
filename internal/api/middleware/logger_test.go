package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.GET("/products/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	tests := []struct {
		name    string
		target  string
		want    []string
		notWant []string
	}{
		{
			name:   "success logs at info with the route template",
			target: "/products/42?page=2",
			want:   []string{`"level":"info"`, `"route":"/products/:id"`, `"query":"page=2"`},
		},
		{
			name:   "client error logs at warn",
			target: "/missing",
			want:   []string{`"level":"warn"`, `"status":404`},
		},
		{
			name:   "server error logs at error",
			target: "/broken",
			want:   []string{`"level":"error"`, `"status":500`},
		},
		{
			name:    "license token is redacted",
			target:  "/products/42?license_token=deadbeef&page=1",
			want:    []string{"REDACTED"},
			notWant: []string{"deadbeef"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.target, nil))
			line := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("log line missing %s: %s", w, line)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(line, nw) {
					t.Errorf("log line should not contain %s: %s", nw, line)
				}
			}
		})
	}
}

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"page=1&limit=20", "page=1&limit=20"},
		{"IBAN=DE89", "IBAN=%5BREDACTED%5D"},
		{"token=a&token=b", "token=%5BREDACTED%5D&token=%5BREDACTED%5D"},
		{"bad=%zz", redacted},
	}
	for _, tt := range tests {
		if got := redactQueryString(tt.in); got != tt.want {
			t.Errorf("redactQueryString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
