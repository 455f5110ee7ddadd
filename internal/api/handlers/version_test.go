package handlers

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestVersionGet(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		version string
		commit  string
		built   string
		mount   func(h *VersionHandler) *gin.Engine
		path    string
	}{
		{
			name:    "public route",
			version: "0.4.1",
			commit:  "9c0ffee",
			built:   "2026-05-04T09:00:00Z",
			mount: func(h *VersionHandler) *gin.Engine {
				r := gin.New()
				h.RegisterPublicRoutes(r)
				return r
			},
			path: "/version",
		},
		{
			name:    "api group without build metadata",
			version: "dev",
			mount: func(h *VersionHandler) *gin.Engine {
				r := gin.New()
				h.RegisterRoutes(r.Group("/api/v1"))
				return r
			},
			path: "/api/v1/version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.mount(NewVersionHandler(tt.version, tt.commit, tt.built, zerolog.Nop()))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", w.Code)
			}

			info := decode[VersionInfo](t, w)
			want := VersionInfo{
				Service:   ServiceName,
				Version:   tt.version,
				Commit:    tt.commit,
				BuildDate: tt.built,
				GoVersion: runtime.Version(),
			}
			if info != want {
				t.Fatalf("got %+v, want %+v", info, want)
			}
		})
	}
}
