package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantHeaders string
		wantCreds   string
	}{
		{
			name:       "no origin passes through",
			cfg:        CORSConfig{},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wildcard simple request",
			cfg:        CORSConfig{AllowOrigins: []string{"*"}},
			method:     http.MethodGet,
			origin:     "https://pos.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:        "wildcard preflight uses default headers",
			cfg:         CORSConfig{},
			method:      http.MethodOptions,
			origin:      "https://pos.example.com",
			preflight:   true,
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "*",
			wantHeaders: "api_key, Content-Type, X-Request-ID",
		},
		{
			name:       "listed origin echoed with configured case",
			cfg:        CORSConfig{AllowOrigins: []string{"https://POS.example.com"}},
			method:     http.MethodPost,
			origin:     "https://pos.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "https://POS.example.com",
		},
		{
			name:       "unlisted origin gets no headers",
			cfg:        CORSConfig{AllowOrigins: []string{"https://pos.example.com"}},
			method:     http.MethodOptions,
			origin:     "https://evil.example.com",
			preflight:  true,
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "credentials echo the origin",
			cfg:        CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true},
			method:     http.MethodGet,
			origin:     "https://pos.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "https://pos.example.com",
			wantCreds:  "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(okHandler())

			req := httptest.NewRequest(tt.method, "/api/v1/orders", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantHeaders, w.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORS_ExposesRateLimitHeaders(t *testing.T) {
	h := CORS(CORSConfig{})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://pos.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)
}
