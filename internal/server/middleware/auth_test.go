package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func authedHandler(readKey, writeKey string) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Auth(readKey, writeKey)(ok)
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name     string
		readKey  string
		writeKey string
		method   string
		path     string
		header   map[string]string
		want     int
	}{
		{
			name:   "disabled when no keys configured",
			method: http.MethodPost,
			path:   "/api/ingest",
			want:   http.StatusOK,
		},
		{
			name:     "health is always open",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodGet,
			path:     "/api/health",
			want:     http.StatusOK,
		},
		{
			name:     "preflight is always open",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodOptions,
			path:     "/api/ingest",
			want:     http.StatusOK,
		},
		{
			name:     "missing token",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodGet,
			path:     "/api/runs",
			want:     http.StatusUnauthorized,
		},
		{
			name:     "read key grants query via bearer",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodGet,
			path:     "/api/runs",
			header:   map[string]string{"Authorization": "Bearer r"},
			want:     http.StatusOK,
		},
		{
			name:     "read key grants query via api key header",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodGet,
			path:     "/api/runs",
			header:   map[string]string{"X-API-Key": "r"},
			want:     http.StatusOK,
		},
		{
			name:     "write key grants query",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodGet,
			path:     "/api/runs",
			header:   map[string]string{"Authorization": "Bearer w"},
			want:     http.StatusOK,
		},
		{
			name:     "read key denied on mutation",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodPost,
			path:     "/api/ingest",
			header:   map[string]string{"Authorization": "Bearer r"},
			want:     http.StatusUnauthorized,
		},
		{
			name:     "write key grants mutation",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodPost,
			path:     "/api/ingest",
			header:   map[string]string{"Authorization": "Bearer w"},
			want:     http.StatusOK,
		},
		{
			name:     "wrong token denied",
			readKey:  "r",
			writeKey: "w",
			method:   http.MethodGet,
			path:     "/api/runs",
			header:   map[string]string{"Authorization": "Bearer nope"},
			want:     http.StatusUnauthorized,
		},
		{
			name:     "empty read key never matches empty token path",
			writeKey: "w",
			method:   http.MethodGet,
			path:     "/api/runs",
			header:   map[string]string{"X-API-Key": ""},
			want:     http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := authedHandler(tt.readKey, tt.writeKey)
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
