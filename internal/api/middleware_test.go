package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalAPIKeyMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{"matching key passes", "secret-key", "secret-key", http.StatusOK},
		{"key with surrounding spaces passes", "secret-key", "  secret-key  ", http.StatusOK},
		{"wrong key rejected", "secret-key", "other-key", http.StatusUnauthorized},
		{"missing key rejected", "secret-key", "", http.StatusUnauthorized},
		{"empty configured key rejects everything", "", "", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := InternalAPIKeyMiddleware(tc.configured)(okHandler)

			req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
			if tc.provided != "" {
				req.Header.Set("X-Internal-Api-Key", tc.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}
