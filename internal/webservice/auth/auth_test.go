package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexops/indexops/internal/webservice/auth"
)

type staticValidator map[string]bool

func (v staticValidator) IsValidToken(token string) bool { return v[token] }

func TestProtect(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		header string

		wantStatus int
	}{
		"Valid token passes": {
			header:     "Bearer good-token",
			wantStatus: http.StatusOK,
		},

		"Missing header is rejected": {
			wantStatus: http.StatusUnauthorized,
		},
		"Wrong token is rejected": {
			header:     "Bearer bad-token",
			wantStatus: http.StatusUnauthorized,
		},
		"Missing Bearer prefix is rejected": {
			header:     "good-token",
			wantStatus: http.StatusUnauthorized,
		},
		"Empty token is rejected": {
			header:     "Bearer ",
			wantStatus: http.StatusUnauthorized,
		},
		"Lowercase scheme is rejected": {
			header:     "bearer good-token",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			called := false
			handler := auth.New(staticValidator{"good-token": true}).Protect(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					called = true
					w.WriteHeader(http.StatusOK)
				}))

			req := httptest.NewRequest(http.MethodGet, "/dashboard-metrics", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusOK {
				assert.True(t, called, "Protected handler must run for a valid token")
				return
			}
			assert.False(t, called, "Protected handler must not run for an invalid token")
			assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
		})
	}
}
