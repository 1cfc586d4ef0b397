package httputil_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier map[string]httputil.Identity

func (v staticVerifier) Verify(token string) (httputil.Identity, error) {
	id, ok := v[token]
	if !ok {
		return httputil.Identity{}, errors.TokenInvalid()
	}
	return id, nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.TenantID(r.Context())
	httputil.JSON(w, http.StatusOK, map[string]string{
		"user_id":   httputil.GetUserID(r.Context()),
		"role":      httputil.GetUserRole(r.Context()),
		"tenant_id": tenantID,
	})
}

func TestAuthenticator(t *testing.T) {
	verifier := staticVerifier{
		"good":      {UserID: "chef-1", Role: "sous_chef", TenantID: "restaurant-1"},
		"no-tenant": {UserID: "chef-2", Role: "line_cook"},
	}
	handler := httputil.Authenticator(verifier)(http.HandlerFunc(echoIdentity))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
		wantUser   string
	}{
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED", ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED", ""},
		{"invalid token", "Bearer nope", http.StatusUnauthorized, "TOKEN_INVALID", ""},
		{"valid", "Bearer good", http.StatusOK, "", "chef-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode(t, rec)
			if tt.wantCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
				return
			}
			data := resp.Data.(map[string]interface{})
			assert.Equal(t, tt.wantUser, data["user_id"])
			assert.Equal(t, "restaurant-1", data["tenant_id"])
		})
	}
}

func TestTenantMiddleware(t *testing.T) {
	handler := httputil.TenantMiddleware(http.HandlerFunc(echoIdentity))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/a/evidence", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/slots/a/evidence", nil)
	req.Header.Set("X-Tenant-ID", "restaurant-9")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "restaurant-9", decode(t, rec).Data.(map[string]interface{})["tenant_id"])

	// the tenant from the token wins over the header
	req = httptest.NewRequest(http.MethodGet, "/api/v1/slots/a/evidence", nil)
	req.Header.Set("X-Tenant-ID", "restaurant-9")
	req = req.WithContext(tenant.WithTenantID(req.Context(), "restaurant-1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "restaurant-1", decode(t, rec).Data.(map[string]interface{})["tenant_id"])

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverer(t *testing.T) {
	handler := httputil.Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("oven on fire")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, rec).Error.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := httputil.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestError_NonAppErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.Error(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}

func TestValidate(t *testing.T) {
	type req struct {
		Status string `json:"status" validate:"required,oneof=pending approved rejected"`
	}

	err := httputil.Validate(req{Status: "maybe"})
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "must be one of: pending approved rejected", appErr.Details["Status"])

	assert.NoError(t, httputil.Validate(req{Status: "approved"}))
}
