package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circflow/internal/operations"
	"circflow/internal/store"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"nil", nil, 0, ""},
		{"api error passthrough", ErrPassConflict, http.StatusConflict, "PASS_IN_PROGRESS"},
		{"store not found", fmt.Errorf("component Q: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"pass validation", operations.NewValidationError("bad stages"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"pass not found", fmt.Errorf("lookup: %w", operations.ErrPassNotFound), http.StatusNotFound, "PASS_NOT_FOUND"},
		{"pass in progress", operations.ErrPassInProgress, http.StatusConflict, "PASS_IN_PROGRESS"},
		{"pass cancelled", operations.NewCancellationError("solve"), http.StatusConflict, "PASS_CANCELLED"},
		{"stage failure", operations.NewStageError("solve", stderrors.New("db gone")), http.StatusInternalServerError, "PASS_FAILED"},
		{"opaque error", stderrors.New("secret detail"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, tt.wantCode, got.ErrorCode)
		})
	}
}

func TestFromError_OpaqueErrorsHideDetail(t *testing.T) {
	got := FromError(stderrors.New("dsn password leaked"))
	assert.Equal(t, "Internal server error", got.Message)
	assert.Nil(t, got.Details)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrValidation("stages", "unknown stage id"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"error_code":"VALIDATION_FAILED"`)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}
