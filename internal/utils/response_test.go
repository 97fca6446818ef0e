package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultResponseCopiesCodeIntoErrorOnFailure(t *testing.T) {
	ok := ResultResponse(true, "SUCCESS", "Welcome", nil)
	assert.Equal(t, "SUCCESS", ok.Code)
	assert.Empty(t, ok.Error)

	failed := ResultResponse(false, "DUPLICATE", "Already checked in at 18:30", nil)
	assert.False(t, failed.Success)
	assert.Equal(t, "DUPLICATE", failed.Error)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusConflict, ErrorResponse("Sync already running", "busy"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "busy", resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}
