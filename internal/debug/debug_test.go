package debug

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackHandler(t *testing.T) {
	w := httptest.NewRecorder()
	stackHandler(w, httptest.NewRequest("GET", "/api/stack", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "goroutine")
	require.Contains(t, body, "Total: ")
}
