package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-portal/pkg/permission"
)

func TestActivityMiddleware(t *testing.T) {
	tr := NewInMemTracker(idleTimeout)
	h := ActivityMiddleware(tr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Anonymous requests are not tracked.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, tr.Len())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(permission.NewContext(r.Context(), permission.Principal{UserID: "a1", Email: "a1@example.com"}))
	h.ServeHTTP(httptest.NewRecorder(), r)

	rec, found, err := tr.GetSession(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a1@example.com", rec.Email)
}
