package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

func TestClient_Think(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"thought\":\"check time\",\"function_calls\":[{\"function\":\"get_time\",\"args\":{\"timezone\":\"Europe/Paris\"}}]}"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	c, err := New(context.Background(), "test-key", "gemini-2.0-flash", srv.URL, 0, srv.Client())
	require.NoError(t, err)

	thought, err := c.Think(context.Background(), ports.ThinkRequest{Question: "What time is it in Paris?", Iteration: 1, MaxIterations: 2})
	require.NoError(t, err)
	require.Len(t, thought.StructuredThought.FunctionCalls, 1)
	assert.Equal(t, "get_time", thought.StructuredThought.FunctionCalls[0].Function)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	c, err := New(context.Background(), "bad-key", "gemini-2.0-flash", srv.URL, 0, srv.Client())
	require.NoError(t, err)

	_, err = c.Think(context.Background(), ports.ThinkRequest{Question: "q", Iteration: 1, MaxIterations: 1})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeModelUnavailable, domain.ErrorTypeOf(err))
}
