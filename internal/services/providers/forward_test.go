package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardSetsProviderAuthHeaders(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	table := map[string]ProviderSpec{
		"anthropic": {Name: "anthropic", BaseURL: srv.URL, AuthHeader: "x-api-key", VersionHeader: "anthropic-version", VersionValue: "2023-06-01"},
	}
	f := New(table)

	resp, err := f.Forward(context.Background(), "anthropic", http.MethodPost, "/v1/messages", "sk-test-key", strings.NewReader(`{}`), false)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sk-test-key", gotAuth)
	assert.Equal(t, "2023-06-01", gotVersion)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "ok")
}

func TestForwardBearerPrefixForOpenAIStyleProviders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	table := map[string]ProviderSpec{
		"openai": {Name: "openai", BaseURL: srv.URL, AuthHeader: "Authorization", AuthPrefix: "Bearer "},
	}
	f := New(table)

	resp, err := f.Forward(context.Background(), "openai", http.MethodPost, "/v1/chat/completions", "sk-openai", nil, false)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "Bearer sk-openai", gotAuth)
}

func TestForwardUnknownProviderErrors(t *testing.T) {
	f := New(map[string]ProviderSpec{})
	_, err := f.Forward(context.Background(), "nonexistent", http.MethodPost, "/x", "key", nil, false)
	assert.Error(t, err)
}

func TestForwardClassifiesTimeoutAsForwardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	table := map[string]ProviderSpec{"slow": {Name: "slow", BaseURL: srv.URL}}
	f := New(table)
	f.unaryClient.Timeout = 5 * time.Millisecond

	_, err := f.Forward(context.Background(), "slow", http.MethodGet, "/", "", nil, false)
	require.Error(t, err)
	var fe *ForwardError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FailureTimeout, fe.Class)
}

func TestForwardTripsCircuitAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	table := map[string]ProviderSpec{"flaky": {Name: "flaky", BaseURL: srv.URL}}
	f := New(table)

	for i := 0; i < 5; i++ {
		resp, err := f.Forward(context.Background(), "flaky", http.MethodGet, "/", "", nil, false)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	}

	_, err := f.Forward(context.Background(), "flaky", http.MethodGet, "/", "", nil, false)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestForwardRecordsSuccessResetsCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	table := map[string]ProviderSpec{"healthy": {Name: "healthy", BaseURL: srv.URL}}
	f := New(table)

	for i := 0; i < 3; i++ {
		resp, err := f.Forward(context.Background(), "healthy", http.MethodGet, "/", "", nil, false)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.False(t, f.breakers.IsOpen("healthy"))
}
