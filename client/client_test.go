// client/client_test.go
package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	shared "graft/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRefs(t *testing.T) {
	tip := shared.CommitHash{0xab, 0xcd}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/refs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"branches":{"main":"` + tip.Hex() + `"},"head":"` + tip.Hex() + `"}`))
	}))
	defer server.Close()

	tips, err := New().FetchRefs(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, map[string]shared.CommitHash{"main": tip}, tips)
}

func TestFetchRefsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := New().FetchRefs(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestFetchRefsInvalidTip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"branches":{"main":"nothex"}}`))
	}))
	defer server.Close()

	_, err := New().FetchRefs(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid"))
}

func TestFetchRefsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // already down

	_, err := New().FetchRefs(context.Background(), server.URL)
	assert.Error(t, err)
}
