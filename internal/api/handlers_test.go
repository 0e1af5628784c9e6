// internal/api/handlers_test.go
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"graft/internal/logging"
	"graft/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) (*repo.LocalRepository, *httptest.Server, func()) {
	dir, err := os.MkdirTemp("", "api-test")
	require.NoError(t, err)

	r, err := repo.Init(dir, repo.Options{})
	require.NoError(t, err)

	logger, err := logging.NewLogger("error")
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(r, logger))

	cleanup := func() {
		server.Close()
		r.Close()
		os.RemoveAll(dir)
	}

	return r, server, cleanup
}

func TestHealth(t *testing.T) {
	_, server, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRefsEmptyRepo(t *testing.T) {
	_, server, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Get(server.URL + "/api/refs")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed RefsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Empty(t, parsed.Branches)
	assert.Empty(t, parsed.Head)
}

func TestRefsAdvertisesBranches(t *testing.T) {
	r, server, cleanup := setupTestServer(t)
	defer cleanup()

	h0, err := r.CreateCommit("genesis", map[string][]byte{"a.txt": []byte("a")})
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/api/refs")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed RefsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Equal(t, h0.Hex(), parsed.Branches[repo.DefaultBranch])
	assert.Equal(t, h0.Hex(), parsed.Head)
}

func TestCommitEndpoint(t *testing.T) {
	r, server, cleanup := setupTestServer(t)
	defer cleanup()

	h0, err := r.CreateCommit("genesis", nil)
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/api/commits/" + h0.Hex())
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Equal(t, "genesis", parsed.Message)
}

func TestCommitEndpointBadHash(t *testing.T) {
	_, server, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Get(server.URL + "/api/commits/nothex")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommitEndpointMissing(t *testing.T) {
	_, server, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Get(server.URL + "/api/commits/" + "0000000000000000000000000000000000000000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	_, server, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Post(server.URL+"/api/refs", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
