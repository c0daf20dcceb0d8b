package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
)

func TestMemorySearchIsTenantScoped(t *testing.T) {
	m := NewMemory()
	m.Add("t1", "doc1", "alpha beta gamma")
	m.Add("t1", "doc2", "beta delta")
	m.Add("t2", "doc3", "beta beta beta")

	matches, err := m.Search(context.Background(), "t1", "beta delta", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc2", matches[0].DocID, "both terms hit doc2")
	assert.Equal(t, "doc1", matches[1].DocID)

	matches, err = m.Search(context.Background(), "t3", "beta", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemorySearchHonorsTopK(t *testing.T) {
	m := NewMemory()
	m.Add("t1", "doc1", "term")
	m.Add("t1", "doc2", "term")
	m.Add("t1", "doc3", "term")

	matches, err := m.Search(context.Background(), "t1", "term", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestFilteredDropsDisallowedDocs(t *testing.T) {
	m := NewMemory()
	m.Add("t1", "open_doc", "shared text")
	m.Add("t1", "secret_doc", "shared text")

	f := &Filtered{
		Inner: m,
		Allow: func(_, docID string) bool { return docID != "secret_doc" },
	}

	matches, err := f.Search(context.Background(), "t1", "shared", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "open_doc", matches[0].DocID)
}

func TestHTTPBackendSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "t1", req.TenantID)
		assert.Equal(t, 3, req.TopK)
		json.NewEncoder(w).Encode(searchResponse{Matches: []Match{
			{DocID: "d1", ChunkID: 0, Score: 0.9, Text: "hit"},
		}})
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, logging.NewNop())
	matches, err := b.Search(context.Background(), "t1", "query", 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].DocID)
}

func TestHTTPBackendErrorsMapToStorageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	b := NewHTTPBackend(srv.URL, logging.NewNop())

	_, err := b.Search(context.Background(), "t1", "query", 3)
	assert.Equal(t, fault.KindStorageUnavailable, fault.KindOf(err))

	srv.Close()
	_, err = b.Search(context.Background(), "t1", "query", 3)
	assert.Equal(t, fault.KindStorageUnavailable, fault.KindOf(err))
}
