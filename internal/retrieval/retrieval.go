// Package retrieval talks to the document retrieval service used by
// rag_query workflow steps. Results are always scoped to one tenant; an
// optional allow hook filters matches before the engine sees them.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
)

// Match is one retrieved chunk.
type Match struct {
	DocID   string  `json:"doc_id"`
	ChunkID int     `json:"chunk_id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

// Backend answers tenant-scoped retrieval queries.
type Backend interface {
	Search(ctx context.Context, tenantID, query string, topK int) ([]Match, error)
}

// AllowFunc decides whether a tenant may see a document.
type AllowFunc func(tenantID, docID string) bool

// Filtered wraps a backend with a document-level ACL check.
type Filtered struct {
	Inner Backend
	Allow AllowFunc
}

func (f *Filtered) Search(ctx context.Context, tenantID, query string, topK int) ([]Match, error) {
	matches, err := f.Inner.Search(ctx, tenantID, query, topK)
	if err != nil {
		return nil, err
	}
	if f.Allow == nil {
		return matches, nil
	}
	kept := matches[:0]
	for _, m := range matches {
		if f.Allow(tenantID, m.DocID) {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// HTTPBackend calls an external retrieval service over HTTP.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	logger  *logging.Logger
}

// NewHTTPBackend creates a client for the retrieval service at baseURL.
func NewHTTPBackend(baseURL string, logger *logging.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type searchRequest struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

func (b *HTTPBackend) Search(ctx context.Context, tenantID, query string, topK int) ([]Match, error) {
	body, err := json.Marshal(searchRequest{TenantID: tenantID, Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("retrieval request failed", "tenant_id", tenantID, "error", err)
		return nil, fault.New(fault.KindStorageUnavailable, "retrieval backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b.logger.Error("retrieval returned non-200", "tenant_id", tenantID, "status", resp.StatusCode)
		return nil, fault.New(fault.KindStorageUnavailable, "retrieval backend returned %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out.Matches, nil
}

// Memory is an in-process backend for tests and local seeding. Scoring is
// term overlap, which keeps results deterministic.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]memoryDoc // tenant -> docs
}

type memoryDoc struct {
	docID string
	text  string
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{docs: map[string][]memoryDoc{}}
}

// Add indexes a document for a tenant.
func (m *Memory) Add(tenantID, docID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[tenantID] = append(m.docs[tenantID], memoryDoc{docID: docID, text: text})
}

func (m *Memory) Search(_ context.Context, tenantID, query string, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var matches []Match
	for i, d := range m.docs[tenantID] {
		lower := strings.ToLower(d.text)
		var hits int
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, Match{
			DocID:   d.docID,
			ChunkID: i,
			Score:   float64(hits) / float64(max(1, len(terms))),
			Text:    d.text,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
