package skills

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
)

func builtins(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	assert.Equal(t, fault.KindSkillNotFound, fault.KindOf(err))
}

func TestCleanText(t *testing.T) {
	r := builtins(t)
	s, err := r.Get("clean_text")
	require.NoError(t, err)

	out, credits, err := s.Execute(context.Background(), map[string]any{"text": "  hello   \t world \n"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out["cleaned"])
	assert.Equal(t, int64(1), credits)
}

func TestTextCreditsScaleWithLength(t *testing.T) {
	assert.Equal(t, int64(1), textCredits("short"))
	assert.Equal(t, int64(1), textCredits(strings.Repeat("a", 499)))
	assert.Equal(t, int64(2), textCredits(strings.Repeat("a", 1000)))
}

func TestKeywordExtract(t *testing.T) {
	r := builtins(t)
	s, err := r.Get("keyword_extract")
	require.NoError(t, err)

	out, _, err := s.Execute(context.Background(), map[string]any{
		"text":  "the cache cache cache misses misses hurt latency",
		"top_k": float64(3),
	})
	require.NoError(t, err)

	keywords := out["keywords"].([]any)
	require.Len(t, keywords, 3)
	assert.Equal(t, "cache", keywords[0])
	assert.Equal(t, "misses", keywords[1])
}

func TestPiiRedactor(t *testing.T) {
	r := builtins(t)
	s, err := r.Get("pii_redactor")
	require.NoError(t, err)

	out, _, err := s.Execute(context.Background(), map[string]any{
		"text": "reach me at jo@example.com or +1 555-123-4567 thanks",
	})
	require.NoError(t, err)

	redacted := out["redacted"].(string)
	assert.NotContains(t, redacted, "jo@example.com")
	assert.Contains(t, redacted, "[REDACTED_EMAIL]")
	assert.Contains(t, redacted, "[REDACTED_PHONE]")
}

func TestSentimentScore(t *testing.T) {
	r := builtins(t)
	s, err := r.Get("sentiment_score")
	require.NoError(t, err)

	out, _, err := s.Execute(context.Background(), map[string]any{"text": "this is great, really great!"})
	require.NoError(t, err)
	assert.Equal(t, "positive", out["label"])

	out, _, err = s.Execute(context.Background(), map[string]any{"text": "plain text with no opinion"})
	require.NoError(t, err)
	assert.Equal(t, "neutral", out["label"])
}

func TestUrlExtract(t *testing.T) {
	r := builtins(t)
	s, err := r.Get("url_extract")
	require.NoError(t, err)

	out, _, err := s.Execute(context.Background(), map[string]any{
		"text": "see https://example.com/a and HTTP://other.test/b.",
	})
	require.NoError(t, err)

	urls := out["urls"].([]any)
	require.Len(t, urls, 2)
	assert.Equal(t, "https://example.com/a", urls[0])
}

func TestExecutorValidatesBeforeExecuting(t *testing.T) {
	r := builtins(t)
	s, err := r.Get("clean_text")
	require.NoError(t, err)

	ex := NewExecutor(logging.NewNop(), time.Second)

	res := ex.Run(context.Background(), s, map[string]any{})
	assert.False(t, res.OK)
	assert.Equal(t, fault.KindStepInputInvalid, res.ErrorKind)

	res = ex.Run(context.Background(), s, map[string]any{"text": 42})
	assert.False(t, res.OK)
	assert.Equal(t, fault.KindStepInputInvalid, res.ErrorKind)
}

// panicker blows up on execute; the executor must contain it.
type panicker struct{}

func (panicker) Meta() Meta                          { return Meta{SkillID: "panicker", Version: "1.0.0"} }
func (panicker) Validate(map[string]any) error       { return nil }
func (panicker) Execute(context.Context, map[string]any) (map[string]any, int64, error) {
	panic("boom")
}

func TestExecutorRecoversPanics(t *testing.T) {
	ex := NewExecutor(logging.NewNop(), time.Second)

	res := ex.Run(context.Background(), panicker{}, map[string]any{})
	assert.False(t, res.OK)
	assert.Equal(t, fault.KindExecutorError, res.ErrorKind)
	assert.Contains(t, res.Error, "panicked")
}

func TestExecutorFloorsCredits(t *testing.T) {
	ex := NewExecutor(logging.NewNop(), time.Second)

	res := ex.Run(context.Background(), freebie{}, map[string]any{})
	require.True(t, res.OK)
	assert.Equal(t, int64(1), res.Credits)
}

// freebie claims zero credits; the executor charges the minimum anyway.
type freebie struct{}

func (freebie) Meta() Meta                    { return Meta{SkillID: "freebie", Version: "1.0.0"} }
func (freebie) Validate(map[string]any) error { return nil }
func (freebie) Execute(context.Context, map[string]any) (map[string]any, int64, error) {
	return map[string]any{"done": true}, 0, nil
}
