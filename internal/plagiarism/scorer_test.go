package plagiarism

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOracle replays responses in order; the last one repeats.
type fakeOracle struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (f *fakeOracle) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	idx := min(len(f.prompts)-1, len(f.responses)-1)
	return f.responses[idx], nil
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

var testMatch = models.MatchCandidate{
	RepositoryID: "octo/fib",
	URL:          "https://github.com/octo/fib/blob/main/fib.py",
	Path:         "fib.py",
	Snippet:      "def fib(n):\n    return n if n < 2 else fib(n-1) + fib(n-2)",
}

var testBlock = models.CodeBlock{
	Kind: models.BlockFunction,
	Name: "f",
	Text: "def f(n):\n if n<=1: return n\n return f(n-1)+f(n-2)",
}

func TestScoreVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		similarity int
		suspicious bool
		reason     *string
	}{
		{
			name:       "threshold overrides oracle flag",
			response:   `{"similarity_percent": 85, "is_suspicious": false, "reason": "near-identical logic"}`,
			similarity: 85,
			suspicious: true,
			reason:     strPtr("near-identical logic"),
		},
		{
			name:       "oracle flag kept below threshold",
			response:   `{"similarity_percent": 10, "is_suspicious": true, "reason": "rare helper name"}`,
			similarity: 10,
			suspicious: true,
			reason:     strPtr("rare helper name"),
		},
		{
			name:       "threshold is exclusive",
			response:   `{"similarity_percent": 70, "is_suspicious": false}`,
			similarity: 70,
		},
		{
			name:       "fractional similarity is rounded",
			response:   `{"similarity_percent": 71.6, "is_suspicious": false, "reason": null}`,
			similarity: 72,
			suspicious: true,
		},
		{
			name:     "out of range similarity",
			response: `{"similarity_percent": 150, "is_suspicious": false}`,
		},
		{
			name:     "negative similarity",
			response: `{"similarity_percent": -5, "is_suspicious": false}`,
		},
		{
			name:     "similarity of wrong type",
			response: `{"similarity_percent": "85", "is_suspicious": "yes"}`,
		},
		{
			name:     "malformed response",
			response: "I think these look quite similar",
		},
		{
			name:     "empty response",
			response: "",
		},
		{
			name:       "fenced json",
			response:   "```json\n{\"similarity_percent\": 40, \"is_suspicious\": false, \"reason\": \"shared idiom\"}\n```",
			similarity: 40,
			reason:     strPtr("shared idiom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{responses: []string{tt.response}}

			comparison, err := NewScorer(oracle).Score(context.Background(), testBlock, testMatch)
			require.NoError(t, err)

			assert.Equal(t, "f", comparison.BlockName)
			assert.Equal(t, models.BlockFunction, comparison.BlockKind)
			assert.Equal(t, tt.similarity, comparison.SimilarityPercent)
			assert.Equal(t, tt.suspicious, comparison.IsSuspicious)
			assert.Equal(t, tt.reason, comparison.Reason)
			require.NotNil(t, comparison.SourceRepository)
			require.NotNil(t, comparison.SourceURL)
			assert.Equal(t, testMatch.RepositoryID, *comparison.SourceRepository)
			assert.Equal(t, testMatch.URL, *comparison.SourceURL)
			assert.Equal(t, 1, oracle.calls())
		})
	}
}

func TestScoreTransportError(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("connection refused")}

	_, err := NewScorer(oracle).Score(context.Background(), testBlock, testMatch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracleTransport)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCompareWithoutMatchesSkipsOracle(t *testing.T) {
	oracle := &fakeOracle{responses: []string{`{"similarity_percent": 99}`}}

	comparison, err := NewScorer(oracle).Compare(context.Background(), testBlock, models.BlockSearchResult{
		BlockName: "f",
		Matches:   []models.MatchCandidate{},
	})
	require.NoError(t, err)

	assert.Equal(t, models.Comparison{BlockName: "f", BlockKind: models.BlockFunction}, comparison)
	assert.Zero(t, oracle.calls())
}

func TestCompareUsesBestMatchOnly(t *testing.T) {
	oracle := &fakeOracle{responses: []string{`{"similarity_percent": 20, "is_suspicious": false}`}}
	second := models.MatchCandidate{RepositoryID: "other/repo", URL: "https://github.com/other/repo", Snippet: "x"}

	comparison, err := NewScorer(oracle).Compare(context.Background(), testBlock, models.BlockSearchResult{
		BlockName: "f",
		Matches:   []models.MatchCandidate{testMatch, second},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, oracle.calls())
	assert.Equal(t, testMatch.RepositoryID, *comparison.SourceRepository)
	assert.Contains(t, oracle.prompts[0], testMatch.Snippet)
	assert.NotContains(t, oracle.prompts[0], "other/repo")
}

func TestBuildComparisonPromptTruncates(t *testing.T) {
	prompt := BuildComparisonPrompt(strings.Repeat("a", 1000), strings.Repeat("b", 20))

	assert.Contains(t, prompt, strings.Repeat("a", promptSnippetLength))
	assert.NotContains(t, prompt, strings.Repeat("a", promptSnippetLength+1))
	assert.Contains(t, prompt, strings.Repeat("b", 20))
	assert.Contains(t, prompt, `"similarity_percent": <0-100>`)
	assert.True(t, strings.HasPrefix(prompt, "Compare these two code snippets"))
}

func TestParseVerdictRejectsTrailingData(t *testing.T) {
	_, err := ParseVerdict(`{"similarity_percent": 10} {"similarity_percent": 90}`)
	assert.ErrorIs(t, err, ErrOracleFormat)

	_, err = ParseVerdict(`[1, 2, 3]`)
	assert.ErrorIs(t, err, ErrOracleFormat)
}

func strPtr(s string) *string { return &s }
