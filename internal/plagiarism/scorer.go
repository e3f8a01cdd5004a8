package plagiarism

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/RishiKendai/codetrace/internal/logger"
	"github.com/RishiKendai/codetrace/internal/metrics"
	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/rs/zerolog"
)

const (
	// SuspiciousThreshold is the similarity above which a block is flagged regardless of the oracle.
	SuspiciousThreshold = 70
	promptSnippetLength = 500
)

// Oracle is the external reasoning service that judges similarity.
// Complete returns an error only when the service itself could not be reached.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Verdict is the decoded oracle answer.
type Verdict struct {
	SimilarityPercent int
	IsSuspicious      bool
	Reason            *string
}

// Scorer turns a block and its search result into a Comparison.
type Scorer struct {
	oracle Oracle
	log    zerolog.Logger
}

func NewScorer(oracle Oracle) *Scorer {
	return &Scorer{oracle: oracle, log: logger.For("scorer")}
}

// Compare scores block against the best match in result. Blocks without
// matches get a zero comparison and the oracle is not called.
func (s *Scorer) Compare(ctx context.Context, block models.CodeBlock, result models.BlockSearchResult) (models.Comparison, error) {
	if len(result.Matches) == 0 {
		s.log.Debug().Str("block", block.Name).Msg("No matches to compare")
		return models.Comparison{
			BlockName: block.Name,
			BlockKind: block.Kind,
		}, nil
	}
	return s.Score(ctx, block, result.Matches[0])
}

// Score asks the oracle to compare block with match. Malformed oracle output
// degrades to a zero verdict; transport failures are returned wrapped in ErrOracleTransport.
func (s *Scorer) Score(ctx context.Context, block models.CodeBlock, match models.MatchCandidate) (models.Comparison, error) {
	raw, err := s.oracle.Complete(ctx, BuildComparisonPrompt(block.Text, match.Snippet))
	if err != nil {
		metrics.OracleCalls.WithLabelValues("transport_error").Inc()
		return models.Comparison{}, fmt.Errorf("%w: %v", ErrOracleTransport, err)
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		metrics.OracleCalls.WithLabelValues("format_error").Inc()
		s.log.Error().Err(err).Str("block", block.Name).Str("response", truncateRunes(raw, 240)).
			Msg("Failed to parse oracle response, using zero verdict")
	} else {
		metrics.OracleCalls.WithLabelValues("ok").Inc()
	}

	repo, url := match.RepositoryID, match.URL
	comparison := models.Comparison{
		BlockName:         block.Name,
		BlockKind:         block.Kind,
		SimilarityPercent: verdict.SimilarityPercent,
		IsSuspicious:      verdict.IsSuspicious || verdict.SimilarityPercent > SuspiciousThreshold,
		SourceRepository:  &repo,
		SourceURL:         &url,
		Reason:            verdict.Reason,
	}

	s.log.Info().
		Str("block", block.Name).
		Int("similarity", comparison.SimilarityPercent).
		Bool("suspicious", comparison.IsSuspicious).
		Str("repository", repo).
		Msg("Block compared")

	return comparison, nil
}

// BuildComparisonPrompt renders the fixed-shape comparison request.
func BuildComparisonPrompt(blockText, snippet string) string {
	var b strings.Builder
	b.WriteString("Compare these two code snippets and determine similarity percentage.\n\n")
	b.WriteString("Student Code:\n```python\n")
	b.WriteString(truncateRunes(blockText, promptSnippetLength))
	b.WriteString("\n```\n\nFound Code on GitHub:\n```python\n")
	b.WriteString(truncateRunes(snippet, promptSnippetLength))
	b.WriteString("\n```\n\n")
	b.WriteString("Respond ONLY with valid JSON (no markdown, no extra text):\n")
	b.WriteString("{\n")
	b.WriteString("    \"similarity_percent\": <0-100>,\n")
	b.WriteString("    \"is_suspicious\": <true or false>,\n")
	b.WriteString("    \"reason\": \"<brief reason>\"\n")
	b.WriteString("}")
	return b.String()
}

type verdictPayload struct {
	SimilarityPercent json.RawMessage `json:"similarity_percent"`
	IsSuspicious      json.RawMessage `json:"is_suspicious"`
	Reason            json.RawMessage `json:"reason"`
}

// ParseVerdict decodes an oracle answer. Fields that are missing or of the
// wrong type take their zero value; a body that is not a JSON object is an
// ErrOracleFormat and yields the zero Verdict.
func ParseVerdict(raw string) (Verdict, error) {
	body := stripCodeFence(raw)

	var payload verdictPayload
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&payload); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrOracleFormat, err)
	}
	if dec.More() {
		return Verdict{}, fmt.Errorf("%w: trailing data after JSON object", ErrOracleFormat)
	}

	var v Verdict

	var similarity float64
	if len(payload.SimilarityPercent) > 0 && json.Unmarshal(payload.SimilarityPercent, &similarity) == nil {
		rounded := math.Round(similarity)
		if rounded >= 0 && rounded <= 100 {
			v.SimilarityPercent = int(rounded)
		}
	}

	var flag bool
	if len(payload.IsSuspicious) > 0 && json.Unmarshal(payload.IsSuspicious, &flag) == nil {
		v.IsSuspicious = flag
	}

	var reason string
	if len(payload.Reason) > 0 && !bytes.Equal(payload.Reason, []byte("null")) && json.Unmarshal(payload.Reason, &reason) == nil {
		v.Reason = &reason
	}

	return v, nil
}

func stripCodeFence(raw string) string {
	body := strings.TrimSpace(raw)
	if !strings.HasPrefix(body, "```") {
		return body
	}
	body = strings.TrimPrefix(body, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
