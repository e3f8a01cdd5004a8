package plagiarism

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name  string
		block models.CodeBlock
		want  string
	}{
		{
			name: "keywords and short tokens dropped",
			block: models.CodeBlock{
				Name: "calculate_fibonacci",
				Text: "def calculate_fibonacci(number):\n    if number <= 1:\n        return number\n    return calculate_fibonacci(number - 1)",
			},
			want: "calculate_fibonacci number number number calculate_fibonacci",
		},
		{
			name: "only first four lines are read",
			block: models.CodeBlock{
				Name: "load",
				Text: "def load(path):\n    pass\n    pass\n    pass\n    decode_payload(path)",
			},
			want: "load path",
		},
		{
			name: "at most five tokens",
			block: models.CodeBlock{
				Name: "merge",
				Text: "def merge(left, right, key, reverse, strict, extra):",
			},
			want: "merge left right key reverse",
		},
		{
			name: "underscore tokens and self are dropped",
			block: models.CodeBlock{
				Name: "_private_helper",
				Text: "def _private_helper(self, value):\n    return value",
			},
			want: "value value",
		},
		{
			name: "falls back to name",
			block: models.CodeBlock{
				Name: "_f",
				Text: "def _f(x):\n    return x",
			},
			want: "_f",
		},
		{
			name: "name fallback strips punctuation",
			block: models.CodeBlock{
				Name: "full-code!",
				Text: "1 + 2",
			},
			want: "fullcode",
		},
		{
			name:  "empty when nothing usable",
			block: models.CodeBlock{Name: "", Text: "x = 1"},
			want:  "",
		},
		{
			name:  "stopword name is not a query",
			block: models.CodeBlock{Name: "print", Text: "if x: pass"},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.block))
		})
	}
}

func TestBuildQueryBounds(t *testing.T) {
	long := strings.Repeat("identifier", 30)
	blocks := []models.CodeBlock{
		{Name: "x", Text: long},
		{Name: long, Text: "if True: pass"},
		{Name: "ok", Text: "for item in items:\n    while True:\n        return self.value\nimport os"},
		{Name: "RawBlock", Text: nestedSource},
	}

	for _, block := range blocks {
		query := BuildQuery(block)
		assert.LessOrEqual(t, utf8.RuneCountInString(query), MaxQueryLength)
		for _, tok := range strings.Fields(query) {
			assert.False(t, IsStopword(tok), "query %q contains stopword %q", query, tok)
		}
	}
}
