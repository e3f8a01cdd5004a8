package plagiarism

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/RishiKendai/codetrace/internal/models"
)

const (
	MaxQueryLength = 200
	queryLines     = 4
	queryTokens    = 5
	minTokenLength = 3
)

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// stopwords are compared lower-cased.
var stopwords = map[string]struct{}{
	"def": {}, "class": {}, "if": {}, "elif": {}, "else": {}, "for": {}, "while": {},
	"return": {}, "import": {}, "from": {}, "self": {}, "cls": {}, "and": {}, "or": {},
	"not": {}, "in": {}, "is": {}, "none": {}, "true": {}, "false": {}, "try": {},
	"except": {}, "finally": {}, "with": {}, "as": {}, "pass": {}, "break": {},
	"continue": {}, "lambda": {}, "yield": {}, "async": {}, "await": {}, "global": {},
	"nonlocal": {}, "raise": {}, "del": {}, "assert": {}, "print": {},
}

// IsStopword reports whether token is excluded from search queries.
func IsStopword(token string) bool {
	_, ok := stopwords[strings.ToLower(token)]
	return ok
}

// BuildQuery derives a search string from the first lines of a block.
// An empty result means the block should not be searched.
func BuildQuery(block models.CodeBlock) string {
	lines := strings.SplitN(block.Text, "\n", queryLines+1)
	if len(lines) > queryLines {
		lines = lines[:queryLines]
	}

	tokens := make([]string, 0, queryTokens)
	for _, tok := range identifierPattern.FindAllString(strings.Join(lines, "\n"), -1) {
		if len(tok) < minTokenLength || strings.HasPrefix(tok, "_") || IsStopword(tok) {
			continue
		}
		tokens = append(tokens, tok)
		if len(tokens) == queryTokens {
			break
		}
	}

	if query := truncateRunes(strings.Join(tokens, " "), MaxQueryLength); query != "" {
		return query
	}
	return nameQuery(block.Name)
}

func nameQuery(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == ' ' {
			return r
		}
		return -1
	}, name)
	cleaned = strings.TrimSpace(cleaned)
	if IsStopword(cleaned) {
		return ""
	}
	return truncateRunes(cleaned, MaxQueryLength)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}
