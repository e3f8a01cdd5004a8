package models

// BlockKind classifies a unit produced by decomposition
type BlockKind string

const (
	BlockFunction BlockKind = "function"
	BlockClass    BlockKind = "class"
	BlockRaw      BlockKind = "raw"
)

// LineRange is an inclusive, 1-based line span
type LineRange struct {
	Start int `bson:"start" json:"start"`
	End   int `bson:"end" json:"end"`
}

// CodeBlock is a named, typed contiguous span of the submitted source
type CodeBlock struct {
	Kind      BlockKind `bson:"kind" json:"kind"`
	Name      string    `bson:"name" json:"name"`
	Text      string    `bson:"text" json:"text"`
	Lines     LineRange `bson:"lines" json:"lines"`
	Signature string    `bson:"signature" json:"signature"`
}

// MatchCandidate is one code search hit, as ranked by the search provider
type MatchCandidate struct {
	RepositoryID string `bson:"repositoryId" json:"repository_id"`
	URL          string `bson:"url" json:"url"`
	Path         string `bson:"path" json:"path"`
	Snippet      string `bson:"snippet" json:"snippet"` // at most 500 characters
}

// BlockSearchResult pairs a block with the matches found for its query.
// Query is empty when the block produced no usable query and was not searched.
type BlockSearchResult struct {
	BlockName string           `bson:"blockName" json:"block_name"`
	BlockKind BlockKind        `bson:"blockKind" json:"block_kind"`
	Query     string           `bson:"query,omitempty" json:"query,omitempty"`
	Matches   []MatchCandidate `bson:"matches" json:"matches"`
}
