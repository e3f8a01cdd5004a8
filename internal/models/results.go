package models

import (
	"time"
)

type Step string

const (
	StepQueued      Step = "queued"
	StepIdle        Step = "idle"
	StepDecomposing Step = "decomposing"
	StepRetrieving  Step = "retrieving"
	StepScoring     Step = "scoring"
	StepDone        Step = "done"
	StepFailed      Step = "failed"
)

// Comparison is the per-block verdict of the analysis
type Comparison struct {
	BlockName         string    `bson:"blockName" json:"block_name"`
	BlockKind         BlockKind `bson:"blockKind" json:"block_type"`
	SimilarityPercent int       `bson:"similarityPercent" json:"similarity_percent"`
	IsSuspicious      bool      `bson:"isSuspicious" json:"is_suspicious"`
	SourceRepository  *string   `bson:"sourceRepository,omitempty" json:"source_repository"`
	SourceURL         *string   `bson:"sourceUrl,omitempty" json:"source_url"`
	Reason            *string   `bson:"reason,omitempty" json:"reason"`
}

// Report is the stored outcome of one analysis run, including partial results of failed runs
type Report struct {
	RunID          string              `bson:"runId" json:"run_id"`
	Filename       string              `bson:"filename,omitempty" json:"filename,omitempty"`
	Step           Step                `bson:"step" json:"step"`
	Success        bool                `bson:"success" json:"success"`
	Error          string              `bson:"error,omitempty" json:"error,omitempty"`
	FailedStage    string              `bson:"failedStage,omitempty" json:"failed_stage,omitempty"`
	TotalBlocks    int                 `bson:"totalBlocks" json:"total_blocks"`
	Blocks         []CodeBlock         `bson:"blocks" json:"blocks"`
	SearchResults  []BlockSearchResult `bson:"searchResults" json:"search_results"`
	Comparisons    []Comparison        `bson:"comparisons" json:"comparisons"`
	UnscoredBlocks []string            `bson:"unscoredBlocks,omitempty" json:"unscored_blocks,omitempty"`
	StartedAt      time.Time           `bson:"startedAt" json:"started_at"`
	FinishedAt     time.Time           `bson:"finishedAt" json:"finished_at"`
	CreatedAt      time.Time           `bson:"createdAt" json:"created_at"`
}

// CheckRequest represents a request to analyse raw source text
type CheckRequest struct {
	Code string `json:"code"`
}

// SubmitRequest queues source text for asynchronous analysis
type SubmitRequest struct {
	Code     string `json:"code"`
	Filename string `json:"filename,omitempty"`
}

// MatchInfo is the client-facing projection of a Comparison
type MatchInfo struct {
	BlockName         string    `json:"block_name"`
	BlockKind         BlockKind `json:"block_type"`
	SimilarityPercent int       `json:"similarity_percent"`
	IsSuspicious      bool      `json:"is_suspicious"`
	SourceRepository  *string   `json:"source_repository"`
	SourceURL         *string   `json:"source_url"`
	Reason            *string   `json:"reason"`
}

// CheckResponse represents the response of the check and upload endpoints
type CheckResponse struct {
	Success     bool        `json:"success"`
	Comparisons []MatchInfo `json:"comparisons"`
	TotalBlocks int         `json:"total_blocks"`
	Error       *string     `json:"error,omitempty"`
	Stage       string      `json:"stage,omitempty"`
}

// SubmitResponse represents the response from the submissions endpoint
type SubmitResponse struct {
	RunID string `json:"run_id"`
	Step  Step   `json:"step"`
}

// NewCheckResponse projects a report onto the client response shape.
func NewCheckResponse(r *Report) CheckResponse {
	resp := CheckResponse{
		Success:     r.Success,
		Comparisons: make([]MatchInfo, 0, len(r.Comparisons)),
		TotalBlocks: r.TotalBlocks,
	}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "Unknown error occurred"
		}
		resp.Error = &msg
		resp.Stage = r.FailedStage
	}
	for _, c := range r.Comparisons {
		resp.Comparisons = append(resp.Comparisons, MatchInfo{
			BlockName:         c.BlockName,
			BlockKind:         c.BlockKind,
			SimilarityPercent: c.SimilarityPercent,
			IsSuspicious:      c.IsSuspicious,
			SourceRepository:  c.SourceRepository,
			SourceURL:         c.SourceURL,
			Reason:            c.Reason,
		})
	}
	return resp
}
