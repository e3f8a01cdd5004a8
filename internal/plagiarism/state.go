package plagiarism

import (
	"fmt"
	"time"

	"github.com/RishiKendai/codetrace/internal/models"
)

// Stage names one of the three working phases of a run.
type Stage string

const (
	StageDecomposition Stage = "decomposition"
	StageRetrieval     Stage = "retrieval"
	StageScoring       Stage = "scoring"
)

// State is the record threaded through the stages of one run. A stage reads
// the fields produced before it and writes only its own output fields.
type State struct {
	Code string
	Step models.Step

	Blocks         []models.CodeBlock
	SearchResults  []models.BlockSearchResult
	Comparisons    []models.Comparison
	UnscoredBlocks []string

	Success     bool
	Err         error
	FailedStage Stage

	StartedAt  time.Time
	FinishedAt time.Time
}

func newState(code string) *State {
	return &State{
		Code:          code,
		Step:          models.StepIdle,
		Blocks:        []models.CodeBlock{},
		SearchResults: []models.BlockSearchResult{},
		Comparisons:   []models.Comparison{},
	}
}

// IsTerminal reports whether no further transition is possible from step.
func IsTerminal(step models.Step) bool {
	return step == models.StepDone || step == models.StepFailed
}

func isAllowedTransition(from, to models.Step) bool {
	switch from {
	case models.StepIdle:
		return to == models.StepDecomposing
	case models.StepDecomposing:
		return to == models.StepRetrieving || to == models.StepFailed
	case models.StepRetrieving:
		return to == models.StepScoring || to == models.StepFailed
	case models.StepScoring:
		return to == models.StepDone || to == models.StepFailed
	default:
		return false
	}
}

func (s *State) transition(to models.Step) error {
	if !isAllowedTransition(s.Step, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", s.Step, to)
	}
	s.Step = to
	return nil
}

// ErrorMessage is the human readable cause of a failed run.
func (s *State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	if se, ok := s.Err.(*StageError); ok && se.Err != nil {
		return se.Err.Error()
	}
	return s.Err.Error()
}

// Report snapshots the state, partial results included.
func (s *State) Report(runID string) *models.Report {
	return &models.Report{
		RunID:          runID,
		Step:           s.Step,
		Success:        s.Success,
		Error:          s.ErrorMessage(),
		FailedStage:    string(s.FailedStage),
		TotalBlocks:    len(s.Blocks),
		Blocks:         s.Blocks,
		SearchResults:  s.SearchResults,
		Comparisons:    s.Comparisons,
		UnscoredBlocks: s.UnscoredBlocks,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
}
