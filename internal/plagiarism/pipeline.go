package plagiarism

import (
	"context"
	"fmt"
	"time"

	"github.com/RishiKendai/codetrace/internal/logger"
	"github.com/RishiKendai/codetrace/internal/metrics"
	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultLanguageHint = "python"
	DefaultMatchLimit   = 3

	// terminalStatusTimeout bounds the write of done/failed, which outlives the run context.
	terminalStatusTimeout = 5 * time.Second
)

// Retriever finds public code resembling a query, best match first.
// Implementations absorb their own failures and return an empty slice.
type Retriever interface {
	Search(ctx context.Context, query, languageHint string, limit int) []models.MatchCandidate
}

// Comparer produces the comparison for one block and its search result.
type Comparer interface {
	Compare(ctx context.Context, block models.CodeBlock, result models.BlockSearchResult) (models.Comparison, error)
}

// StatusRecorder publishes step changes of a run.
type StatusRecorder interface {
	Record(ctx context.Context, runID string, step models.Step) error
}

type Options struct {
	LanguageHint string
	MatchLimit   int
	Status       StatusRecorder
}

// Pipeline runs decomposition, retrieval and scoring in sequence for one
// submission at a time. A Pipeline holds no per-run state and may be shared.
type Pipeline struct {
	extractor    Extractor
	retriever    Retriever
	scorer       Comparer
	languageHint string
	matchLimit   int
	status       StatusRecorder
	log          zerolog.Logger
}

func NewPipeline(extractor Extractor, retriever Retriever, oracle Oracle, opts Options) *Pipeline {
	return NewPipelineWithComparer(extractor, retriever, NewScorer(oracle), opts)
}

func NewPipelineWithComparer(extractor Extractor, retriever Retriever, scorer Comparer, opts Options) *Pipeline {
	if opts.LanguageHint == "" {
		opts.LanguageHint = DefaultLanguageHint
	}
	if opts.MatchLimit <= 0 {
		opts.MatchLimit = DefaultMatchLimit
	}
	return &Pipeline{
		extractor:    extractor,
		retriever:    retriever,
		scorer:       scorer,
		languageHint: opts.LanguageHint,
		matchLimit:   opts.MatchLimit,
		status:       opts.Status,
		log:          logger.For("pipeline"),
	}
}

// Run analyses code and always returns the final state. A failed stage stops
// the run; everything produced before the failure is kept on the state.
func (p *Pipeline) Run(ctx context.Context, runID, code string) *State {
	state := newState(code)
	state.StartedAt = time.Now()
	log := p.log.With().Str("run_id", runID).Logger()

	log.Info().Msg("=== Starting plagiarism detection pipeline ===")

	stages := []struct {
		stage Stage
		step  models.Step
		run   func(context.Context, *State, zerolog.Logger) error
	}{
		{StageDecomposition, models.StepDecomposing, p.decompose},
		{StageRetrieval, models.StepRetrieving, p.retrieve},
		{StageScoring, models.StepScoring, p.score},
	}

	for _, s := range stages {
		p.advance(ctx, runID, state, s.step, log)
		if err := p.runStage(ctx, s.stage, state, log, s.run); err != nil {
			p.fail(ctx, runID, state, s.stage, err, log)
			return state
		}
	}

	state.Success = true
	state.FinishedAt = time.Now()
	p.advance(ctx, runID, state, models.StepDone, log)
	metrics.PipelineRuns.WithLabelValues("success", "").Inc()

	log.Info().
		Int("blocks", len(state.Blocks)).
		Int("comparisons", len(state.Comparisons)).
		Dur("elapsed", state.FinishedAt.Sub(state.StartedAt)).
		Msg("=== Pipeline completed ===")
	return state
}

func (p *Pipeline) runStage(
	ctx context.Context,
	stage Stage,
	state *State,
	log zerolog.Logger,
	fn func(context.Context, *State, zerolog.Logger) error,
) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s stage: %v", stage, r)
		}
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()
	return fn(ctx, state, log.With().Str("stage", string(stage)).Logger())
}

func (p *Pipeline) advance(ctx context.Context, runID string, state *State, to models.Step, log zerolog.Logger) {
	if err := state.transition(to); err != nil {
		log.Error().Err(err).Msg("Invalid pipeline transition")
		return
	}
	if p.status == nil {
		return
	}
	if IsTerminal(to) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), terminalStatusTimeout)
		defer cancel()
	}
	if err := p.status.Record(ctx, runID, to); err != nil {
		log.Warn().Err(err).Str("step", string(to)).Msg("Failed to record pipeline step")
	}
}

func (p *Pipeline) fail(ctx context.Context, runID string, state *State, stage Stage, err error, log zerolog.Logger) {
	state.Err = &StageError{Stage: stage, Err: err}
	state.FailedStage = stage
	state.Success = false
	state.FinishedAt = time.Now()
	p.advance(ctx, runID, state, models.StepFailed, log)
	metrics.PipelineRuns.WithLabelValues("failed", string(stage)).Inc()

	log.Error().Err(err).Str("stage", string(stage)).Msg("Pipeline stage failed")
}

func (p *Pipeline) decompose(ctx context.Context, state *State, log zerolog.Logger) error {
	log.Info().Msg("Starting code splitting")

	blocks, err := p.extractor.Extract(ctx, state.Code)
	if err != nil {
		return err
	}
	state.Blocks = blocks

	log.Info().Int("blocks", len(blocks)).Msg("Code splitting completed")
	return nil
}

func (p *Pipeline) retrieve(ctx context.Context, state *State, log zerolog.Logger) error {
	log.Info().Int("blocks", len(state.Blocks)).Msg("Starting code search")

	total := 0
	for _, block := range state.Blocks {
		if err := ctx.Err(); err != nil {
			return err
		}

		result := models.BlockSearchResult{
			BlockName: block.Name,
			BlockKind: block.Kind,
			Matches:   []models.MatchCandidate{},
		}

		query := BuildQuery(block)
		if query == "" {
			log.Debug().Str("block", block.Name).Msg("Empty query, skipping search")
			state.SearchResults = append(state.SearchResults, result)
			continue
		}

		result.Query = query
		if matches := p.retriever.Search(ctx, query, p.languageHint, p.matchLimit); len(matches) > 0 {
			if len(matches) > p.matchLimit {
				matches = matches[:p.matchLimit]
			}
			result.Matches = matches
		}
		total += len(result.Matches)
		state.SearchResults = append(state.SearchResults, result)

		log.Info().Str("block", block.Name).Int("matches", len(result.Matches)).Msg("Block searched")
	}

	log.Info().Int("matches", total).Msg("Code search completed")
	return nil
}

func (p *Pipeline) score(ctx context.Context, state *State, log zerolog.Logger) error {
	n := min(len(state.Blocks), len(state.SearchResults))
	log.Info().Int("blocks", n).Msg("Starting similarity analysis")

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		comparison, err := p.scorer.Compare(ctx, state.Blocks[i], state.SearchResults[i])
		if err != nil {
			return fmt.Errorf("block %q: %w", state.Blocks[i].Name, err)
		}
		state.Comparisons = append(state.Comparisons, comparison)
	}

	if len(state.Blocks) > n {
		for _, block := range state.Blocks[n:] {
			state.UnscoredBlocks = append(state.UnscoredBlocks, block.Name)
		}
		log.Warn().Strs("unscored", state.UnscoredBlocks).Msg("Blocks without search results were not scored")
	}
	if len(state.SearchResults) > n {
		log.Warn().Int("extra", len(state.SearchResults)-n).Msg("Search results without a block were ignored")
	}

	log.Info().Int("comparisons", len(state.Comparisons)).Msg("Similarity analysis completed")
	return nil
}
