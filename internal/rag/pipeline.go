package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/knoguchi/cyberrag/internal/memory"
)

// Pipeline defaults.
const (
	DefaultHistoryTurns = 5
	DefaultStageTimeout = 2 * time.Minute
)

// PassageRetriever produces the ranked passages for a standalone query.
type PassageRetriever interface {
	Retrieve(ctx context.Context, query string) ([]ScoredPassage, error)
}

// PassageRetrieverFunc adapts a function to PassageRetriever.
type PassageRetrieverFunc func(ctx context.Context, query string) ([]ScoredPassage, error)

// Retrieve calls f.
func (f PassageRetrieverFunc) Retrieve(ctx context.Context, query string) ([]ScoredPassage, error) {
	return f(ctx, query)
}

var _ PassageRetriever = (*Retriever)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHistoryTurns bounds how many prior turns reach the rewriter.
// 0 disables history.
func WithHistoryTurns(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.historyTurns = n
		}
	}
}

// WithStageTimeout bounds each stage's external call.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stageTimeout = d
		}
	}
}

// WithLogger sets the logger used for run and stage events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline runs one question through rewrite, retrieve, assemble and
// generate. A Pipeline holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	rewriter     *Rewriter
	retriever    PassageRetriever
	generator    Completer
	historyTurns int
	stageTimeout time.Duration
	tracer       trace.Tracer
	logger       *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(rewriter *Rewriter, retriever PassageRetriever, generator Completer, opts ...Option) *Pipeline {
	p := &Pipeline{
		rewriter:     rewriter,
		retriever:    retriever,
		generator:    generator,
		historyTurns: DefaultHistoryTurns,
		stageTimeout: DefaultStageTimeout,
		tracer:       otel.Tracer("cyberrag.rag.pipeline"),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// stageFunc performs one stage's work and returns the next State.
type stageFunc func(ctx context.Context, st State) (State, error)

type stage struct {
	stage Stage
	kind  error
	run   stageFunc
}

var (
	errStagePanic = errors.New("stage panicked")
	errBlankQuery = errors.New("query is blank")
)

// Run executes the pipeline and returns the final State, which is either
// DONE or FAILED. Run does not return errors; a FAILED state carries a
// *StageError.
//
// Cancellation of ctx is observed between stages. A stage that has started
// runs to completion or until the stage timeout.
func (p *Pipeline) Run(ctx context.Context, query string, history []memory.Turn) State {
	start := time.Now()
	st := State{
		RunID:         uuid.NewString(),
		Stage:         StageStart,
		OriginalQuery: query,
		History:       memory.Recent(history, p.historyTurns),
	}
	logger := p.logger.With("run_id", st.RunID)

	ctx, span := p.tracer.Start(ctx, "cyberrag.rag.pipeline", trace.WithAttributes(
		attribute.String("run_id", st.RunID),
		attribute.Int("history_turns", len(st.History)),
	))
	defer span.End()

	stages := []stage{
		{StageRewriting, ErrGeneration, p.rewrite},
		{StageRetrieving, ErrRetrieval, p.retrieve},
		{StageAssembling, ErrInternal, p.assemble},
		{StageGenerating, ErrGeneration, p.generate},
	}
	// Nothing to rewrite or search for.
	if strings.TrimSpace(query) == "" {
		st = p.fail(st, StageRewriting, ErrEmptyQuery, errBlankQuery)
		stages = nil
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			st = p.fail(st, s.stage, ErrCanceled, err)
			break
		}

		st.Stage = s.stage
		logger.Debug("entering stage", "stage", s.stage.String())

		next, err := p.runStage(ctx, s, st)
		if err != nil {
			kind := s.kind
			if errors.Is(err, errStagePanic) {
				kind = ErrInternal
			}
			st = p.fail(st, s.stage, kind, err)
			break
		}
		st = next
	}

	if st.Stage != StageFailed {
		st.Stage = StageDone
	}

	span.SetAttributes(
		attribute.String("stage", st.Stage.String()),
		attribute.Int("passages", len(st.RankedPassages)),
	)
	if st.Failure != nil {
		span.RecordError(st.Failure)
		span.SetStatus(codes.Error, st.Failure.Error())
		logger.Error("pipeline run failed",
			"stage", st.Failure.Stage.String(),
			"error", st.Failure.Err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		logger.Info("pipeline run completed",
			"rewritten", st.RewrittenQuery != st.OriginalQuery,
			"passages", len(st.RankedPassages),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return st
}

// runStage runs s with a context that ignores caller cancellation but is
// bounded by the stage timeout. Panics become errors.
func (p *Pipeline) runStage(ctx context.Context, s stage, st State) (next State, err error) {
	stageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.stageTimeout)
	defer cancel()

	stageCtx, span := p.tracer.Start(stageCtx, "cyberrag.rag.stage", trace.WithAttributes(
		attribute.String("stage", s.stage.String()),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errStagePanic, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			next.Durations[s.stage] = time.Since(start)
		}
		span.End()
	}()

	return s.run(stageCtx, st)
}

func (p *Pipeline) fail(st State, at Stage, kind, err error) State {
	st.Stage = StageFailed
	st.Failure = &StageError{Stage: at, Kind: kind, Err: err}
	return st
}

func (p *Pipeline) rewrite(ctx context.Context, st State) (State, error) {
	rewritten, err := p.rewriter.Rewrite(ctx, st.OriginalQuery, memory.FormatForPrompt(st.History))
	if err != nil {
		return st, fmt.Errorf("rewriting query: %w", err)
	}
	st.RewrittenQuery = rewritten
	return st, nil
}

func (p *Pipeline) retrieve(ctx context.Context, st State) (State, error) {
	passages, err := p.retriever.Retrieve(ctx, st.RewrittenQuery)
	if err != nil {
		return st, err
	}
	st.RankedPassages = passages
	return st, nil
}

func (p *Pipeline) assemble(_ context.Context, st State) (State, error) {
	st.AssembledContext = Assemble(st.RankedPassages)
	return st, nil
}

func (p *Pipeline) generate(ctx context.Context, st State) (State, error) {
	answer, err := p.generator.Complete(ctx, buildAnswerPrompt(st.AssembledContext, st.RewrittenQuery))
	if err != nil {
		return st, fmt.Errorf("generating answer: %w", err)
	}
	st.Answer = answer
	return st, nil
}
