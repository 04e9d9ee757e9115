// Package orchestrator runs the three analysis stages (summary, action items,
// topics) against an AI generator, either concurrently for batch processing
// or one after another while emitting stream events.
//
// The orchestrator never touches meeting state. It returns results and emits
// events; the caller decides what to persist and which status to record.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yf-hk/ai-meeting-digest/pkg/ai"
	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
)

// DefaultStageDelay is the pause between streamed stages.
const DefaultStageDelay = 2 * time.Second

// Stage names used in errors, logs and metrics.
const (
	StageSummary     = string(analysis.KindSummary)
	StageActionItems = string(analysis.KindActionItems)
	StageTopics      = string(analysis.KindTopics)
)

// MsgContentFailed prefixes the error of a failed batch run.
const MsgContentFailed = "Failed to process meeting content"

// StageError is a failure of one analysis stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator sequences analysis stages.
type Orchestrator struct {
	gen         ai.Generator
	temperature float64
	stageDelay  time.Duration
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics records stage outcomes and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the span tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithStageDelay overrides the pause between streamed stages. Zero disables it.
func WithStageDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.stageDelay = d
		}
	}
}

// WithTemperature overrides the sampling temperature sent with every prompt.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) {
		o.temperature = t
	}
}

// New creates an orchestrator around gen.
func New(gen ai.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:         gen,
		temperature: ai.DefaultTemperature,
		stageDelay:  DefaultStageDelay,
		logger:      logging.MustGlobal(),
		tracer:      observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.With(logging.F("component", "orchestrator"))
	return o
}

// Configured reports whether the underlying generator can make calls.
func (o *Orchestrator) Configured() bool {
	return o.gen.Configured()
}

// Result holds the values produced by the stages that succeeded.
type Result struct {
	Summary     *analysis.Summary
	ActionItems []analysis.ActionItem
	Topics      []analysis.Topic
}

// RunSummary generates and validates the meeting summary. ProcessingTime is
// the stage's wall-clock time in whole seconds.
func (o *Orchestrator) RunSummary(ctx context.Context, transcript string) (*analysis.Summary, error) {
	return o.summary(ctx, transcript, observability.ModeBatch)
}

// RunActionItems extracts action items.
func (o *Orchestrator) RunActionItems(ctx context.Context, transcript string) ([]analysis.ActionItem, error) {
	return o.actionItems(ctx, transcript, observability.ModeBatch)
}

// RunTopics extracts discussion topics.
func (o *Orchestrator) RunTopics(ctx context.Context, transcript string) ([]analysis.Topic, error) {
	return o.topics(ctx, transcript, observability.ModeBatch)
}

func (o *Orchestrator) summary(ctx context.Context, transcript, mode string) (*analysis.Summary, error) {
	start := time.Now()
	s, err := runStage(ctx, o, StageSummary, mode, analysis.SummaryPrompt(transcript), analysis.ParseSummary)
	if err != nil {
		return nil, err
	}
	s.ProcessingTime = int(math.Round(time.Since(start).Seconds()))
	return s, nil
}

func (o *Orchestrator) actionItems(ctx context.Context, transcript, mode string) ([]analysis.ActionItem, error) {
	return runStage(ctx, o, StageActionItems, mode, analysis.ActionItemsPrompt(transcript), analysis.ParseActionItems)
}

func (o *Orchestrator) topics(ctx context.Context, transcript, mode string) ([]analysis.Topic, error) {
	return runStage(ctx, o, StageTopics, mode, analysis.TopicsPrompt(transcript), analysis.ParseTopics)
}

// runStage sends prompt and parses the answer, recording a span and metrics
// for the stage.
func runStage[T any](ctx context.Context, o *Orchestrator, stage, mode, prompt string, parse func(string) (T, error)) (T, error) {
	var zero T

	ctx, span := o.tracer.StartStageSpan(ctx, stage)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	start := time.Now()
	value, err := generateAndParse(ctx, o, prompt, parse)
	elapsed := time.Since(start)

	if err != nil {
		pe := dgerrors.ClassifyError(err, stage)
		helper.SetError(err, string(pe.Code), dgerrors.IsRetryable(pe.Code))
		helper.SetOutcome(observability.OutcomeFailed)
		o.metrics.RecordStage(stage, mode, observability.OutcomeFailed, elapsed.Seconds())
		o.logger.WithContext(ctx).Warn("Analysis stage failed",
			logging.F("stage", stage),
			logging.F("mode", mode),
			logging.F("error_code", string(pe.Code)),
			logging.F("duration_ms", elapsed.Milliseconds()),
			logging.Err(err))
		return zero, err
	}

	helper.SetOutcome(observability.OutcomeSuccess)
	helper.SetSuccess()
	o.metrics.RecordStage(stage, mode, observability.OutcomeSuccess, elapsed.Seconds())
	o.logger.WithContext(ctx).Debug("Analysis stage completed",
		logging.F("stage", stage),
		logging.F("mode", mode),
		logging.F("duration_ms", elapsed.Milliseconds()))
	return value, nil
}

func generateAndParse[T any](ctx context.Context, o *Orchestrator, prompt string, parse func(string) (T, error)) (T, error) {
	var zero T
	raw, err := o.gen.Generate(ctx, prompt, o.temperature)
	if err != nil {
		return zero, err
	}
	return parse(raw)
}

// RunAll runs the three stages concurrently and fails if any of them fails.
// The error names the failed stage and wraps its cause.
func (o *Orchestrator) RunAll(ctx context.Context, transcript string) (*Result, error) {
	var res Result
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := o.summary(gctx, transcript, observability.ModeBatch)
		if err != nil {
			return &StageError{Stage: StageSummary, Err: err}
		}
		res.Summary = s
		return nil
	})
	g.Go(func() error {
		items, err := o.actionItems(gctx, transcript, observability.ModeBatch)
		if err != nil {
			return &StageError{Stage: StageActionItems, Err: err}
		}
		res.ActionItems = items
		return nil
	})
	g.Go(func() error {
		topics, err := o.topics(gctx, transcript, observability.ModeBatch)
		if err != nil {
			return &StageError{Stage: StageTopics, Err: err}
		}
		res.Topics = topics
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", MsgContentFailed, err)
	}
	return &res, nil
}

// Outcome reports every stage individually.
type Outcome struct {
	Result
	SummaryErr     error
	ActionItemsErr error
	TopicsErr      error
}

// Complete reports whether all three stages succeeded.
func (o *Outcome) Complete() bool {
	return o.SummaryErr == nil && o.ActionItemsErr == nil && o.TopicsErr == nil
}

// Err returns the first stage error in stage order, or nil.
func (o *Outcome) Err() error {
	switch {
	case o.SummaryErr != nil:
		return &StageError{Stage: StageSummary, Err: o.SummaryErr}
	case o.ActionItemsErr != nil:
		return &StageError{Stage: StageActionItems, Err: o.ActionItemsErr}
	case o.TopicsErr != nil:
		return &StageError{Stage: StageTopics, Err: o.TopicsErr}
	}
	return nil
}

// RunAllBestEffort runs the three stages concurrently and reports each one's
// result or error without failing as a whole.
func (o *Orchestrator) RunAllBestEffort(ctx context.Context, transcript string) *Outcome {
	var out Outcome
	var g errgroup.Group

	g.Go(func() error {
		out.Summary, out.SummaryErr = o.summary(ctx, transcript, observability.ModeBatch)
		return nil
	})
	g.Go(func() error {
		out.ActionItems, out.ActionItemsErr = o.actionItems(ctx, transcript, observability.ModeBatch)
		return nil
	})
	g.Go(func() error {
		out.Topics, out.TopicsErr = o.topics(ctx, transcript, observability.ModeBatch)
		return nil
	})
	_ = g.Wait()

	return &out
}
