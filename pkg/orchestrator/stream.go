package orchestrator

import (
	"context"
	"fmt"
	"time"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

// Messages emitted by Stream.
const (
	MsgNotConfigured     = "OPENROUTER_API_KEY not found - cannot process meeting content"
	MsgStarting          = "Starting AI analysis..."
	MsgSummary           = "Generating executive summary..."
	MsgActionItems       = "Extracting action items..."
	MsgTopics            = "Identifying discussion topics..."
	MsgAnalysisComplete  = "Analysis complete!"
	MsgSummaryFailed     = "Failed to generate summary - continuing with other analysis"
	MsgActionItemsFailed = "Failed to extract action items - continuing with other analysis"
	MsgTopicsFailed      = "Failed to extract topics - continuing with other analysis"
)

// Emitter receives events in production order. A non-nil error stops the run
// and is returned from Stream.
type Emitter func(stream.Event) error

type streamStage struct {
	name    string
	status  string
	warning string
	run     func(context.Context) (stream.Event, error)
}

// Stream runs the stages one after another and emits progress, results and
// warnings. A failed stage emits a warning and the run goes on. The run ends
// with "Analysis complete!" and a complete event.
//
// When the generator is not configured a single error event is emitted and
// every stage in the returned Outcome carries ErrAIUnavailable.
//
// ctx is checked before each stage and during the pause between stages. AI
// calls run detached from ctx, so a call in flight when ctx ends still
// finishes and its result is handed to emit, which is expected to fail.
func (o *Orchestrator) Stream(ctx context.Context, transcript string, emit Emitter) (*Outcome, error) {
	out := &Outcome{}
	logger := o.logger.WithContext(ctx)

	if !o.Configured() {
		unavailable := fmt.Errorf("generator not configured: %w", dgerrors.ErrAIUnavailable)
		out.SummaryErr, out.ActionItemsErr, out.TopicsErr = unavailable, unavailable, unavailable
		logger.Warn("AI provider not configured, skipping analysis")
		return out, emit(stream.ErrorEvent{Message: MsgNotConfigured})
	}

	if err := emit(stream.StatusEvent{Message: MsgStarting}); err != nil {
		return out, err
	}

	stages := []streamStage{
		{
			name:    StageSummary,
			status:  MsgSummary,
			warning: MsgSummaryFailed,
			run: func(c context.Context) (stream.Event, error) {
				out.Summary, out.SummaryErr = o.summary(c, transcript, observability.ModeStream)
				if out.SummaryErr != nil {
					return nil, out.SummaryErr
				}
				return stream.SummaryEvent{Summary: *out.Summary}, nil
			},
		},
		{
			name:    StageActionItems,
			status:  MsgActionItems,
			warning: MsgActionItemsFailed,
			run: func(c context.Context) (stream.Event, error) {
				out.ActionItems, out.ActionItemsErr = o.actionItems(c, transcript, observability.ModeStream)
				if out.ActionItemsErr != nil {
					return nil, out.ActionItemsErr
				}
				return stream.ActionItemsEvent{Items: out.ActionItems}, nil
			},
		},
		{
			name:    StageTopics,
			status:  MsgTopics,
			warning: MsgTopicsFailed,
			run: func(c context.Context) (stream.Event, error) {
				out.Topics, out.TopicsErr = o.topics(c, transcript, observability.ModeStream)
				if out.TopicsErr != nil {
					return nil, out.TopicsErr
				}
				return stream.TopicsEvent{Topics: out.Topics}, nil
			},
		},
	}

	calls := context.WithoutCancel(ctx)
	for i, st := range stages {
		if i > 0 {
			if err := o.pause(ctx); err != nil {
				return out, err
			}
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		if err := emit(stream.StatusEvent{Message: st.status}); err != nil {
			return out, err
		}

		ev, err := st.run(calls)
		if err != nil {
			logger.Warn("Stage failed, continuing with other analysis",
				logging.F("stage", st.name),
				logging.Err(err))
			if err := emit(stream.WarningEvent{Message: st.warning}); err != nil {
				return out, err
			}
			continue
		}
		if err := emit(ev); err != nil {
			return out, err
		}
	}

	if err := emit(stream.StatusEvent{Message: MsgAnalysisComplete}); err != nil {
		return out, err
	}
	return out, emit(stream.CompleteEvent{})
}

func (o *Orchestrator) pause(ctx context.Context) error {
	if o.stageDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.stageDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
