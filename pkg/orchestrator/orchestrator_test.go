package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
)

const (
	summaryJSON     = `{"executiveSummary":"Team agreed to ship v2.","keyPoints":["ship v2"],"decisions":[{"decision":"ship","rationale":"ready","owner":"Ana"}],"nextSteps":["tag release"]}`
	actionItemsJSON = "```json\n" + `{"actionItems":[{"description":"Tag the release","assignee":"Ana","priority":"HIGH","dueDate":"2024-06-07"}]}` + "\n```"
	topicsJSON      = `{"topics":[{"topic":"Release","sentimentScore":0.6,"importanceScore":0.9,"startTime":0,"duration":120}]}`
)

type reply struct {
	text string
	err  error
}

// fakeGenerator answers by stage, recognised from the prompt's opening line.
type fakeGenerator struct {
	configured bool
	replies    map[analysis.Kind]reply

	mu    sync.Mutex
	calls []analysis.Kind
	// onCall runs before a reply is returned.
	onCall func(analysis.Kind)
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		configured: true,
		replies: map[analysis.Kind]reply{
			analysis.KindSummary:     {text: summaryJSON},
			analysis.KindActionItems: {text: actionItemsJSON},
			analysis.KindTopics:      {text: topicsJSON},
		},
	}
}

func kindOf(prompt string) analysis.Kind {
	switch {
	case strings.HasPrefix(prompt, "Analyze this meeting transcript"):
		return analysis.KindSummary
	case strings.HasPrefix(prompt, "Extract action items"):
		return analysis.KindActionItems
	default:
		return analysis.KindTopics
	}
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ float64) (string, error) {
	if !f.configured {
		return "", dgerrors.ErrAIUnavailable
	}
	kind := kindOf(prompt)

	f.mu.Lock()
	f.calls = append(f.calls, kind)
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(kind)
	}
	r := f.replies[kind]
	return r.text, r.err
}

func (f *fakeGenerator) Configured() bool { return f.configured }

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestOrchestrator(gen *fakeGenerator, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(logging.NewNopLogger()), WithStageDelay(0)}, opts...)
	return New(gen, opts...)
}

func TestRunSummary(t *testing.T) {
	o := newTestOrchestrator(newFakeGenerator())

	s, err := o.RunSummary(context.Background(), "Ana: ship it")
	require.NoError(t, err)
	assert.Equal(t, "Team agreed to ship v2.", s.ExecutiveSummary)
	assert.Equal(t, []model.Decision{{Decision: "ship", Rationale: "ready", Owner: "Ana"}}, s.Decisions)
	assert.Equal(t, 0, s.ProcessingTime)
}

func TestRunActionItems_StripsFences(t *testing.T) {
	o := newTestOrchestrator(newFakeGenerator())

	items, err := o.RunActionItems(context.Background(), "transcript")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.PriorityHigh, items[0].Priority)
	assert.Equal(t, "2024-06-07", items[0].DueDate)
}

func TestRunTopics_InvalidResponse(t *testing.T) {
	gen := newFakeGenerator()
	gen.replies[analysis.KindTopics] = reply{text: "not json"}
	o := newTestOrchestrator(gen)

	_, err := o.RunTopics(context.Background(), "transcript")
	require.Error(t, err)
	assert.True(t, dgerrors.IsInvalidAIResponse(err))

	var ire *analysis.InvalidResponseError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "not json", ire.Raw)
}

func TestRunAll(t *testing.T) {
	t.Run("all stages succeed", func(t *testing.T) {
		gen := newFakeGenerator()
		o := newTestOrchestrator(gen)

		res, err := o.RunAll(context.Background(), "transcript")
		require.NoError(t, err)
		require.NotNil(t, res.Summary)
		assert.Len(t, res.ActionItems, 1)
		assert.Len(t, res.Topics, 1)
		assert.Equal(t, 3, gen.callCount())
	})

	t.Run("topics failure fails the run", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.replies[analysis.KindTopics] = reply{text: `{"topics":[{"topic":"x","sentimentScore":3,"importanceScore":0.5}]}`}
		o := newTestOrchestrator(gen)

		res, err := o.RunAll(context.Background(), "transcript")
		require.Error(t, err)
		assert.Nil(t, res)
		assert.True(t, strings.HasPrefix(err.Error(), "Failed to process meeting content: topics: "), err.Error())
		assert.True(t, dgerrors.IsInvalidAIResponse(err))
	})

	t.Run("unconfigured generator", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.configured = false
		o := newTestOrchestrator(gen)

		_, err := o.RunAll(context.Background(), "transcript")
		assert.True(t, dgerrors.IsAIUnavailable(err))
	})

	t.Run("rate limited upstream", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.replies[analysis.KindSummary] = reply{err: dgerrors.ErrUpstreamRateLimited}
		o := newTestOrchestrator(gen)

		_, err := o.RunAll(context.Background(), "transcript")
		assert.True(t, dgerrors.IsUpstreamRateLimited(err))
		assert.Contains(t, err.Error(), "summary: ")
	})
}

func TestRunAllBestEffort(t *testing.T) {
	gen := newFakeGenerator()
	boom := errors.New("connection refused")
	gen.replies[analysis.KindTopics] = reply{err: boom}
	o := newTestOrchestrator(gen)

	out := o.RunAllBestEffort(context.Background(), "transcript")
	assert.False(t, out.Complete())
	assert.NoError(t, out.SummaryErr)
	assert.NoError(t, out.ActionItemsErr)
	assert.ErrorIs(t, out.TopicsErr, boom)
	assert.NotNil(t, out.Summary)
	assert.Len(t, out.ActionItems, 1)
	assert.Nil(t, out.Topics)
	assert.EqualError(t, out.Err(), "topics: connection refused")
}

func TestRunAll_RecordsStageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	gen := newFakeGenerator()
	gen.replies[analysis.KindActionItems] = reply{text: "{}"}
	o := newTestOrchestrator(gen, WithMetrics(m))

	out := o.RunAllBestEffort(context.Background(), "transcript")
	require.Error(t, out.ActionItemsErr)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageOutcomesTotal.WithLabelValues(StageSummary, observability.ModeBatch, observability.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageOutcomesTotal.WithLabelValues(StageActionItems, observability.ModeBatch, observability.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageOutcomesTotal.WithLabelValues(StageTopics, observability.ModeBatch, observability.OutcomeSuccess)))
}
