package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

// recorder collects emitted events.
type recorder struct {
	events []stream.Event
	failOn stream.Type
}

func (r *recorder) emit(ev stream.Event) error {
	if r.failOn != "" && ev.Type() == r.failOn {
		return stream.ErrClosed
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []stream.Type {
	out := make([]stream.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type())
	}
	return out
}

func statuses(events []stream.Event) []string {
	var out []string
	for _, ev := range events {
		switch e := ev.(type) {
		case stream.StatusEvent:
			out = append(out, e.Message)
		case stream.WarningEvent:
			out = append(out, "warning: "+e.Message)
		}
	}
	return out
}

func TestStream_AllStagesSucceed(t *testing.T) {
	o := newTestOrchestrator(newFakeGenerator())
	rec := &recorder{}

	out, err := o.Stream(context.Background(), "transcript", rec.emit)
	require.NoError(t, err)
	assert.True(t, out.Complete())

	assert.Equal(t, []stream.Type{
		stream.TypeStatus,
		stream.TypeStatus, stream.TypeSummary,
		stream.TypeStatus, stream.TypeActionItems,
		stream.TypeStatus, stream.TypeTopics,
		stream.TypeStatus,
		stream.TypeComplete,
	}, rec.types())
	assert.Equal(t, []string{
		MsgStarting,
		MsgSummary,
		MsgActionItems,
		MsgTopics,
		MsgAnalysisComplete,
	}, statuses(rec.events))

	summary, ok := rec.events[2].(stream.SummaryEvent)
	require.True(t, ok)
	assert.Equal(t, "Team agreed to ship v2.", summary.Summary.ExecutiveSummary)
}

func TestStream_StageFailureBecomesWarning(t *testing.T) {
	gen := newFakeGenerator()
	gen.replies[analysis.KindTopics] = reply{text: `{"topics":[{"topic":"x"}]}`}
	o := newTestOrchestrator(gen)
	rec := &recorder{}

	out, err := o.Stream(context.Background(), "transcript", rec.emit)
	require.NoError(t, err)
	assert.False(t, out.Complete())
	assert.True(t, dgerrors.IsInvalidAIResponse(out.TopicsErr))

	assert.Equal(t, []string{
		MsgStarting,
		MsgSummary,
		MsgActionItems,
		MsgTopics,
		"warning: " + MsgTopicsFailed,
		MsgAnalysisComplete,
	}, statuses(rec.events))
	assert.Equal(t, stream.TypeComplete, rec.events[len(rec.events)-1].Type())
	assert.NotContains(t, rec.types(), stream.TypeTopics)
}

func TestStream_EveryStageFails(t *testing.T) {
	gen := newFakeGenerator()
	for k := range gen.replies {
		gen.replies[k] = reply{err: errors.New("provider exploded")}
	}
	o := newTestOrchestrator(gen)
	rec := &recorder{}

	_, err := o.Stream(context.Background(), "transcript", rec.emit)
	require.NoError(t, err)
	assert.Equal(t, []string{
		MsgStarting,
		MsgSummary,
		"warning: " + MsgSummaryFailed,
		MsgActionItems,
		"warning: " + MsgActionItemsFailed,
		MsgTopics,
		"warning: " + MsgTopicsFailed,
		MsgAnalysisComplete,
	}, statuses(rec.events))
	assert.Equal(t, 3, gen.callCount())
}

func TestStream_NotConfigured(t *testing.T) {
	gen := newFakeGenerator()
	gen.configured = false
	o := newTestOrchestrator(gen)
	rec := &recorder{}

	out, err := o.Stream(context.Background(), "transcript", rec.emit)
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.ErrorEvent{Message: MsgNotConfigured}}, rec.events)
	assert.Equal(t, 0, gen.callCount())
	assert.True(t, dgerrors.IsAIUnavailable(out.SummaryErr))
	assert.False(t, out.Complete())
}

func TestStream_EmitFailureStopsRun(t *testing.T) {
	gen := newFakeGenerator()
	o := newTestOrchestrator(gen)
	rec := &recorder{failOn: stream.TypeSummary}

	_, err := o.Stream(context.Background(), "transcript", rec.emit)
	assert.ErrorIs(t, err, stream.ErrClosed)
	assert.Equal(t, 1, gen.callCount(), "no stage runs after emission fails")
}

func TestStream_CancelDuringDelay(t *testing.T) {
	gen := newFakeGenerator()
	o := newTestOrchestrator(gen, WithStageDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	emit := func(ev stream.Event) error {
		if ev.Type() == stream.TypeSummary {
			cancel()
		}
		return rec.emit(ev)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Stream(ctx, "transcript", emit)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not stop on cancellation")
	}
	assert.Equal(t, stream.TypeSummary, rec.events[len(rec.events)-1].Type())
	assert.Equal(t, 1, gen.callCount())
}

func TestStream_InFlightCallIsDetached(t *testing.T) {
	gen := newFakeGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var callCtxErr error
	gen.onCall = func(analysis.Kind) {
		cancel()
	}
	o := newTestOrchestrator(gen)

	rec := &recorder{}
	_, err := o.Stream(ctx, "transcript", func(ev stream.Event) error {
		if ev.Type() == stream.TypeSummary {
			callCtxErr = ctx.Err()
		}
		return rec.emit(ev)
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, callCtxErr, context.Canceled)
	assert.Equal(t, stream.TypeSummary, rec.events[len(rec.events)-1].Type(),
		"the in-flight summary call completes and is handed to emit")
	assert.Equal(t, 1, gen.callCount())
}
