package meeting

import (
	"context"
	"errors"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

// ProcessStream starts a streaming run and returns the channel its events
// arrive on. The run happens in its own goroutine; closing the channel
// cancels it and marks the meeting FAILED.
//
// Every stream ends with exactly one terminal event. Analysis payloads are
// persisted before they are relayed, and COMPLETED is written before the
// final complete event.
func (p *Processor) ProcessStream(ctx context.Context, meetingID, userID string) *stream.Channel {
	ch := stream.NewChannel()
	go p.runStream(ctx, ch, meetingID, userID)
	return ch
}

// streamRun relays one run's events onto a channel.
type streamRun struct {
	*run
	ch     *stream.Channel
	seq    int
	stages int
}

func (p *Processor) runStream(parent context.Context, ch *stream.Channel, meetingID, userID string) {
	defer ch.Finish()

	ctx, cancel := ch.Bind(parent)
	defer cancel()

	r := p.startRun(ctx, meetingID, userID, observability.ModeStream)
	s := &streamRun{run: r, ch: ch}
	ctx = r.ctx

	lock, err := p.locker.Acquire(ctx, meetingID)
	if err != nil {
		s.fail(err)
		return
	}
	defer p.release(ctx, lock)

	outcome, err := s.execute(ctx)
	if err != nil {
		s.fail(err)
		return
	}
	r.finish(outcome, nil)
}

func (s *streamRun) execute(ctx context.Context) (string, error) {
	p := s.p

	m, err := p.begin(ctx, s.run)
	if err != nil {
		return "", err
	}
	if err := s.send(ctx, stream.StatusEvent{Message: MsgReadingFiles}); err != nil {
		return "", err
	}

	f := m.Files[0]
	if err := s.gate(f); err != nil {
		return "", err
	}
	if err := s.send(ctx, stream.StatusEvent{Message: MsgProcessingPasted}); err != nil {
		return "", err
	}

	t, _, err := p.loadTranscript(ctx, s.run, f)
	if err != nil {
		return "", err
	}
	if err := s.send(ctx, stream.TranscriptEvent{Transcript: *t}); err != nil {
		return "", err
	}

	out, err := p.orch.Stream(ctx, t.Content, func(ev stream.Event) error {
		return s.relay(ctx, ev)
	})
	if err != nil {
		return "", err
	}

	if out.Complete() {
		return observability.OutcomeSuccess, nil
	}
	return observability.OutcomeWarning, nil
}

// relay persists analysis payloads, records status on terminal events and
// forwards ev to the consumer.
func (s *streamRun) relay(ctx context.Context, ev stream.Event) error {
	p := s.p

	// A result that arrives after the consumer left is discarded unsaved.
	if err := s.abandoned(ctx); err != nil {
		return err
	}

	switch e := ev.(type) {
	case stream.SummaryEvent:
		if _, err := p.saveSummary(ctx, s.run, &e.Summary); err != nil {
			return err
		}
		s.stages++
	case stream.ActionItemsEvent:
		if _, err := p.saveActionItems(ctx, s.run, e.Items); err != nil {
			return err
		}
		s.stages++
	case stream.TopicsEvent:
		if _, err := p.saveTopics(ctx, s.run, e.Topics); err != nil {
			return err
		}
		s.stages++
	case stream.WarningEvent:
		s.warnings = append(s.warnings, e.Message)
	case stream.ErrorEvent:
		// The analysis could not start; the transcript is saved, so the
		// meeting is still usable.
		s.warnings = append(s.warnings, e.Message)
		if err := s.setStatus(model.StatusCompleted, false, e.Message); err != nil {
			return err
		}
	case stream.CompleteEvent:
		if err := s.setStatus(model.StatusCompleted, s.stages == 3, ""); err != nil {
			return err
		}
	}

	return s.send(ctx, ev)
}

func (s *streamRun) abandoned(ctx context.Context) error {
	select {
	case <-s.ch.Done():
		return stream.ErrClosed
	default:
	}
	return ctx.Err()
}

func (s *streamRun) send(ctx context.Context, ev stream.Event) error {
	if err := s.ch.Send(ctx, ev); err != nil {
		return err
	}
	s.p.metrics.RecordStreamEvent(string(ev.Type()))

	if err := s.p.events.StreamEvent(context.WithoutCancel(ctx), s.meetingID, s.id, s.seq, ev); err != nil {
		s.logger.Warn("Failed to mirror stream event", logging.Err(err))
	}
	s.seq++
	return nil
}

// fail ends the run after err. A consumer that went away marks the meeting
// FAILED so it can be retried. Precondition failures end the stream with
// their own message; anything else marks the meeting FAILED and ends the
// stream with the generic message.
func (s *streamRun) fail(err error) {
	ctx := context.WithoutCancel(s.ctx)

	if cancelled(s.ctx, err) {
		if s.status == model.StatusProcessing {
			if serr := s.setStatus(model.StatusFailed, false, "stream cancelled"); serr != nil {
				s.logger.Error("Failed to mark cancelled run as failed", logging.Err(serr))
			}
		}
		s.finish(observability.OutcomeCancelled, err)
		return
	}

	if !dgerrors.IsPrecondition(err) && s.status != model.StatusFailed {
		if serr := s.setStatus(model.StatusFailed, false, err.Error()); serr != nil {
			err = errors.Join(err, serr)
		}
	}

	if serr := s.send(ctx, stream.ErrorEvent{Message: UserMessage(err)}); serr != nil {
		s.logger.Debug("Could not deliver error event", logging.Err(serr))
	}
	s.finish(outcomeFor(err), err)
}

func cancelled(ctx context.Context, err error) bool {
	return errors.Is(err, stream.ErrClosed) || ctx.Err() != nil
}
