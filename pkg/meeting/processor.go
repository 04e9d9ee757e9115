// Package meeting drives a meeting through processing: ownership and file
// checks, transcript persistence, AI analysis, result persistence and the
// status transitions around them. It is the only writer of Meeting.Status.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/events"
	"github.com/yf-hk/ai-meeting-digest/pkg/locks"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
	"github.com/yf-hk/ai-meeting-digest/pkg/orchestrator"
	"github.com/yf-hk/ai-meeting-digest/pkg/runlog"
	"github.com/yf-hk/ai-meeting-digest/pkg/transcript"
)

// User-facing messages.
const (
	MsgReadingFiles       = "Reading uploaded files..."
	MsgProcessingPasted   = "Processing pasted transcript..."
	MsgMediaNotSupported  = "Audio/video transcription not supported - please upload a text transcript instead"
	MsgProcessingFailed   = "Failed to process meeting"
	MsgNotFound           = "Meeting not found or access denied"
	MsgNoFiles            = "No files uploaded for this meeting"
	MsgProcessingInFlight = "Meeting is already being processed"
)

// Store is the persistence the processor needs.
type Store interface {
	// GetMeetingForUser loads a meeting with its files ordered by upload
	// time. It returns an error matching ErrNotFoundOrForbidden when the
	// meeting does not exist or belongs to another user.
	GetMeetingForUser(ctx context.Context, meetingID, userID string) (*model.Meeting, error)
	UpdateMeetingStatus(ctx context.Context, meetingID string, status model.Status, analysisComplete bool) error
	CreateTranscript(ctx context.Context, t *model.Transcript) error
	CreateSummary(ctx context.Context, s *model.Summary) error
	CreateActionItem(ctx context.Context, item *model.ActionItem) error
	CreateTopic(ctx context.Context, topic *model.Topic) error
}

// Result is the aggregate returned by a batch run.
type Result struct {
	Meeting     *model.Meeting     `json:"meeting"`
	Transcript  *model.Transcript  `json:"transcript"`
	Summary     *model.Summary     `json:"summary"`
	ActionItems []model.ActionItem `json:"actionItems"`
	Topics      []model.Topic      `json:"topics"`
	Stats       transcript.Stats   `json:"stats"`
	// Warnings lists the stages a best-effort run had to skip.
	Warnings []string `json:"warnings,omitempty"`
}

// Processor runs meetings through analysis.
type Processor struct {
	store   Store
	orch    *orchestrator.Orchestrator
	files   transcript.Source
	locker  locks.Locker
	events  events.Emitter
	runlog  runlog.Recorder
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time
}

// Option configures the processor.
type Option func(*Processor)

// WithLocker sets the per-meeting lock. The default is an in-process lock.
func WithLocker(l locks.Locker) Option {
	return func(p *Processor) {
		p.locker = l
	}
}

// WithEvents publishes status changes and stream events.
func WithEvents(e events.Emitter) Option {
	return func(p *Processor) {
		p.events = e
	}
}

// WithRunLog records every finished run.
func WithRunLog(r runlog.Recorder) Option {
	return func(p *Processor) {
		p.runlog = r
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithTracer sets the span tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Processor) {
		p.tracer = t
	}
}

// New creates a processor.
func New(store Store, orch *orchestrator.Orchestrator, files transcript.Source, opts ...Option) *Processor {
	p := &Processor{
		store:  store,
		orch:   orch,
		files:  files,
		locker: locks.NewLocal(),
		events: events.Noop{},
		runlog: runlog.Noop{},
		logger: logging.MustGlobal(),
		tracer: observability.NewTracer(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(logging.F("component", "meeting_processor"))
	return p
}

// Process runs the whole pipeline and returns once results are persisted.
// Any AI or persistence failure marks the meeting FAILED; the transcript is
// kept. Precondition failures leave the status untouched, except the media
// type check which marks the meeting FAILED.
func (p *Processor) Process(ctx context.Context, meetingID, userID string) (*Result, error) {
	return p.runBatch(ctx, meetingID, userID, false)
}

// ProcessBestEffort is Process with per-stage degradation: the three stages
// still run concurrently, but a failed stage becomes a warning and the
// meeting ends COMPLETED with analysisComplete set only when every stage
// succeeded.
func (p *Processor) ProcessBestEffort(ctx context.Context, meetingID, userID string) (*Result, error) {
	return p.runBatch(ctx, meetingID, userID, true)
}

func (p *Processor) runBatch(ctx context.Context, meetingID, userID string, bestEffort bool) (*Result, error) {
	r := p.startRun(ctx, meetingID, userID, observability.ModeBatch)
	ctx = r.ctx

	lock, err := p.locker.Acquire(ctx, meetingID)
	if err != nil {
		r.finish(outcomeFor(err), err)
		return nil, err
	}
	defer p.release(ctx, lock)

	res, err := p.process(ctx, r, bestEffort)
	if err != nil {
		if !dgerrors.IsPrecondition(err) && r.status == model.StatusProcessing {
			if serr := r.setStatus(model.StatusFailed, false, err.Error()); serr != nil {
				err = errors.Join(err, serr)
			}
		}
		r.finish(outcomeFor(err), err)
		return nil, err
	}

	outcome := observability.OutcomeSuccess
	if len(res.Warnings) > 0 {
		outcome = observability.OutcomeWarning
	}
	r.finish(outcome, nil)
	return res, nil
}

func (p *Processor) process(ctx context.Context, r *run, bestEffort bool) (*Result, error) {
	m, err := p.begin(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := r.gate(m.Files[0]); err != nil {
		return nil, err
	}

	t, stats, err := p.loadTranscript(ctx, r, m.Files[0])
	if err != nil {
		return nil, err
	}

	res := &Result{Meeting: m, Transcript: t, Stats: stats}
	analysed, err := p.analyse(ctx, r, t.Content, bestEffort)
	if err != nil {
		return nil, err
	}
	res.Warnings = r.warnings
	complete := len(r.warnings) == 0

	if res.Summary, err = p.saveSummary(ctx, r, analysed.Summary); err != nil {
		return nil, err
	}
	if res.ActionItems, err = p.saveActionItems(ctx, r, analysed.ActionItems); err != nil {
		return nil, err
	}
	if res.Topics, err = p.saveTopics(ctx, r, analysed.Topics); err != nil {
		return nil, err
	}

	if err := r.setStatus(model.StatusCompleted, complete, ""); err != nil {
		return nil, err
	}
	m.Status = model.StatusCompleted
	m.AnalysisComplete = complete
	return res, nil
}

// analyse runs the three stages. In best-effort mode each failed stage is
// recorded on r as a warning instead of failing the run.
func (p *Processor) analyse(ctx context.Context, r *run, content string, bestEffort bool) (*orchestrator.Result, error) {
	if !bestEffort {
		return p.orch.RunAll(ctx, content)
	}

	out := p.orch.RunAllBestEffort(ctx, content)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stages := []struct {
		err     error
		warning string
	}{
		{out.SummaryErr, orchestrator.MsgSummaryFailed},
		{out.ActionItemsErr, orchestrator.MsgActionItemsFailed},
		{out.TopicsErr, orchestrator.MsgTopicsFailed},
	}
	for _, st := range stages {
		if st.err != nil {
			r.logger.Warn("Stage failed, continuing with other analysis", logging.Err(st.err))
			r.warnings = append(r.warnings, st.warning)
		}
	}
	return &out.Result, nil
}

// begin loads the meeting, checks it has files and marks it PROCESSING.
func (p *Processor) begin(ctx context.Context, r *run) (*model.Meeting, error) {
	m, err := p.store.GetMeetingForUser(ctx, r.meetingID, r.userID)
	if err != nil {
		if dgerrors.IsNotFoundOrForbidden(err) {
			return nil, err
		}
		return nil, persistence("load meeting", err)
	}
	if m == nil {
		return nil, fmt.Errorf("meeting %s: %w", r.meetingID, dgerrors.ErrNotFoundOrForbidden)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("meeting %s: %w", r.meetingID, dgerrors.ErrNoFilesUploaded)
	}

	if err := r.setStatus(model.StatusProcessing, false, ""); err != nil {
		return nil, err
	}
	m.Status = model.StatusProcessing
	m.AnalysisComplete = false
	return m, nil
}

// loadTranscript reads the file, decodes it and stores the transcript before
// any AI call is made.
func (p *Processor) loadTranscript(ctx context.Context, r *run, f model.MeetingFile) (*model.Transcript, transcript.Stats, error) {
	data, err := p.files.ReadFile(ctx, f.FilePath)
	if err != nil {
		return nil, transcript.Stats{}, fmt.Errorf("read %s: %w", f.FileName, err)
	}
	content, err := transcript.Decode(data, f.FileType)
	if err != nil {
		return nil, transcript.Stats{}, fmt.Errorf("decode %s: %w", f.FileName, err)
	}
	if transcript.IsVTT(content) {
		content = transcript.FromVTT(content)
		r.logger.Debug("Converted WebVTT captions", logging.F("file_name", f.FileName))
	}

	stats := transcript.Analyze(content)
	r.logger.Info("Transcript loaded",
		logging.F("file_name", f.FileName),
		logging.F("bytes", len(data)),
		logging.F("words", stats.Words),
		logging.F("speakers", len(stats.Speakers)),
		logging.F("duration_seconds", stats.DurationSeconds))

	t := &model.Transcript{
		ID:              uuid.NewString(),
		MeetingID:       r.meetingID,
		Content:         content,
		ConfidenceScore: 1.0,
		ProcessingTime:  0,
		CreatedAt:       p.now(),
	}
	if err := p.store.CreateTranscript(ctx, t); err != nil {
		return nil, stats, persistence("save transcript", err)
	}
	return t, stats, nil
}

func (p *Processor) saveSummary(ctx context.Context, r *run, s *analysis.Summary) (*model.Summary, error) {
	if s == nil {
		return nil, nil
	}
	ms := toSummary(r.meetingID, s, p.now())
	if err := p.store.CreateSummary(ctx, ms); err != nil {
		return nil, persistence("save summary", err)
	}
	return ms, nil
}

func (p *Processor) saveActionItems(ctx context.Context, r *run, items []analysis.ActionItem) ([]model.ActionItem, error) {
	out := make([]model.ActionItem, 0, len(items))
	for _, item := range items {
		mi := toActionItem(r.meetingID, item, p.now(), r.logger)
		if err := p.store.CreateActionItem(ctx, &mi); err != nil {
			return nil, persistence("save action item", err)
		}
		out = append(out, mi)
	}
	return out, nil
}

func (p *Processor) saveTopics(ctx context.Context, r *run, topics []analysis.Topic) ([]model.Topic, error) {
	out := make([]model.Topic, 0, len(topics))
	for _, topic := range topics {
		mt := toTopic(r.meetingID, topic, p.now())
		if err := p.store.CreateTopic(ctx, &mt); err != nil {
			return nil, persistence("save topic", err)
		}
		out = append(out, mt)
	}
	return out, nil
}

func (p *Processor) release(ctx context.Context, lock locks.Lock) {
	if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("Failed to release meeting lock", logging.Err(err))
	}
}

func persistence(op string, err error) error {
	if dgerrors.IsPersistence(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, dgerrors.ErrPersistence, err)
}

// UserMessage is the text shown to a caller for a failed run.
func UserMessage(err error) string {
	switch {
	case dgerrors.IsNotFoundOrForbidden(err):
		return MsgNotFound
	case dgerrors.IsNoFilesUploaded(err):
		return MsgNoFiles
	case dgerrors.IsUnsupportedMediaType(err):
		return MsgMediaNotSupported
	case dgerrors.IsProcessingInProgress(err):
		return MsgProcessingInFlight
	}

	var se *orchestrator.StageError
	if errors.As(err, &se) {
		if reason := stageReason(se); reason != "" {
			return orchestrator.MsgContentFailed + ": " + se.Stage + ": " + reason
		}
	}
	return MsgProcessingFailed
}

// stageReason describes an AI failure without the model's raw output.
func stageReason(se *orchestrator.StageError) string {
	switch {
	case dgerrors.IsInvalidAIResponse(se):
		return "AI returned invalid " + strings.ReplaceAll(se.Stage, "_", " ") + " format"
	case dgerrors.IsUpstreamRateLimited(se):
		return "AI service rate limited"
	case dgerrors.IsAIUnavailable(se):
		return "AI service unavailable"
	default:
		return ""
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case dgerrors.IsPrecondition(err):
		return observability.OutcomeRejected
	case errors.Is(err, context.Canceled):
		return observability.OutcomeCancelled
	default:
		return observability.OutcomeFailed
	}
}

// run tracks one processing run for status writes, logs and the run log.
type run struct {
	p         *Processor
	ctx       context.Context
	span      trace.Span
	logger    logging.Logger
	id        string
	meetingID string
	userID    string
	mode      string
	start     time.Time

	status           model.Status
	analysisComplete bool
	warnings         []string
}

func (p *Processor) startRun(ctx context.Context, meetingID, userID, mode string) *run {
	id := uuid.NewString()
	ctx = logging.WithMeetingID(logging.WithUserID(ctx, userID), meetingID)
	ctx, span := p.tracer.StartRunSpan(ctx, meetingID, mode)

	p.metrics.RunStarted(mode)
	r := &run{
		p:         p,
		ctx:       ctx,
		span:      span,
		id:        id,
		meetingID: meetingID,
		userID:    userID,
		mode:      mode,
		start:     time.Now(),
		logger: p.logger.WithContext(ctx).With(
			logging.F("run_id", id),
			logging.F("mode", mode)),
	}
	r.logger.Info("Processing started")
	return r
}

// setStatus writes the meeting status. The write is detached from
// cancellation so a run abandoned by its caller is still recorded.
func (r *run) setStatus(status model.Status, analysisComplete bool, reason string) error {
	ctx := context.WithoutCancel(r.ctx)
	if err := r.p.store.UpdateMeetingStatus(ctx, r.meetingID, status, analysisComplete); err != nil {
		return persistence("update status to "+string(status), err)
	}
	r.status = status
	r.analysisComplete = analysisComplete

	r.logger.Info("Meeting status changed",
		logging.F("status", string(status)),
		logging.F("analysis_complete", analysisComplete))

	change := events.StatusChange{
		MeetingID:        r.meetingID,
		UserID:           r.userID,
		RunID:            r.id,
		TraceID:          observability.GetTraceID(r.ctx),
		Status:           status,
		AnalysisComplete: analysisComplete,
		Reason:           reason,
	}
	if err := r.p.events.StatusChanged(ctx, change); err != nil {
		r.logger.Warn("Failed to publish status change", logging.Err(err))
	}
	return nil
}

// gate rejects anything but a text transcript and marks the meeting
// FAILED when it does.
func (r *run) gate(f model.MeetingFile) error {
	if f.IsTextTranscript() {
		return nil
	}
	r.logger.Warn("Unsupported file type",
		logging.F("file_name", f.FileName),
		logging.F("file_type", f.FileType))

	err := fmt.Errorf("%s: %w", MsgMediaNotSupported, dgerrors.ErrUnsupportedMediaType)
	if serr := r.setStatus(model.StatusFailed, false, MsgMediaNotSupported); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

func (r *run) finish(outcome string, err error) {
	defer r.span.End()

	elapsed := time.Since(r.start)
	r.p.metrics.RunFinished(r.mode, outcome, elapsed.Seconds())

	helper := observability.NewSpanHelper(r.span)
	helper.SetOutcome(outcome)
	entry := &runlog.Entry{
		RunID:      r.id,
		MeetingID:  r.meetingID,
		UserID:     r.userID,
		Mode:       r.mode,
		Outcome:    outcome,
		Status:     string(r.status),
		Warnings:   r.warnings,
		DurationMs: elapsed.Milliseconds(),
		TraceID:    observability.GetTraceID(r.ctx),
	}

	if err != nil {
		pe := dgerrors.ClassifyError(err, r.mode)
		helper.SetError(err, string(pe.Code), dgerrors.IsRetryable(pe.Code))
		entry.ErrorMessage = err.Error()
		r.logger.Warn("Processing finished with error",
			logging.F("outcome", outcome),
			logging.F("error_code", string(pe.Code)),
			logging.F("duration_ms", elapsed.Milliseconds()),
			logging.Err(err))
	} else {
		helper.SetSuccess()
		r.logger.Info("Processing finished",
			logging.F("outcome", outcome),
			logging.F("status", string(r.status)),
			logging.F("analysis_complete", r.analysisComplete),
			logging.F("duration_ms", elapsed.Milliseconds()))
	}

	if rerr := r.p.runlog.Record(context.WithoutCancel(r.ctx), entry); rerr != nil {
		r.logger.Warn("Failed to record run", logging.Err(rerr))
	}
}
