package meeting

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/yf-hk/ai-meeting-digest/pkg/ai"
	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/events"
	"github.com/yf-hk/ai-meeting-digest/pkg/locks"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
	"github.com/yf-hk/ai-meeting-digest/pkg/orchestrator"
	"github.com/yf-hk/ai-meeting-digest/pkg/runlog"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

const (
	summaryJSON     = `{"executiveSummary":"Team agreed to ship v2.","keyPoints":["ship v2"],"decisions":[{"decision":"ship","rationale":"ready"}],"nextSteps":["tag release"]}`
	actionItemsJSON = `{"actionItems":[{"description":"Tag the release","assignee":"Ana","priority":"HIGH","dueDate":"2024-06-07"},{"description":"Write notes","priority":"LOW","dueDate":"next sprint"}]}`
	topicsJSON      = `{"topics":[{"topic":"Release","sentimentScore":0.6,"importanceScore":0.9,"startTime":30,"duration":120},{"topic":"Hiring","sentimentScore":-0.2,"importanceScore":0.4}]}`
	transcriptText  = "0:05 : Ana : We ship v2 on Friday.\n0:40 : Ben : I will write notes.\n"
)

// MockStore implements Store for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetMeetingForUser(ctx context.Context, meetingID, userID string) (*model.Meeting, error) {
	args := m.Called(ctx, meetingID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Meeting), args.Error(1)
}

func (m *MockStore) UpdateMeetingStatus(ctx context.Context, meetingID string, status model.Status, analysisComplete bool) error {
	return m.Called(ctx, meetingID, status, analysisComplete).Error(0)
}

func (m *MockStore) CreateTranscript(ctx context.Context, t *model.Transcript) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockStore) CreateSummary(ctx context.Context, s *model.Summary) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStore) CreateActionItem(ctx context.Context, item *model.ActionItem) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockStore) CreateTopic(ctx context.Context, topic *model.Topic) error {
	return m.Called(ctx, topic).Error(0)
}

// calls returns the arguments of every recorded call to method.
func (m *MockStore) calls(method string) []mock.Arguments {
	var out []mock.Arguments
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c.Arguments)
		}
	}
	return out
}

// statusWrites renders each status write as "STATUS/analysisComplete".
func (m *MockStore) statusWrites() []string {
	var out []string
	for _, args := range m.calls("UpdateMeetingStatus") {
		out = append(out, fmt.Sprintf("%s/%v", args.Get(2), args.Get(3)))
	}
	return out
}

type reply struct {
	text string
	err  error
}

// fakeGenerator answers by stage, recognised from the prompt's opening line.
type fakeGenerator struct {
	configured bool
	replies    map[analysis.Kind]reply

	mu    sync.Mutex
	calls int
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

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ float64) (string, error) {
	if !f.configured {
		return "", dgerrors.ErrAIUnavailable
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	kind := analysis.KindTopics
	switch {
	case strings.HasPrefix(prompt, "Analyze this meeting transcript"):
		kind = analysis.KindSummary
	case strings.HasPrefix(prompt, "Extract action items"):
		kind = analysis.KindActionItems
	}
	r := f.replies[kind]
	return r.text, r.err
}

func (f *fakeGenerator) Configured() bool { return f.configured }

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingGenerator holds every call until release is closed.
type blockingGenerator struct {
	*fakeGenerator
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingGenerator(inner *fakeGenerator) *blockingGenerator {
	return &blockingGenerator{
		fakeGenerator: inner,
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (b *blockingGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.fakeGenerator.Generate(ctx, prompt, temperature)
}

type fakeFiles map[string][]byte

func (f fakeFiles) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := f[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	return data, nil
}

type fakeRunLog struct {
	entries chan *runlog.Entry
}

func (f *fakeRunLog) Record(_ context.Context, e *runlog.Entry) error {
	f.entries <- e
	return nil
}

// recordingEmitter captures published events.
type recordingEmitter struct {
	mu       sync.Mutex
	statuses []model.Status
	streamed []stream.Type
}

func (r *recordingEmitter) StatusChanged(_ context.Context, c events.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, c.Status)
	return nil
}

func (r *recordingEmitter) StreamEvent(_ context.Context, _, _ string, _ int, ev stream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamed = append(r.streamed, ev.Type())
	return nil
}

type harness struct {
	store   *MockStore
	gen     *fakeGenerator
	files   fakeFiles
	runs    *fakeRunLog
	emitter *recordingEmitter
	locker  *locks.Local
	proc    *Processor
}

func textMeeting() *model.Meeting {
	return &model.Meeting{
		ID:     "m1",
		Title:  "Release sync",
		UserID: "u1",
		Status: model.StatusUploaded,
		Files: []model.MeetingFile{{
			ID:        "f1",
			MeetingID: "m1",
			FileName:  "notes.txt",
			FilePath:  "uploads/notes.txt",
			FileType:  "text/plain",
			FileSize:  int64(len(transcriptText)),
		}},
	}
}

// newHarness wires a processor around a mock store. overrides run before the
// default expectations, so they take precedence.
func newHarness(t *testing.T, m *model.Meeting, overrides ...func(*MockStore)) *harness {
	t.Helper()

	st := new(MockStore)
	for _, o := range overrides {
		o(st)
	}
	if m == nil {
		st.On("GetMeetingForUser", mock.Anything, "m1", "u1").
			Return(nil, fmt.Errorf("meeting m1: %w", dgerrors.ErrNotFoundOrForbidden)).Maybe()
	} else {
		st.On("GetMeetingForUser", mock.Anything, "m1", "u1").Return(m, nil).Maybe()
	}
	st.On("UpdateMeetingStatus", mock.Anything, "m1", mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("CreateTranscript", mock.Anything, mock.AnythingOfType("*model.Transcript")).Return(nil).Maybe()
	st.On("CreateSummary", mock.Anything, mock.AnythingOfType("*model.Summary")).Return(nil).Maybe()
	st.On("CreateActionItem", mock.Anything, mock.AnythingOfType("*model.ActionItem")).Return(nil).Maybe()
	st.On("CreateTopic", mock.Anything, mock.AnythingOfType("*model.Topic")).Return(nil).Maybe()

	h := &harness{
		store:   st,
		gen:     newFakeGenerator(),
		files:   fakeFiles{"uploads/notes.txt": []byte(transcriptText)},
		runs:    &fakeRunLog{entries: make(chan *runlog.Entry, 16)},
		emitter: &recordingEmitter{},
		locker:  locks.NewLocal(),
	}

	h.useGenerator(h.gen)
	return h
}

// useGenerator rebuilds the processor around gen.
func (h *harness) useGenerator(gen ai.Generator) {
	logger := logging.NewNopLogger()
	orch := orchestrator.New(gen,
		orchestrator.WithLogger(logger),
		orchestrator.WithStageDelay(0))
	h.proc = New(h.store, orch, h.files,
		WithLogger(logger),
		WithLocker(h.locker),
		WithEvents(h.emitter),
		WithRunLog(h.runs))
}

// waitRun blocks until the processor has recorded a finished run.
func (h *harness) waitRun(t *testing.T) *runlog.Entry {
	t.Helper()
	select {
	case e := <-h.runs.entries:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

// collect drains a stream and waits for its run to finish.
func (h *harness) collect(t *testing.T, ch *stream.Channel) ([]stream.Event, *runlog.Entry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	evs := stream.Drain(ctx, ch)
	return evs, h.waitRun(t)
}

func types(evs []stream.Event) []stream.Type {
	out := make([]stream.Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type())
	}
	return out
}
