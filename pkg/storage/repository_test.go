package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
)

var (
	createdAt   = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	meetingCols = []string{"id", "title", "description", "user_id", "status", "analysis_complete", "created_at", "updated_at"}
	fileCols    = []string{"id", "meeting_id", "file_name", "file_path", "file_type", "file_size", "uploaded_at"}
)

func newTestRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := NewRepository(mock, logging.NewNopLogger())
	repo.newID = func() string { return "generated-id" }
	return repo, mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestGetMeetingForUser(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(q("FROM meetings")).
		WithArgs("m-1", "u-1").
		WillReturnRows(pgxmock.NewRows(meetingCols).
			AddRow("m-1", "Weekly sync", "", "u-1", "UPLOADED", false, createdAt, createdAt))
	mock.ExpectQuery(q("ORDER BY uploaded_at ASC")).
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows(fileCols).
			AddRow("f-1", "m-1", "notes.txt", "uploads/notes.txt", "text/plain", int64(120), createdAt).
			AddRow("f-2", "m-1", "call.mp3", "uploads/call.mp3", "audio/mpeg", int64(4096), createdAt.Add(time.Minute)))

	m, err := repo.GetMeetingForUser(context.Background(), "m-1", "u-1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusUploaded, m.Status)
	assert.Equal(t, "Weekly sync", m.Title)
	require.Len(t, m.Files, 2)
	assert.Equal(t, "notes.txt", m.Files[0].FileName)
	assert.Equal(t, int64(4096), m.Files[1].FileSize)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMeetingForUser_NotFoundOrForbidden(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no row", pgx.ErrNoRows},
		{"malformed id", &pgconn.PgError{Code: pgInvalidText, Message: "invalid input syntax for type uuid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newTestRepo(t)
			mock.ExpectQuery(q("FROM meetings")).
				WithArgs("m-1", "intruder").
				WillReturnError(tt.err)

			_, err := repo.GetMeetingForUser(context.Background(), "m-1", "intruder")
			assert.ErrorIs(t, err, dgerrors.ErrNotFoundOrForbidden)
			assert.False(t, dgerrors.IsPersistence(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetMeetingForUser_DatabaseError(t *testing.T) {
	repo, mock := newTestRepo(t)
	boom := errors.New("connection reset by peer")
	mock.ExpectQuery(q("FROM meetings")).WithArgs("m-1", "u-1").WillReturnError(boom)

	_, err := repo.GetMeetingForUser(context.Background(), "m-1", "u-1")
	assert.ErrorIs(t, err, dgerrors.ErrPersistence)
	assert.ErrorIs(t, err, boom)
}

func TestGetMeetingForUser_NoFiles(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(q("FROM meetings")).
		WithArgs("m-1", "u-1").
		WillReturnRows(pgxmock.NewRows(meetingCols).
			AddRow("m-1", "Empty", "", "u-1", "CREATED", false, createdAt, createdAt))
	mock.ExpectQuery(q("FROM meeting_files")).
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows(fileCols))

	m, err := repo.GetMeetingForUser(context.Background(), "m-1", "u-1")
	require.NoError(t, err)
	assert.NotNil(t, m.Files)
	assert.Empty(t, m.Files)
}

func TestUpdateMeetingStatus(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(q("UPDATE meetings")).
		WithArgs("m-1", "COMPLETED", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateMeetingStatus(context.Background(), "m-1", model.StatusCompleted, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMeetingStatus_Errors(t *testing.T) {
	t.Run("unknown status", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		err := repo.UpdateMeetingStatus(context.Background(), "m-1", model.Status("DONE"), false)
		assert.ErrorIs(t, err, dgerrors.ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec(q("UPDATE meetings")).
			WithArgs("m-1", "FAILED", false).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdateMeetingStatus(context.Background(), "m-1", model.StatusFailed, false)
		assert.ErrorIs(t, err, dgerrors.ErrNotFound)
	})

	t.Run("exec failure", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec(q("UPDATE meetings")).
			WithArgs("m-1", "FAILED", false).
			WillReturnError(errors.New("deadlock detected"))

		err := repo.UpdateMeetingStatus(context.Background(), "m-1", model.StatusFailed, false)
		assert.ErrorIs(t, err, dgerrors.ErrPersistence)
	})
}

func TestCreateTranscript(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(q("INSERT INTO transcripts")).
		WithArgs("generated-id", "m-1", "Alice: hello", 1.0, 0).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	tr := &model.Transcript{MeetingID: "m-1", Content: "Alice: hello", ConfidenceScore: 1.0}
	require.NoError(t, repo.CreateTranscript(context.Background(), tr))

	assert.Equal(t, "generated-id", tr.ID)
	assert.Equal(t, createdAt, tr.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSummary(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(q("INSERT INTO summaries")).
		WithArgs(
			"s-1", "m-1", "Shipped.",
			[]byte(`["a","b"]`),
			[]byte(`[{"decision":"Ship","rationale":"Ready"}]`),
			[]byte(`[]`),
			3,
		).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	s := &model.Summary{
		ID:               "s-1",
		MeetingID:        "m-1",
		ExecutiveSummary: "Shipped.",
		KeyPoints:        []string{"a", "b"},
		Decisions:        []model.Decision{{Decision: "Ship", Rationale: "Ready"}},
		ProcessingTime:   3,
	}
	require.NoError(t, repo.CreateSummary(context.Background(), s))
	assert.Equal(t, "s-1", s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateActionItem(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(q("INSERT INTO action_items")).
		WithArgs("generated-id", "m-1", "Write notes", "Bob", pgxmock.AnyArg(), "HIGH", "PENDING", nil).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	item := &model.ActionItem{MeetingID: "m-1", Description: "Write notes", Assignee: "Bob", Priority: model.PriorityHigh}
	require.NoError(t, repo.CreateActionItem(context.Background(), item))

	assert.Equal(t, model.ActionPending, item.Status)
	assert.Equal(t, createdAt, item.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTopic(t *testing.T) {
	repo, mock := newTestRepo(t)
	start, end := 30.0, 150.0
	mock.ExpectQuery(q("INSERT INTO topics")).
		WithArgs("generated-id", "m-1", "Release", 0.4, 0.9, &start, &end).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	topic := &model.Topic{MeetingID: "m-1", Topic: "Release", SentimentScore: 0.4, ImportanceScore: 0.9, StartTime: &start, EndTime: &end}
	require.NoError(t, repo.CreateTopic(context.Background(), topic))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTopic_Failure(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(q("INSERT INTO topics")).WillReturnError(errors.New("check constraint violated"))

	err := repo.CreateTopic(context.Background(), &model.Topic{MeetingID: "m-1", Topic: "x"})
	assert.ErrorIs(t, err, dgerrors.ErrPersistence)
}

func TestJSONArray(t *testing.T) {
	b, err := jsonArray[string](nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}
