// Package storage is the PostgreSQL repository behind meeting processing.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
)

// pgInvalidText is SQLSTATE invalid_text_representation, raised for a
// malformed uuid.
const pgInvalidText = "22P02"

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads meetings and appends analysis results.
type Repository struct {
	db     DBTX
	logger logging.Logger
	newID  func() string
}

// NewRepository creates a repository over db.
func NewRepository(db DBTX, logger logging.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With(logging.F("component", "meeting_repository")),
		newID:  func() string { return uuid.NewString() },
	}
}

// GetMeetingForUser loads a meeting owned by userID with its files ordered by
// upload time. A missing meeting, one owned by someone else and a malformed id
// all return ErrNotFoundOrForbidden.
func (r *Repository) GetMeetingForUser(ctx context.Context, meetingID, userID string) (*model.Meeting, error) {
	query := `
		SELECT id::text, title, description, user_id, status, analysis_complete, created_at, updated_at
		FROM meetings
		WHERE id = $1 AND user_id = $2
	`

	var m model.Meeting
	var status string
	err := r.db.QueryRow(ctx, query, meetingID, userID).Scan(
		&m.ID, &m.Title, &m.Description, &m.UserID, &status, &m.AnalysisComplete, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return nil, fmt.Errorf("meeting %s: %w", meetingID, dgerrors.ErrNotFoundOrForbidden)
	}
	if err != nil {
		return nil, persistence("load meeting", err)
	}
	m.Status = model.Status(status)

	files, err := r.listFiles(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	m.Files = files
	return &m, nil
}

func (r *Repository) listFiles(ctx context.Context, meetingID string) ([]model.MeetingFile, error) {
	query := `
		SELECT id::text, meeting_id::text, file_name, file_path, file_type, file_size, uploaded_at
		FROM meeting_files
		WHERE meeting_id = $1
		ORDER BY uploaded_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, meetingID)
	if err != nil {
		return nil, persistence("list meeting files", err)
	}
	defer rows.Close()

	files := []model.MeetingFile{}
	for rows.Next() {
		var f model.MeetingFile
		if err := rows.Scan(&f.ID, &f.MeetingID, &f.FileName, &f.FilePath, &f.FileType, &f.FileSize, &f.UploadedAt); err != nil {
			return nil, persistence("scan meeting file", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list meeting files", err)
	}
	return files, nil
}

// UpdateMeetingStatus sets the status and the analysis-complete flag.
func (r *Repository) UpdateMeetingStatus(ctx context.Context, meetingID string, status model.Status, analysisComplete bool) error {
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, dgerrors.ErrValidation)
	}

	query := `
		UPDATE meetings
		SET status = $2, analysis_complete = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, meetingID, string(status), analysisComplete)
	if err != nil {
		return persistence("update meeting status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting %s: %w", meetingID, dgerrors.ErrNotFound)
	}

	r.logger.Debug("Meeting status updated",
		logging.F("meeting_id", meetingID),
		logging.F("status", string(status)),
		logging.F("analysis_complete", analysisComplete))
	return nil
}

// CreateTranscript inserts t, filling ID and CreatedAt.
func (r *Repository) CreateTranscript(ctx context.Context, t *model.Transcript) error {
	r.assignID(&t.ID)

	query := `
		INSERT INTO transcripts (id, meeting_id, content, confidence_score, processing_time, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, t.ID, t.MeetingID, t.Content, t.ConfidenceScore, t.ProcessingTime).Scan(&t.CreatedAt)
	if err != nil {
		return persistence("create transcript", err)
	}
	return nil
}

// CreateSummary inserts s, storing key points, decisions and next steps as
// JSONB arrays.
func (r *Repository) CreateSummary(ctx context.Context, s *model.Summary) error {
	r.assignID(&s.ID)

	keyPoints, err := jsonArray(s.KeyPoints)
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}
	decisions, err := jsonArray(s.Decisions)
	if err != nil {
		return fmt.Errorf("marshal decisions: %w", err)
	}
	nextSteps, err := jsonArray(s.NextSteps)
	if err != nil {
		return fmt.Errorf("marshal next steps: %w", err)
	}

	query := `
		INSERT INTO summaries (id, meeting_id, executive_summary, key_points, decisions, next_steps, processing_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`

	err = r.db.QueryRow(ctx, query,
		s.ID,
		s.MeetingID,
		s.ExecutiveSummary,
		keyPoints,
		decisions,
		nextSteps,
		s.ProcessingTime,
	).Scan(&s.CreatedAt)
	if err != nil {
		return persistence("create summary", err)
	}
	return nil
}

// CreateActionItem inserts item. An empty status is stored as PENDING.
func (r *Repository) CreateActionItem(ctx context.Context, item *model.ActionItem) error {
	r.assignID(&item.ID)
	if item.Status == "" {
		item.Status = model.ActionPending
	}

	query := `
		INSERT INTO action_items (id, meeting_id, description, assignee, due_date, priority, status, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.MeetingID,
		item.Description,
		nullIfEmpty(item.Assignee),
		item.DueDate,
		string(item.Priority),
		string(item.Status),
		nullIfEmpty(item.Context),
	).Scan(&item.CreatedAt)
	if err != nil {
		return persistence("create action item", err)
	}
	return nil
}

// CreateTopic inserts topic.
func (r *Repository) CreateTopic(ctx context.Context, topic *model.Topic) error {
	r.assignID(&topic.ID)

	query := `
		INSERT INTO topics (id, meeting_id, topic, sentiment_score, importance_score, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		topic.ID,
		topic.MeetingID,
		topic.Topic,
		topic.SentimentScore,
		topic.ImportanceScore,
		topic.StartTime,
		topic.EndTime,
	).Scan(&topic.CreatedAt)
	if err != nil {
		return persistence("create topic", err)
	}
	return nil
}

func (r *Repository) assignID(id *string) {
	if *id == "" {
		*id = r.newID()
	}
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, dgerrors.ErrPersistence, err)
}

func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidText
}

// jsonArray marshals v, rendering a nil slice as [] rather than null.
func jsonArray[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
