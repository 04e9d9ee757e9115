// Package model holds the persisted meeting records shared by storage, the
// processing state machine and the HTTP layer.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// Status is a meeting's lifecycle state.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Meeting is a meeting row together with its uploaded files.
type Meeting struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Description      string        `json:"description,omitempty"`
	UserID           string        `json:"userId"`
	Status           Status        `json:"status"`
	AnalysisComplete bool          `json:"analysisComplete"`
	Files            []MeetingFile `json:"files,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// MeetingFile is an uploaded file attached to a meeting.
type MeetingFile struct {
	ID         string    `json:"id"`
	MeetingID  string    `json:"meetingId"`
	FileName   string    `json:"fileName"`
	FilePath   string    `json:"filePath"`
	FileType   string    `json:"fileType"`
	FileSize   int64     `json:"fileSize"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// IsTextTranscript reports whether the file can be used directly as a
// transcript: a text/plain or text/vtt declared type (parameters ignored), or
// a .txt or .vtt name.
func (f MeetingFile) IsTextTranscript() bool {
	mediaType := strings.ToLower(strings.TrimSpace(f.FileType))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	if mediaType == "text/plain" || mediaType == "text/vtt" {
		return true
	}
	switch strings.ToLower(filepath.Ext(f.FileName)) {
	case ".txt", ".vtt":
		return true
	}
	return false
}

// Transcript is the text a meeting's analysis runs on.
type Transcript struct {
	ID              string    `json:"id"`
	MeetingID       string    `json:"meetingId"`
	Content         string    `json:"content"`
	ConfidenceScore float64   `json:"confidenceScore"`
	ProcessingTime  int       `json:"processingTime"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Decision is one decision recorded in a summary.
type Decision struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
	Owner     string `json:"owner,omitempty"`
}

// Summary is the persisted executive summary of a meeting.
type Summary struct {
	ID               string     `json:"id"`
	MeetingID        string     `json:"meetingId"`
	ExecutiveSummary string     `json:"executiveSummary"`
	KeyPoints        []string   `json:"keyPoints"`
	Decisions        []Decision `json:"decisions"`
	NextSteps        []string   `json:"nextSteps"`
	ProcessingTime   int        `json:"processingTime"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Priority of an action item.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ActionStatus is the workflow state of an action item.
type ActionStatus string

const (
	ActionPending    ActionStatus = "PENDING"
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionCompleted  ActionStatus = "COMPLETED"
	ActionCancelled  ActionStatus = "CANCELLED"
)

// ActionItem is a persisted follow-up task.
type ActionItem struct {
	ID          string       `json:"id"`
	MeetingID   string       `json:"meetingId"`
	Description string       `json:"description"`
	Assignee    string       `json:"assignee,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	Priority    Priority     `json:"priority"`
	Status      ActionStatus `json:"status"`
	Context     string       `json:"context,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Topic is a persisted discussion topic.
type Topic struct {
	ID              string    `json:"id"`
	MeetingID       string    `json:"meetingId"`
	Topic           string    `json:"topic"`
	SentimentScore  float64   `json:"sentimentScore"`
	ImportanceScore float64   `json:"importanceScore"`
	StartTime       *float64  `json:"startTime,omitempty"`
	EndTime         *float64  `json:"endTime,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
