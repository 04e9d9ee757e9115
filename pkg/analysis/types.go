// Package analysis builds the prompts for the three meeting analysis stages
// and turns raw model output into validated values.
package analysis

import "github.com/yf-hk/ai-meeting-digest/pkg/model"

// Kind names the schema a model response is validated against.
type Kind string

const (
	KindSummary     Kind = "summary"
	KindActionItems Kind = "action_items"
	KindTopics      Kind = "topics"
)

// Summary is the validated result of the summary stage. ProcessingTime is
// filled in by the caller with the stage's wall-clock seconds.
type Summary struct {
	ExecutiveSummary string           `json:"executiveSummary"`
	KeyPoints        []string         `json:"keyPoints"`
	Decisions        []model.Decision `json:"decisions"`
	NextSteps        []string         `json:"nextSteps"`
	ProcessingTime   int              `json:"processingTime"`
}

// ActionItem is one extracted follow-up task. Priority is always LOW, MEDIUM
// or HIGH. DueDate is passed through unparsed.
type ActionItem struct {
	Description string         `json:"description"`
	Assignee    string         `json:"assignee,omitempty"`
	Priority    model.Priority `json:"priority"`
	DueDate     string         `json:"dueDate,omitempty"`
	Context     string         `json:"context,omitempty"`
}

// Topic is one extracted discussion topic. Times are seconds from the start
// of the meeting.
type Topic struct {
	Topic           string   `json:"topic"`
	SentimentScore  float64  `json:"sentimentScore"`
	ImportanceScore float64  `json:"importanceScore"`
	StartTime       *float64 `json:"startTime,omitempty"`
	Duration        *float64 `json:"duration,omitempty"`
}

// EndTime returns startTime+duration when both are present and non-zero.
func (t Topic) EndTime() *float64 {
	if t.StartTime == nil || t.Duration == nil || *t.StartTime == 0 || *t.Duration == 0 {
		return nil
	}
	end := *t.StartTime + *t.Duration
	return &end
}
