package meeting

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
)

// dueDateLayouts are tried in order when reading a model-supplied due date.
var dueDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDueDate reads a due date in one of the common layouts. Dates without a
// zone are taken as UTC.
func ParseDueDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func toSummary(meetingID string, s *analysis.Summary, now time.Time) *model.Summary {
	return &model.Summary{
		ID:               uuid.NewString(),
		MeetingID:        meetingID,
		ExecutiveSummary: s.ExecutiveSummary,
		KeyPoints:        s.KeyPoints,
		Decisions:        s.Decisions,
		NextSteps:        s.NextSteps,
		ProcessingTime:   s.ProcessingTime,
		CreatedAt:        now,
	}
}

// toActionItem converts an extracted item. A due date that does not parse is
// dropped and logged; the item is kept.
func toActionItem(meetingID string, item analysis.ActionItem, now time.Time, logger logging.Logger) model.ActionItem {
	out := model.ActionItem{
		ID:          uuid.NewString(),
		MeetingID:   meetingID,
		Description: item.Description,
		Assignee:    item.Assignee,
		Priority:    item.Priority,
		Status:      model.ActionPending,
		Context:     item.Context,
		CreatedAt:   now,
	}
	if item.DueDate != "" {
		if due, ok := ParseDueDate(item.DueDate); ok {
			out.DueDate = &due
		} else {
			logger.Warn("Invalid due date format", logging.F("due_date", item.DueDate))
		}
	}
	return out
}

func toTopic(meetingID string, t analysis.Topic, now time.Time) model.Topic {
	return model.Topic{
		ID:              uuid.NewString(),
		MeetingID:       meetingID,
		Topic:           t.Topic,
		SentimentScore:  t.SentimentScore,
		ImportanceScore: t.ImportanceScore,
		StartTime:       t.StartTime,
		EndTime:         t.EndTime(),
		CreatedAt:       now,
	}
}
