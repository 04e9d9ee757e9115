package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
)

// InvalidResponseError reports model output that is not valid JSON or does not
// match the schema for its Kind. It matches dgerrors.ErrInvalidAIResponse.
type InvalidResponseError struct {
	Kind  Kind
	Raw   string
	Cause error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("AI returned invalid %s format: %v", strings.ReplaceAll(string(e.Kind), "_", " "), e.Cause)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the taxonomy sentinel.
func (e *InvalidResponseError) Is(target error) bool {
	return target == dgerrors.ErrInvalidAIResponse
}

var fenceReplacer = strings.NewReplacer(
	"```json\n", "",
	"```json", "",
	"```\n", "",
	"```", "",
)

// StripFences removes every ```json and ``` marker and trims surrounding
// whitespace. Models wrap JSON in code fences often enough that this runs on
// every response.
func StripFences(raw string) string {
	return strings.TrimSpace(fenceReplacer.Replace(raw))
}

// Parse validates raw against kind and returns *Summary, []ActionItem or
// []Topic.
func Parse(raw string, kind Kind) (interface{}, error) {
	switch kind {
	case KindSummary:
		return ParseSummary(raw)
	case KindActionItems:
		return ParseActionItems(raw)
	case KindTopics:
		return ParseTopics(raw)
	default:
		return nil, fmt.Errorf("unknown response kind %q: %w", kind, dgerrors.ErrValidation)
	}
}

type decisionWire struct {
	Decision  *string `json:"decision"`
	Rationale *string `json:"rationale"`
	Owner     *string `json:"owner"`
}

type summaryWire struct {
	ExecutiveSummary *string         `json:"executiveSummary"`
	KeyPoints        *[]string       `json:"keyPoints"`
	Decisions        *[]decisionWire `json:"decisions"`
	NextSteps        *[]string       `json:"nextSteps"`
	ProcessingTime   *int            `json:"processingTime"`
}

// ParseSummary validates a summary response.
func ParseSummary(raw string) (*Summary, error) {
	var w summaryWire
	if err := decode(raw, &w); err != nil {
		return nil, invalid(KindSummary, raw, err)
	}

	var v validator
	v.required("executiveSummary", w.ExecutiveSummary != nil)
	v.required("keyPoints", w.KeyPoints != nil)
	v.required("decisions", w.Decisions != nil)
	v.required("nextSteps", w.NextSteps != nil)
	if w.ProcessingTime != nil && *w.ProcessingTime < 0 {
		v.fail("processingTime", "must be >= 0")
	}
	if w.Decisions != nil {
		for i, d := range *w.Decisions {
			path := fmt.Sprintf("decisions[%d]", i)
			v.required(path+".decision", d.Decision != nil)
			v.required(path+".rationale", d.Rationale != nil)
		}
	}
	if err := v.err(); err != nil {
		return nil, invalid(KindSummary, raw, err)
	}

	s := &Summary{
		ExecutiveSummary: *w.ExecutiveSummary,
		KeyPoints:        nonNil(*w.KeyPoints),
		Decisions:        make([]model.Decision, 0, len(*w.Decisions)),
		NextSteps:        nonNil(*w.NextSteps),
	}
	if w.ProcessingTime != nil {
		s.ProcessingTime = *w.ProcessingTime
	}
	for _, d := range *w.Decisions {
		s.Decisions = append(s.Decisions, model.Decision{
			Decision:  *d.Decision,
			Rationale: *d.Rationale,
			Owner:     deref(d.Owner),
		})
	}
	return s, nil
}

type actionItemWire struct {
	Description *string `json:"description"`
	Assignee    *string `json:"assignee"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"dueDate"`
	Context     *string `json:"context"`
}

type actionItemsWire struct {
	ActionItems *[]actionItemWire `json:"actionItems"`
}

// ParseActionItems validates an action items response.
func ParseActionItems(raw string) ([]ActionItem, error) {
	var w actionItemsWire
	if err := decode(raw, &w); err != nil {
		return nil, invalid(KindActionItems, raw, err)
	}

	var v validator
	v.required("actionItems", w.ActionItems != nil)
	if w.ActionItems != nil {
		for i, item := range *w.ActionItems {
			path := fmt.Sprintf("actionItems[%d]", i)
			v.required(path+".description", item.Description != nil)
			switch {
			case item.Priority == nil:
				v.required(path+".priority", false)
			case !validPriority(model.Priority(*item.Priority)):
				v.fail(path+".priority", fmt.Sprintf("must be one of LOW, MEDIUM, HIGH (got %q)", *item.Priority))
			}
		}
	}
	if err := v.err(); err != nil {
		return nil, invalid(KindActionItems, raw, err)
	}

	items := make([]ActionItem, 0, len(*w.ActionItems))
	for _, item := range *w.ActionItems {
		items = append(items, ActionItem{
			Description: *item.Description,
			Assignee:    deref(item.Assignee),
			Priority:    model.Priority(*item.Priority),
			DueDate:     deref(item.DueDate),
			Context:     deref(item.Context),
		})
	}
	return items, nil
}

type topicWire struct {
	Topic           *string  `json:"topic"`
	SentimentScore  *float64 `json:"sentimentScore"`
	ImportanceScore *float64 `json:"importanceScore"`
	StartTime       *float64 `json:"startTime"`
	Duration        *float64 `json:"duration"`
}

type topicsWire struct {
	Topics *[]topicWire `json:"topics"`
}

// ParseTopics validates a topics response.
func ParseTopics(raw string) ([]Topic, error) {
	var w topicsWire
	if err := decode(raw, &w); err != nil {
		return nil, invalid(KindTopics, raw, err)
	}

	var v validator
	v.required("topics", w.Topics != nil)
	if w.Topics != nil {
		for i, t := range *w.Topics {
			path := fmt.Sprintf("topics[%d]", i)
			v.required(path+".topic", t.Topic != nil)
			v.inRange(path+".sentimentScore", t.SentimentScore, -1, 1)
			v.inRange(path+".importanceScore", t.ImportanceScore, 0, 1)
			if t.StartTime != nil && *t.StartTime < 0 {
				v.fail(path+".startTime", "must be >= 0")
			}
			if t.Duration != nil && *t.Duration < 0 {
				v.fail(path+".duration", "must be >= 0")
			}
		}
	}
	if err := v.err(); err != nil {
		return nil, invalid(KindTopics, raw, err)
	}

	topics := make([]Topic, 0, len(*w.Topics))
	for _, t := range *w.Topics {
		topics = append(topics, Topic{
			Topic:           *t.Topic,
			SentimentScore:  *t.SentimentScore,
			ImportanceScore: *t.ImportanceScore,
			StartTime:       t.StartTime,
			Duration:        t.Duration,
		})
	}
	return topics, nil
}

func decode(raw string, target interface{}) error {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return fmt.Errorf("empty content")
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func invalid(kind Kind, raw string, cause error) error {
	return &InvalidResponseError{Kind: kind, Raw: raw, Cause: cause}
}

func validPriority(p model.Priority) bool {
	return p == model.PriorityLow || p == model.PriorityMedium || p == model.PriorityHigh
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// validator collects field errors so one response reports every problem.
type validator struct {
	problems []string
}

func (v *validator) fail(path, msg string) {
	v.problems = append(v.problems, path+": "+msg)
}

func (v *validator) required(path string, present bool) {
	if !present {
		v.fail(path, "required")
	}
}

func (v *validator) inRange(path string, f *float64, min, max float64) {
	if f == nil {
		v.required(path, false)
		return
	}
	if *f < min || *f > max {
		v.fail(path, fmt.Sprintf("must be between %g and %g (got %g)", min, max, *f))
	}
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(v.problems, "; "))
}
