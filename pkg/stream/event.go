// Package stream carries processing events from a producer goroutine to a
// single consumer and renders them for the wire.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
)

// Type is the wire tag of an event.
type Type string

const (
	TypeStatus      Type = "status"
	TypeTranscript  Type = "transcript"
	TypeSummary     Type = "summary"
	TypeActionItems Type = "actionItems"
	TypeTopics      Type = "topics"
	TypeWarning     Type = "warning"
	TypeError       Type = "error"
	TypeComplete    Type = "complete"
)

// Event is one processing event. The set of implementations is closed.
type Event interface {
	Type() Type
	// Content is the value rendered as the "content" field.
	Content() interface{}
	event()
}

// StatusEvent describes what the run is about to do.
type StatusEvent struct{ Message string }

// TranscriptEvent carries the persisted transcript.
type TranscriptEvent struct{ Transcript model.Transcript }

// SummaryEvent carries a validated summary.
type SummaryEvent struct{ Summary analysis.Summary }

// ActionItemsEvent carries the extracted action items.
type ActionItemsEvent struct{ Items []analysis.ActionItem }

// TopicsEvent carries the extracted topics.
type TopicsEvent struct{ Topics []analysis.Topic }

// WarningEvent reports a stage that failed without ending the run.
type WarningEvent struct{ Message string }

// ErrorEvent ends a run with a message.
type ErrorEvent struct{ Message string }

// CompleteEvent ends a run normally.
type CompleteEvent struct{}

func (StatusEvent) Type() Type      { return TypeStatus }
func (TranscriptEvent) Type() Type  { return TypeTranscript }
func (SummaryEvent) Type() Type     { return TypeSummary }
func (ActionItemsEvent) Type() Type { return TypeActionItems }
func (TopicsEvent) Type() Type      { return TypeTopics }
func (WarningEvent) Type() Type     { return TypeWarning }
func (ErrorEvent) Type() Type       { return TypeError }
func (CompleteEvent) Type() Type    { return TypeComplete }

func (e StatusEvent) Content() interface{}     { return e.Message }
func (e TranscriptEvent) Content() interface{} { return e.Transcript }
func (e SummaryEvent) Content() interface{}    { return e.Summary }
func (e WarningEvent) Content() interface{}    { return e.Message }
func (e ErrorEvent) Content() interface{}      { return e.Message }
func (CompleteEvent) Content() interface{}     { return nil }

func (e ActionItemsEvent) Content() interface{} {
	if e.Items == nil {
		return []analysis.ActionItem{}
	}
	return e.Items
}

func (e TopicsEvent) Content() interface{} {
	if e.Topics == nil {
		return []analysis.Topic{}
	}
	return e.Topics
}

func (StatusEvent) event()      {}
func (TranscriptEvent) event()  {}
func (SummaryEvent) event()     {}
func (ActionItemsEvent) event() {}
func (TopicsEvent) event()      {}
func (WarningEvent) event()     {}
func (ErrorEvent) event()       {}
func (CompleteEvent) event()    {}

// IsTerminal reports whether ev ends a stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case ErrorEvent, CompleteEvent:
		return true
	}
	return false
}

type frame struct {
	Type    Type        `json:"type"`
	Content interface{} `json:"content"`
}

// Encode renders ev as {"type": ..., "content": ...}.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(frame{Type: ev.Type(), Content: ev.Content()})
}

type rawFrame struct {
	Type    Type            `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Event, error) {
	var f rawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch f.Type {
	case TypeStatus:
		var s StatusEvent
		err = json.Unmarshal(f.Content, &s.Message)
		ev = s
	case TypeTranscript:
		var t TranscriptEvent
		err = json.Unmarshal(f.Content, &t.Transcript)
		ev = t
	case TypeSummary:
		var s SummaryEvent
		err = json.Unmarshal(f.Content, &s.Summary)
		ev = s
	case TypeActionItems:
		var a ActionItemsEvent
		err = json.Unmarshal(f.Content, &a.Items)
		ev = a
	case TypeTopics:
		var t TopicsEvent
		err = json.Unmarshal(f.Content, &t.Topics)
		ev = t
	case TypeWarning:
		var w WarningEvent
		err = json.Unmarshal(f.Content, &w.Message)
		ev = w
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(f.Content, &e.Message)
		ev = e
	case TypeComplete:
		ev = CompleteEvent{}
	default:
		return nil, fmt.Errorf("decode frame: unknown type %q", f.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", f.Type, err)
	}
	return ev, nil
}
