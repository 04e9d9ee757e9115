package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/yf-hk/ai-meeting-digest/pkg/analysis"
	"github.com/yf-hk/ai-meeting-digest/pkg/meeting"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

// renderResult prints a batch result for a terminal.
func renderResult(out io.Writer, r *meeting.Result) {
	if r.Meeting != nil {
		fmt.Fprintln(out, titleStyle.Render(r.Meeting.Title))
		fmt.Fprintf(out, "%s\n\n", dimStyle.Render(fmt.Sprintf("status %s · %d words · %d speakers", r.Meeting.Status, r.Stats.Words, len(r.Stats.Speakers))))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "%s %s\n", warnStyle.Render("!"), w)
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintln(out)
	}
	if r.Summary != nil {
		renderSummary(out, r.Summary.ExecutiveSummary, r.Summary.KeyPoints, r.Summary.Decisions, r.Summary.NextSteps)
	}

	items := make([]analysis.ActionItem, 0, len(r.ActionItems))
	for _, it := range r.ActionItems {
		due := ""
		if it.DueDate != nil {
			due = it.DueDate.Format("2006-01-02")
		}
		items = append(items, analysis.ActionItem{
			Description: it.Description,
			Assignee:    it.Assignee,
			Priority:    it.Priority,
			DueDate:     due,
		})
	}
	renderActionItems(out, items)

	topics := make([]analysis.Topic, 0, len(r.Topics))
	for _, t := range r.Topics {
		topics = append(topics, analysis.Topic{Topic: t.Topic, SentimentScore: t.SentimentScore, ImportanceScore: t.ImportanceScore, StartTime: t.StartTime})
	}
	renderTopics(out, topics)
}

// renderEvent prints one streamed event as it arrives.
func renderEvent(out io.Writer, ev stream.Event) {
	switch e := ev.(type) {
	case stream.StatusEvent:
		fmt.Fprintf(out, "%s %s\n", dimStyle.Render("…"), e.Message)
	case stream.TranscriptEvent:
		fmt.Fprintf(out, "%s transcript ready (%d characters)\n", okStyle.Render("✓"), len(e.Transcript.Content))
	case stream.SummaryEvent:
		fmt.Fprintln(out)
		renderSummary(out, e.Summary.ExecutiveSummary, e.Summary.KeyPoints, e.Summary.Decisions, e.Summary.NextSteps)
	case stream.ActionItemsEvent:
		renderActionItems(out, e.Items)
	case stream.TopicsEvent:
		renderTopics(out, e.Topics)
	case stream.WarningEvent:
		fmt.Fprintf(out, "%s %s\n", warnStyle.Render("!"), e.Message)
	case stream.ErrorEvent:
		fmt.Fprintf(out, "%s %s\n", errorStyle.Render("✗"), e.Message)
	case stream.CompleteEvent:
		fmt.Fprintln(out, okStyle.Render("Processing complete."))
	}
}

func renderSummary(out io.Writer, executive string, keyPoints []string, decisions []model.Decision, nextSteps []string) {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Summary"))
	b.WriteString("\n")
	b.WriteString(executive)
	writeList(&b, "Key points", keyPoints)
	if len(decisions) > 0 {
		b.WriteString("\n\n")
		b.WriteString(headerStyle.Render("Decisions"))
		for _, d := range decisions {
			fmt.Fprintf(&b, "\n  • %s", d.Decision)
			if d.Rationale != "" {
				fmt.Fprintf(&b, " %s", dimStyle.Render("("+d.Rationale+")"))
			}
		}
	}
	writeList(&b, "Next steps", nextSteps)
	fmt.Fprintln(out, panelStyle.Render(b.String()))
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(title))
	for _, it := range items {
		b.WriteString("\n  • ")
		b.WriteString(it)
	}
}

func renderActionItems(out io.Writer, items []analysis.ActionItem) {
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Action items (%d)", len(items))))
	for _, it := range items {
		line := fmt.Sprintf("  %s %s", styleForPriority(string(it.Priority)).Render(fmt.Sprintf("[%-6s]", it.Priority)), it.Description)
		var meta []string
		if it.Assignee != "" {
			meta = append(meta, "@"+it.Assignee)
		}
		if it.DueDate != "" {
			meta = append(meta, "due "+it.DueDate)
		}
		if len(meta) > 0 {
			line += " " + dimStyle.Render(strings.Join(meta, " "))
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)
}

func renderTopics(out io.Writer, topics []analysis.Topic) {
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Topics (%d)", len(topics))))
	for _, t := range topics {
		fmt.Fprintf(out, "  %-40s %s\n", truncate(t.Topic, 40),
			dimStyle.Render(fmt.Sprintf("importance %.2f  sentiment %+.2f", t.ImportanceScore, t.SentimentScore)))
	}
	fmt.Fprintln(out)
}
