package analysis

import "unicode/utf8"

const (
	summaryExcerptRunes = 4000
	defaultExcerptRunes = 3000
)

// Excerpt returns at most limit runes of transcript, followed by "..." when
// anything was cut.
func Excerpt(transcript string, limit int) string {
	if utf8.RuneCountInString(transcript) <= limit {
		return transcript
	}
	return string([]rune(transcript)[:limit]) + "..."
}

// SummaryPrompt asks for the executive summary JSON.
func SummaryPrompt(transcript string) string {
	return `Analyze this meeting transcript and extract key information. Return ONLY valid JSON in the exact format specified:

` + Excerpt(transcript, summaryExcerptRunes) + `

Return exactly this JSON structure:
{
  "executiveSummary": "[2-3 sentence executive summary]",
  "keyPoints": ["key point 1", "key point 2", "key point 3"],
  "decisions": [{"decision": "what was decided", "rationale": "why this decision was made", "owner": "who is responsible"}],
  "nextSteps": ["next step 1", "next step 2"]
}`
}

// ActionItemsPrompt asks for the action items JSON.
func ActionItemsPrompt(transcript string) string {
	return `Extract action items from this meeting transcript. Return ONLY valid JSON in the exact format specified:

` + Excerpt(transcript, defaultExcerptRunes) + `

Identify specific tasks, assignments, and follow-up actions mentioned in the meeting. Return exactly this JSON structure:
{
  "actionItems": [
    {
      "description": "what needs to be done",
      "assignee": "person responsible (optional)",
      "priority": "LOW|MEDIUM|HIGH",
      "dueDate": "YYYY-MM-DD (optional)",
      "context": "additional context (optional)"
    }
  ]
}`
}

// TopicsPrompt asks for the discussion topics JSON.
func TopicsPrompt(transcript string) string {
	return `Identify and analyze discussion topics from this meeting transcript. Return ONLY valid JSON in the exact format specified:

` + Excerpt(transcript, defaultExcerptRunes) + `

For each topic discussed, analyze sentiment and importance. Return exactly this JSON structure:
{
  "topics": [
    {
      "topic": "topic name",
      "sentimentScore": 0.7,
      "importanceScore": 0.8,
      "startTime": 0,
      "duration": 120
    }
  ]
}

Sentiment score: -1 (negative) to 1 (positive)
Importance score: 0 (low) to 1 (high)
Times in seconds (optional if not determinable)`
}

// Prompt returns the prompt for kind.
func Prompt(kind Kind, transcript string) string {
	switch kind {
	case KindSummary:
		return SummaryPrompt(transcript)
	case KindActionItems:
		return ActionItemsPrompt(transcript)
	default:
		return TopicsPrompt(transcript)
	}
}
