package transcript

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Matches a timestamped line: 0:11 : Speaker Name : Text content
// or: 12:45 : Speaker Name (pronouns) : Text content
var timestampedLineRegex = regexp.MustCompile(`^(\d+):(\d{2})\s*:\s*([^:]+?)\s*:\s*(.+)$`)

// Segment is one timestamped utterance.
type Segment struct {
	Speaker      string `json:"speaker"`
	Text         string `json:"text"`
	StartSeconds int    `json:"startSeconds"`
}

// Stats describes the shape of a transcript. Plain prose without timestamps
// yields zero segments; Words and Lines are always counted.
type Stats struct {
	Segments        []Segment `json:"segments,omitempty"`
	Speakers        []string  `json:"speakers"`
	DurationSeconds int       `json:"durationSeconds"`
	Lines           int       `json:"lines"`
	Words           int       `json:"words"`
}

// Analyze scans content for "m:ss : Speaker : text" lines.
func Analyze(content string) Stats {
	stats := Stats{Speakers: make([]string, 0)}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.Lines++
		stats.Words += len(strings.Fields(line))

		m := timestampedLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.Atoi(m[2])
		speaker := strings.TrimSpace(m[3])
		start := minutes*60 + seconds

		stats.Segments = append(stats.Segments, Segment{
			Speaker:      speaker,
			Text:         strings.TrimSpace(m[4]),
			StartSeconds: start,
		})
		if !seen[speaker] {
			seen[speaker] = true
			stats.Speakers = append(stats.Speakers, speaker)
		}
		if start > stats.DurationSeconds {
			stats.DurationSeconds = start
		}
	}
	return stats
}
