package transcript

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Cue timing line: 00:00:05.579 --> 00:00:06.858 (hours optional).
	vttTimingRegex = regexp.MustCompile(`^((?:\d+:)?\d{2}:\d{2}[.,]\d{3})\s+-->\s+((?:\d+:)?\d{2}:\d{2}[.,]\d{3})`)

	// Cue identifier some meeting tools emit: 1 "Speaker Name" (123)
	vttSpeakerHeaderRegex = regexp.MustCompile(`^\d+\s+"([^"]*)"(?:\s+\((\d+)\))?$`)

	// Voice span: <v Speaker Name>text</v>
	vttVoiceRegex = regexp.MustCompile(`^<v(?:\.[^ >]+)?\s+([^>]+)>(.*?)(?:</v>)?$`)

	vttTagRegex = regexp.MustCompile(`<[^>]+>`)
)

// IsVTT reports whether content is a WebVTT document.
func IsVTT(content string) bool {
	return strings.HasPrefix(strings.TrimLeft(content, "\ufeff \t\r\n"), "WEBVTT")
}

type vttCue struct {
	speaker string
	startMs int
	text    []string
}

// FromVTT flattens WebVTT captions into "m:ss : Speaker : text" lines so
// they read like the other transcripts. Cues without a known speaker are
// written as "m:ss : Unknown : text"; NOTE, STYLE and REGION blocks are
// dropped.
func FromVTT(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		out     strings.Builder
		cue     *vttCue
		speaker string
		skip    bool
	)

	flush := func() {
		if cue == nil || len(cue.text) == 0 {
			cue = nil
			return
		}
		name := cue.speaker
		if name == "" {
			name = "Unknown"
		}
		secs := cue.startMs / 1000
		fmt.Fprintf(&out, "%d:%02d : %s : %s\n", secs/60, secs%60, name, strings.Join(cue.text, " "))
		cue = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			if cue != nil {
				flush()
				speaker = ""
			}
			skip = false
			continue
		}
		if skip || strings.HasPrefix(line, "WEBVTT") {
			continue
		}
		if cue == nil && (strings.HasPrefix(line, "NOTE") || line == "STYLE" || line == "REGION") {
			skip = true
			continue
		}

		if m := vttTimingRegex.FindStringSubmatch(line); m != nil {
			flush()
			cue = &vttCue{speaker: speaker, startMs: parseVTTTimestamp(m[1])}
			continue
		}

		if cue == nil {
			// Cue identifier; some tools put the speaker there.
			if m := vttSpeakerHeaderRegex.FindStringSubmatch(line); m != nil {
				speaker = m[1]
			}
			continue
		}

		if m := vttVoiceRegex.FindStringSubmatch(line); m != nil {
			cue.speaker = strings.TrimSpace(m[1])
			line = m[2]
		}
		if text := strings.TrimSpace(vttTagRegex.ReplaceAllString(line, "")); text != "" {
			cue.text = append(cue.text, text)
		}
	}
	flush()

	return out.String()
}

// parseVTTTimestamp parses [HH:]MM:SS.mmm to milliseconds.
func parseVTTTimestamp(ts string) int {
	ts = strings.Replace(ts, ",", ".", 1)
	parts := strings.Split(ts, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0
	}

	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])

	secParts := strings.SplitN(parts[2], ".", 2)
	seconds, _ := strconv.Atoi(secParts[0])
	milliseconds := 0
	if len(secParts) > 1 {
		milliseconds, _ = strconv.Atoi(secParts[1])
	}

	return hours*3600000 + minutes*60000 + seconds*1000 + milliseconds
}
