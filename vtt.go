package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// serializeVTT renders cues as WebVTT: header, then per cue one timing line
// and the text, blank-line separated. Text normalization happened during the
// merge; no further escaping is applied.
func serializeVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range cues {
		b.WriteString(formatVTTTimestamp(c.StartMs))
		b.WriteString(" --> ")
		b.WriteString(formatVTTTimestamp(c.EndMs))
		b.WriteByte('\n')
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func formatVTTTimestamp(ms int) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

var vttTimingRe = regexp.MustCompile(`^(\d{2,}):(\d{2}):(\d{2})\.(\d{3}) --> (\d{2,}):(\d{2}):(\d{2})\.(\d{3})`)

// parseVTT reads cues back out of WebVTT text. Used for the plain-text CLI
// output and to verify the serializer round-trips without timestamp drift.
func parseVTT(input string) ([]Cue, error) {
	var cues []Cue
	lines := strings.Split(input, "\n")

	for i := 0; i < len(lines); i++ {
		m := vttTimingRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		start := vttTimestampMs(m[1], m[2], m[3], m[4])
		end := vttTimestampMs(m[5], m[6], m[7], m[8])

		var text []string
		for i++; i < len(lines); i++ {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				break
			}
			text = append(text, line)
		}
		if len(text) == 0 {
			return nil, fmt.Errorf("cue at %s has no text", formatVTTTimestamp(start))
		}
		cues = append(cues, Cue{StartMs: start, EndMs: end, Text: strings.Join(text, " ")})
	}
	return cues, nil
}

func vttTimestampMs(h, m, s, ms string) int {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	mss, _ := strconv.Atoi(ms)
	return hh*3600000 + mm*60000 + ss*1000 + mss
}

// plainText flattens cues to one line of text, dropping timing. Mirrors what
// consumers feeding an LLM or search index want.
func plainText(cues []Cue) string {
	parts := make([]string, 0, len(cues))
	for _, c := range cues {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, " ")
}
