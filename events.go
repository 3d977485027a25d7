package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
)

// CaptionEvent is one raw timing+text unit from the caption stream. The
// stream reveals text incrementally: a later event may repeat, extend or be a
// strict prefix of an earlier one.
type CaptionEvent struct {
	StartMs    int
	DurationMs int
	Text       string
}

// Cue is a finalized, non-overlapping timed-text unit. Immutable once
// appended to the output list.
type Cue struct {
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
	Text    string `json:"text"`
}

// json3 wire format, as served by the timedtext endpoint.
type json3Response struct {
	Events []json3Event `json:"events"`
}

type json3Event struct {
	TStartMs    *int       `json:"tStartMs"`
	DDurationMs *int       `json:"dDurationMs"`
	Segs        []json3Seg `json:"segs"`
}

type json3Seg struct {
	UTF8 string `json:"utf8"`
}

// xssiPrefix guards Google JSON endpoints against script inclusion. It must
// be stripped before decoding.
var xssiPrefix = []byte(")]}'")

// fetchEvents retrieves the raw caption event stream for a track. The
// structured json3 format is requested unless the URL already pins one, and
// translateTo (when non-empty) asks the platform to translate on the fly.
func (s *session) fetchEvents(ctx context.Context, track CaptionTrack, translateTo string) ([]CaptionEvent, error) {
	u, err := url.Parse(track.FetchURL)
	if err != nil {
		return nil, fmt.Errorf("caption url: %w", err)
	}
	q := u.Query()
	if q.Get("fmt") == "" {
		q.Set("fmt", "json3")
	}
	if translateTo != "" {
		q.Set("tlang", translateTo)
	}
	u.RawQuery = q.Encode()

	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("caption request: %w", err)
	}

	body, resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransientFetchError{Op: "timedtext", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if len(body) == 0 {
		return nil, &TransientFetchError{Op: "timedtext", Err: fmt.Errorf("empty response")}
	}

	return parseJSON3(body)
}

// parseJSON3 decodes a json3 payload into raw events. Events without a start
// time are dropped; empty-text events survive here (they still count toward
// coverage) and are skipped by the merge.
func parseJSON3(body []byte) ([]CaptionEvent, error) {
	body = bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(body), xssiPrefix))

	var raw json3Response
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("timedtext decode: %w", err)
	}

	events := make([]CaptionEvent, 0, len(raw.Events))
	for _, ev := range raw.Events {
		if ev.TStartMs == nil {
			continue
		}
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.UTF8)
		}
		dur := 0
		if ev.DDurationMs != nil && *ev.DDurationMs > 0 {
			dur = *ev.DDurationMs
		}
		events = append(events, CaptionEvent{
			StartMs:    *ev.TStartMs,
			DurationMs: dur,
			Text:       sb.String(),
		})
	}
	return events, nil
}

// zeroWidthReplacer drops the zero-width characters the rollup stream likes
// to sprinkle into re-revealed lines.
var zeroWidthReplacer = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
)

func normalizeCaptionText(s string) string {
	s = html.UnescapeString(s)
	s = zeroWidthReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// mergeEvents collapses the rolling caption stream into stable cues, in
// arrival order. One "active" cue candidate is kept open at a time:
// duplicate reveals are dropped, incremental reveals append their suffix and
// extend the end time, and unrelated text finalizes the active cue and opens
// the next.
func mergeEvents(events []CaptionEvent) []Cue {
	var cues []Cue
	var active *Cue
	var lastSeen string

	for _, ev := range events {
		text := normalizeCaptionText(ev.Text)
		if text == "" || ev.StartMs < 0 {
			continue
		}
		dur := ev.DurationMs
		if dur < 1 {
			// zero-length events still need a positive end for cue math
			dur = 1
		}
		end := ev.StartMs + dur

		if active == nil {
			active = &Cue{StartMs: ev.StartMs, EndMs: end, Text: text}
			lastSeen = text
			continue
		}

		switch {
		case text == lastSeen:
			// duplicate reveal
			if end > active.EndMs {
				active.EndMs = end
			}
		case strings.HasPrefix(text, lastSeen):
			// incrementally revealed line: append only the new suffix
			if end > active.EndMs {
				active.EndMs = end
			}
			if suffix := strings.TrimSpace(text[len(lastSeen):]); suffix != "" {
				active.Text += " " + suffix
			}
			lastSeen = text
		case strings.HasPrefix(lastSeen, text):
			// a shorter duplicate arrived after a longer reveal
			if end > active.EndMs {
				active.EndMs = end
			}
		default:
			cues = append(cues, *active)
			active = &Cue{StartMs: ev.StartMs, EndMs: end, Text: text}
			lastSeen = text
		}
	}

	if active != nil {
		cues = append(cues, *active)
	}
	return cues
}

// eventCoverageMs is the furthest point in the video reached by any raw
// event.
func eventCoverageMs(events []CaptionEvent) int {
	var max int
	for _, ev := range events {
		if end := ev.StartMs + ev.DurationMs; end > max {
			max = end
		}
	}
	return max
}

// coverageRatio is the fraction of the video's duration the raw events span.
// Unknown duration counts as fully covered: with nothing to compare against,
// the coverage fallback never triggers.
func coverageRatio(events []CaptionEvent, durationMs int) float64 {
	if durationMs <= 0 {
		return 1.0
	}
	r := float64(eventCoverageMs(events)) / float64(durationMs)
	if r > 1 {
		r = 1
	}
	return r
}
