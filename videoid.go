package main

import (
	"fmt"
	"regexp"
)

// extractVideoID pulls the 11-character video ID from the URL shapes we
// accept:
//   - youtube.com/watch?v=VIDEO_ID (including m.youtube.com)
//   - youtu.be/VIDEO_ID
//   - youtube.com/embed/VIDEO_ID and legacy /v/VIDEO_ID
//   - youtube.com/shorts/VIDEO_ID, youtube.com/live/VIDEO_ID
//   - a raw 11-character ID
//
// Extra query parameters (&t=, &list=) are ignored.
func extractVideoID(input string) (string, error) {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(input); len(m) > 1 {
			return m[1], nil
		}
	}

	if rawVideoIDRe.MatchString(input) {
		return input, nil
	}

	return "", fmt.Errorf("could not extract video ID from: %s", input)
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:m\.)?youtube\.com/watch\?(?:[^#&]*&)*v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/(?:embed|v)/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/live/([a-zA-Z0-9_-]{11})`),
}

var rawVideoIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
