package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Overridable in tests.
var playerEndpoint = "https://www.youtube.com/youtubei/v1/player?key=%s"

// CaptionTrack is one available caption stream for a video, with derived
// fields normalized at parse time so nothing downstream recomputes them.
type CaptionTrack struct {
	// LanguageCode is normalized: lower-cased, region-stripped, aliases
	// collapsed ("zh-Hans" -> "zh").
	LanguageCode string `json:"language_code"`
	// RawLanguage is the code exactly as the platform reported it.
	RawLanguage string `json:"raw_language"`
	IsAuto      bool   `json:"is_auto"`
	IsDefault   bool   `json:"is_default"`
	DisplayName string `json:"display_name"`
	// FetchURL is the opaque handle for event retrieval.
	FetchURL string `json:"-"`
}

// VideoCatalog aggregates what the player endpoint reports for one video.
// Built fresh per fetch, never persisted.
type VideoCatalog struct {
	VideoID      string
	Title        string
	DurationMs   int // 0 = unknown
	Tracks       []CaptionTrack
	PageLanguage string
}

// playerResponse is the slice of the player payload we consume.
type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	Microformat struct {
		PlayerMicroformatRenderer struct {
			LengthSeconds string `json:"lengthSeconds"`
		} `json:"playerMicroformatRenderer"`
	} `json:"microformat"`
	Captions struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []rawCaptionTrack `json:"captionTracks"`
			AudioTracks   []struct {
				DefaultCaptionTrackIndex *int `json:"defaultCaptionTrackIndex"`
			} `json:"audioTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type rawCaptionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
	VssID        string `json:"vssId"`
	Name         struct {
		SimpleText string `json:"simpleText"`
		Runs       []struct {
			Text string `json:"text"`
		} `json:"runs"`
	} `json:"name"`
}

func (rt rawCaptionTrack) displayName() string {
	if rt.Name.SimpleText != "" {
		return rt.Name.SimpleText
	}
	var parts []string
	for _, run := range rt.Name.Runs {
		parts = append(parts, run.Text)
	}
	return strings.Join(parts, "")
}

// isAutoGenerated: the platform marks ASR tracks with kind "asr"; older
// payloads only carry the "a." vss id prefix.
func (rt rawCaptionTrack) isAutoGenerated() bool {
	return rt.Kind == "asr" || strings.HasPrefix(rt.VssID, "a.")
}

// innertubeRequest is the minimal client context the player endpoint accepts.
type innertubeRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
		} `json:"client"`
	} `json:"context"`
	VideoID string `json:"videoId"`
}

// fetchCatalog calls the internal player endpoint, validates playability and
// extracts the caption catalog. Any playability status other than OK is a
// terminal, non-retryable condition for the video.
func (s *session) fetchCatalog(ctx context.Context, videoID string, creds bootstrapCreds) (*VideoCatalog, error) {
	reqBody := innertubeRequest{}
	reqBody.Context.Client.ClientName = "WEB"
	reqBody.Context.Client.ClientVersion = creds.ClientVersion
	reqBody.VideoID = videoID

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal player request: %w", err)
	}

	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf(playerEndpoint, creds.APIKey), strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("build player request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransientFetchError{Op: "player", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	return parsePlayerCatalog(videoID, body)
}

// parsePlayerCatalog validates playability and extracts the caption catalog
// from a raw player payload.
func parsePlayerCatalog(videoID string, body []byte) (*VideoCatalog, error) {
	var pr playerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("parse player response: %w", err)
	}

	if st := pr.PlayabilityStatus.Status; st != "" && st != "OK" {
		return nil, &VideoUnavailableError{
			VideoID: videoID,
			Status:  st,
			Reason:  pr.PlayabilityStatus.Reason,
		}
	}

	cat := &VideoCatalog{
		VideoID:    videoID,
		Title:      pr.VideoDetails.Title,
		DurationMs: extractDurationMs(&pr),
	}

	renderer := pr.Captions.PlayerCaptionsTracklistRenderer
	tracks := make([]CaptionTrack, len(renderer.CaptionTracks))
	for i, rt := range renderer.CaptionTracks {
		tracks[i] = CaptionTrack{
			LanguageCode: normalizeLang(rt.LanguageCode),
			RawLanguage:  rt.LanguageCode,
			IsAuto:       rt.isAutoGenerated(),
			DisplayName:  rt.displayName(),
			FetchURL:     rt.BaseURL,
		}
	}
	// default flags live on the audio tracks, as indices into the caption list
	for _, at := range renderer.AudioTracks {
		if at.DefaultCaptionTrackIndex != nil {
			if i := *at.DefaultCaptionTrackIndex; i >= 0 && i < len(tracks) {
				tracks[i].IsDefault = true
			}
		}
	}
	// tracks without a fetch URL cannot serve events
	for _, tr := range tracks {
		if tr.FetchURL != "" {
			cat.Tracks = append(cat.Tracks, tr)
		}
	}

	return cat, nil
}

// extractDurationMs reads the duration from either of its two known homes,
// first non-null wins.
func extractDurationMs(pr *playerResponse) int {
	for _, raw := range []string{
		pr.VideoDetails.LengthSeconds,
		pr.Microformat.PlayerMicroformatRenderer.LengthSeconds,
	} {
		if raw == "" {
			continue
		}
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return secs * 1000
		}
	}
	return 0
}
