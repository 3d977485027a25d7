package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
)

const playerStubTemplate = `{
	"playabilityStatus": {"status": "OK"},
	"videoDetails": {"videoId": "dQw4w9WgXcQ", "title": "Stub Video", "lengthSeconds": "%d"},
	"captions": {"playerCaptionsTracklistRenderer": {"captionTracks": [
		{"baseUrl": "http://%s/timedtext/manual", "languageCode": "en", "name": {"simpleText": "English"}},
		{"baseUrl": "http://%s/timedtext/auto", "languageCode": "en", "kind": "asr", "vssId": "a.en", "name": {"simpleText": "English (auto-generated)"}}
	]}}
}`

// covers 60s
const manualEventsJSON = `{"events":[
	{"tStartMs":0,"dDurationMs":5000,"segs":[{"utf8":"Hello world"}]},
	{"tStartMs":50000,"dDurationMs":10000,"segs":[{"utf8":"Goodbye"}]}
]}`

// covers 90s
const autoEventsJSON = `{"events":[
	{"tStartMs":0,"dDurationMs":6000,"segs":[{"utf8":"never gonna"}]},
	{"tStartMs":80000,"dDurationMs":10000,"segs":[{"utf8":"give you up"}]}
]}`

// covers 50s
const autoLowEventsJSON = `{"events":[
	{"tStartMs":0,"dDurationMs":5000,"segs":[{"utf8":"sparse"}]},
	{"tStartMs":40000,"dDurationMs":10000,"segs":[{"utf8":"auto"}]}
]}`

type stubConfig struct {
	durationSecs int
	playerStatus string // non-empty overrides OK
	playerReason string
	noTracks     bool
	autoJSON     string // defaults to autoEventsJSON
}

type stubStats struct {
	mu              sync.Mutex
	playerHits      int
	manualHits      int
	autoHits        int
	lastManualQuery url.Values
}

func newStubServer(t *testing.T, cfg stubConfig) (*httptest.Server, *stubStats) {
	t.Helper()
	stats := &stubStats{}
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testWatchPage)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testWatchPage)
	})
	mux.HandleFunc("/player", func(w http.ResponseWriter, r *http.Request) {
		stats.mu.Lock()
		stats.playerHits++
		stats.mu.Unlock()
		switch {
		case cfg.playerStatus != "":
			fmt.Fprintf(w, `{"playabilityStatus": {"status": %q, "reason": %q}}`, cfg.playerStatus, cfg.playerReason)
		case cfg.noTracks:
			fmt.Fprint(w, `{"playabilityStatus": {"status": "OK"}, "videoDetails": {"title": "Stub Video"}}`)
		default:
			fmt.Fprintf(w, playerStubTemplate, cfg.durationSecs, r.Host, r.Host)
		}
	})
	mux.HandleFunc("/timedtext/manual", func(w http.ResponseWriter, r *http.Request) {
		stats.mu.Lock()
		stats.manualHits++
		stats.lastManualQuery = r.URL.Query()
		stats.mu.Unlock()
		fmt.Fprint(w, manualEventsJSON)
	})
	mux.HandleFunc("/timedtext/auto", func(w http.ResponseWriter, r *http.Request) {
		stats.mu.Lock()
		stats.autoHits++
		stats.mu.Unlock()
		payload := cfg.autoJSON
		if payload == "" {
			payload = autoEventsJSON
		}
		fmt.Fprint(w, payload)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, stats
}

// newTestFetcher wires a Fetcher against the stub server. Must run before any
// other endpoint override in the same test.
func newTestFetcher(t *testing.T, base string, cache TranscriptCache) *Fetcher {
	t.Helper()
	fastDelays(t)
	setWatchURLs(t, base)
	oldEndpoint := playerEndpoint
	playerEndpoint = base + "/player?key=%s"
	t.Cleanup(func() { playerEndpoint = oldEndpoint })
	return NewFetcher(cache, nil, nil)
}

type memCache struct {
	mu     sync.Mutex
	m      map[string]string
	putErr error
}

func newMemCache() *memCache { return &memCache{m: make(map[string]string)} }

func (c *memCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *memCache) Put(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.m[key] = value
	return nil
}

func TestFetchHappyPath(t *testing.T) {
	ts, stats := newStubServer(t, stubConfig{durationSecs: 60})
	f := newTestFetcher(t, ts.URL, nil)

	res, err := f.Fetch(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", DefaultFetchOptions())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if res.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("video id = %q", res.VideoID)
	}
	if res.Title != "Stub Video" {
		t.Errorf("title = %q", res.Title)
	}
	if res.IsAuto {
		t.Error("manual track expected")
	}
	if res.SpokenLanguage != "en" || res.SourceLanguage != "en" || res.OutputLanguage != "en" {
		t.Errorf("languages = %q/%q/%q, want en/en/en", res.SpokenLanguage, res.SourceLanguage, res.OutputLanguage)
	}
	if res.CoverageRatio != 1.0 {
		t.Errorf("coverage = %v, want 1.0", res.CoverageRatio)
	}
	if res.Cached {
		t.Error("fresh fetch marked cached")
	}

	wantCues := []Cue{
		{StartMs: 0, EndMs: 5000, Text: "Hello world"},
		{StartMs: 50000, EndMs: 60000, Text: "Goodbye"},
	}
	if !reflect.DeepEqual(res.Cues, wantCues) {
		t.Errorf("cues = %+v, want %+v", res.Cues, wantCues)
	}
	if !strings.HasPrefix(res.VTT, "WEBVTT\n\n00:00:00.000 --> 00:00:05.000\nHello world\n") {
		t.Errorf("vtt = %q", res.VTT)
	}

	if stats.autoHits != 0 {
		t.Errorf("auto track fetched %d times despite good coverage", stats.autoHits)
	}
}

func TestFetchCoverageFallbackSwitches(t *testing.T) {
	// manual covers 60% of 100s, auto covers 90%: the auto track wins
	ts, stats := newStubServer(t, stubConfig{durationSecs: 100})
	f := newTestFetcher(t, ts.URL, nil)

	res, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", DefaultFetchOptions())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.IsAuto {
		t.Error("expected the auto track after the coverage switch")
	}
	if res.CoverageRatio != 0.9 {
		t.Errorf("coverage = %v, want 0.9", res.CoverageRatio)
	}
	wantCues := []Cue{
		{StartMs: 0, EndMs: 6000, Text: "never gonna"},
		{StartMs: 80000, EndMs: 90000, Text: "give you up"},
	}
	if !reflect.DeepEqual(res.Cues, wantCues) {
		t.Errorf("cues = %+v, want %+v", res.Cues, wantCues)
	}
	if stats.manualHits != 1 || stats.autoHits != 1 {
		t.Errorf("track fetches = %d manual / %d auto, want 1/1", stats.manualHits, stats.autoHits)
	}
}

func TestFetchCoverageFallbackDeclined(t *testing.T) {
	// the auto alternative covers even less; the manual track is kept
	ts, stats := newStubServer(t, stubConfig{durationSecs: 100, autoJSON: autoLowEventsJSON})
	f := newTestFetcher(t, ts.URL, nil)

	res, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", DefaultFetchOptions())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.IsAuto {
		t.Error("switched to a worse auto track")
	}
	if res.CoverageRatio != 0.6 {
		t.Errorf("coverage = %v, want 0.6", res.CoverageRatio)
	}
	if stats.autoHits != 1 {
		t.Errorf("auto track fetched %d times, want the one comparison fetch", stats.autoHits)
	}
}

func TestFetchTranslation(t *testing.T) {
	ts, stats := newStubServer(t, stubConfig{durationSecs: 60})
	f := newTestFetcher(t, ts.URL, nil)

	opts := DefaultFetchOptions()
	opts.TranslateTo = "fr"
	res, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", opts)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.SourceLanguage != "en" || res.OutputLanguage != "fr" {
		t.Errorf("languages = %q -> %q, want en -> fr", res.SourceLanguage, res.OutputLanguage)
	}
	if got := stats.lastManualQuery.Get("tlang"); got != "fr" {
		t.Errorf("tlang = %q, want fr", got)
	}
	if got := stats.lastManualQuery.Get("fmt"); got != "json3" {
		t.Errorf("fmt = %q, want json3", got)
	}
}

func TestFetchTranslationToSameLanguageIsNoop(t *testing.T) {
	ts, stats := newStubServer(t, stubConfig{durationSecs: 60})
	f := newTestFetcher(t, ts.URL, nil)

	opts := DefaultFetchOptions()
	opts.TranslateTo = "en-US"
	res, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", opts)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.OutputLanguage != "en" {
		t.Errorf("output language = %q, want en", res.OutputLanguage)
	}
	if got := stats.lastManualQuery.Get("tlang"); got != "" {
		t.Errorf("tlang = %q, want unset", got)
	}
}

func TestFetchCacheRoundTrip(t *testing.T) {
	ts, stats := newStubServer(t, stubConfig{durationSecs: 60})
	cache := newMemCache()
	f := newTestFetcher(t, ts.URL, cache)

	first, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", DefaultFetchOptions())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if first.Cached {
		t.Error("first fetch marked cached")
	}
	if stats.playerHits != 1 {
		t.Fatalf("player hits = %d, want 1", stats.playerHits)
	}

	second, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", DefaultFetchOptions())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !second.Cached {
		t.Error("second fetch not served from cache")
	}
	if second.VTT != first.VTT {
		t.Error("cached VTT differs from the original")
	}
	if stats.playerHits != 1 {
		t.Errorf("player hits = %d after cache hit, want still 1", stats.playerHits)
	}

	opts := DefaultFetchOptions()
	opts.SkipCache = true
	third, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", opts)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if third.Cached {
		t.Error("skip-cache fetch marked cached")
	}
	if stats.playerHits != 2 {
		t.Errorf("player hits = %d after skip-cache fetch, want 2", stats.playerHits)
	}
}

func TestFetchCacheWriteFailureIsSoft(t *testing.T) {
	ts, _ := newStubServer(t, stubConfig{durationSecs: 60})
	cache := newMemCache()
	cache.putErr = errors.New("disk full")
	f := newTestFetcher(t, ts.URL, cache)

	res, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", DefaultFetchOptions())
	if err != nil {
		t.Fatalf("Fetch() error = %v, cache failures must not fail the fetch", err)
	}
	if res.VTT == "" {
		t.Error("empty result")
	}
}

func TestFetchUnavailableVideo(t *testing.T) {
	ts, _ := newStubServer(t, stubConfig{playerStatus: "LOGIN_REQUIRED", playerReason: "This video is private"})
	f := newTestFetcher(t, ts.URL, nil)

	_, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", DefaultFetchOptions())
	var uErr *VideoUnavailableError
	if !errors.As(err, &uErr) {
		t.Fatalf("error = %v, want VideoUnavailableError", err)
	}
	if uErr.Status != "LOGIN_REQUIRED" {
		t.Errorf("status = %q", uErr.Status)
	}
}

func TestFetchNoCaptions(t *testing.T) {
	ts, _ := newStubServer(t, stubConfig{noTracks: true})
	f := newTestFetcher(t, ts.URL, nil)

	_, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", DefaultFetchOptions())
	var ncErr *NoCaptionsError
	if !errors.As(err, &ncErr) {
		t.Fatalf("error = %v, want NoCaptionsError", err)
	}
}

func TestFetchInvalidInput(t *testing.T) {
	ts, stats := newStubServer(t, stubConfig{durationSecs: 60})
	f := newTestFetcher(t, ts.URL, nil)

	if _, err := f.Fetch(context.Background(), "not a video", DefaultFetchOptions()); err == nil {
		t.Fatal("Fetch() expected error for unparseable input")
	}
	if stats.playerHits != 0 {
		t.Error("network touched for an invalid input")
	}
}

func TestListTracks(t *testing.T) {
	ts, _ := newStubServer(t, stubConfig{durationSecs: 60})
	f := newTestFetcher(t, ts.URL, nil)

	cat, spoken, err := f.ListTracks(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("ListTracks() error = %v", err)
	}
	if len(cat.Tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(cat.Tracks))
	}
	if spoken != "en" {
		t.Errorf("spoken = %q, want en", spoken)
	}
	if cat.Tracks[0].IsAuto || !cat.Tracks[1].IsAuto {
		t.Errorf("track kinds wrong: %+v", cat.Tracks)
	}
}

func TestFetchBatchContinuesPastFailures(t *testing.T) {
	ts, _ := newStubServer(t, stubConfig{durationSecs: 60})
	f := newTestFetcher(t, ts.URL, nil)

	inputs := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"definitely not a video",
		"dQw4w9WgXcQ",
	}
	items := f.FetchBatch(context.Background(), inputs, DefaultFetchOptions())
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].Err != nil {
		t.Errorf("item 0 failed: %v", items[0].Err)
	}
	if items[1].Err == nil {
		t.Error("item 1 should have failed")
	}
	if items[2].Err != nil {
		t.Errorf("item 2 failed: %v", items[2].Err)
	}
	if items[0].Result == nil || items[0].Result.VTT == "" {
		t.Error("item 0 has no transcript")
	}
}

func TestFetchBatchHonorsCancellation(t *testing.T) {
	ts, _ := newStubServer(t, stubConfig{durationSecs: 60})
	f := newTestFetcher(t, ts.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items := f.FetchBatch(ctx, []string{"dQw4w9WgXcQ", "dQw4w9WgXcQ", "dQw4w9WgXcQ"}, DefaultFetchOptions())
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	// everything after the first delay checkpoint must carry the context error
	for i := 1; i < len(items); i++ {
		if !errors.Is(items[i].Err, context.Canceled) {
			t.Errorf("item %d error = %v, want context.Canceled", i, items[i].Err)
		}
	}
}

func TestPageInfoReusesRecentCreds(t *testing.T) {
	var credless bool
	var mu sync.Mutex
	mux := http.NewServeMux()
	page := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if credless {
			fmt.Fprint(w, testCredlessPage)
			return
		}
		fmt.Fprint(w, testWatchPage)
	}
	mux.HandleFunc("/watch", page)
	mux.HandleFunc("/home", page)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	fastDelays(t)
	setWatchURLs(t, ts.URL)
	f := NewFetcher(nil, nil, nil)

	info, err := f.pageInfo(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("pageInfo() error = %v", err)
	}
	if info.Creds.APIKey != "test-key-123" {
		t.Fatalf("creds = %+v", info.Creds)
	}

	mu.Lock()
	credless = true
	mu.Unlock()

	info2, err := f.pageInfo(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("pageInfo() after page drift error = %v, want cached creds reuse", err)
	}
	if info2.Creds.APIKey != "test-key-123" {
		t.Errorf("reused creds = %+v", info2.Creds)
	}
}

func TestCacheKey(t *testing.T) {
	base := FetchOptions{Language: "en", PreferManual: true}

	if cacheKey("vid1", base) != cacheKey("vid1", base) {
		t.Error("cache key not deterministic")
	}
	if cacheKey("vid1", base) == cacheKey("vid2", base) {
		t.Error("video id not part of the key")
	}

	variant := base
	variant.Language = "fr"
	if cacheKey("vid1", base) == cacheKey("vid1", variant) {
		t.Error("language not part of the key")
	}

	variant = base
	variant.TranslateTo = "de"
	if cacheKey("vid1", base) == cacheKey("vid1", variant) {
		t.Error("translation target not part of the key")
	}

	variant = base
	variant.PreferManual = false
	if cacheKey("vid1", base) == cacheKey("vid1", variant) {
		t.Error("track preference not part of the key")
	}

	// region variants normalize to the same key
	variant = base
	variant.Language = "en-GB"
	if cacheKey("vid1", base) != cacheKey("vid1", variant) {
		t.Error("normalized language variants should share a key")
	}
}

func TestTranslationTarget(t *testing.T) {
	en := CaptionTrack{LanguageCode: "en"}
	tests := []struct {
		translateTo string
		want        string
	}{
		{"", ""},
		{"en", ""},
		{"en-US", ""},
		{"fr", "fr"},
		{"PT-BR", "pt"},
	}
	for _, tt := range tests {
		if got := translationTarget(en, tt.translateTo); got != tt.want {
			t.Errorf("translationTarget(en, %q) = %q, want %q", tt.translateTo, got, tt.want)
		}
	}
}
