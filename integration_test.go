//go:build integration

package main

// Real-network tests against youtube.com. Run with:
//
//	go test -tags integration -v -run Integration
//
// These are slow (pacing, retries) and depend on the referenced videos
// staying up.

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const integrationVideo = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestIntegrationFetch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := NewFetcher(nil, nil, nil)
	res, err := f.Fetch(ctx, integrationVideo, DefaultFetchOptions())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.HasPrefix(res.VTT, "WEBVTT") {
		t.Errorf("vtt does not start with header: %q", res.VTT[:40])
	}
	if len(res.Cues) == 0 {
		t.Fatal("no cues")
	}
	if res.SourceLanguage == "" || res.OutputLanguage == "" {
		t.Errorf("languages missing: %+v", res)
	}
	t.Logf("title=%q lang=%s auto=%t coverage=%.2f cues=%d",
		res.Title, res.SourceLanguage, res.IsAuto, res.CoverageRatio, len(res.Cues))
}

func TestIntegrationListTracks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := NewFetcher(nil, nil, nil)
	cat, spoken, err := f.ListTracks(ctx, integrationVideo)
	if err != nil {
		t.Fatalf("ListTracks() error = %v", err)
	}
	if len(cat.Tracks) == 0 {
		t.Fatal("no tracks")
	}
	t.Logf("spoken=%s tracks=%d duration=%s", spoken, len(cat.Tracks), formatVTTTimestamp(cat.DurationMs))
}

func TestIntegrationUnavailableVideo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := NewFetcher(nil, nil, nil)
	// syntactically valid id that does not exist
	_, err := f.Fetch(ctx, "aaaaaaaaaa1", DefaultFetchOptions())
	if err == nil {
		t.Fatal("Fetch() expected error for a nonexistent video")
	}
	var uErr *VideoUnavailableError
	if !errors.As(err, &uErr) {
		t.Logf("error was %T: %v (acceptable as long as it is per-video)", err, err)
	}
}
