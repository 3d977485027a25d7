package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestSerializeVTT(t *testing.T) {
	cues := []Cue{
		{StartMs: 0, EndMs: 1000, Text: "Hello"},
		{StartMs: 3661001, EndMs: 3662500, Text: "one hour in"},
	}
	got := serializeVTT(cues)
	want := "WEBVTT\n\n" +
		"00:00:00.000 --> 00:00:01.000\nHello\n\n" +
		"01:01:01.001 --> 01:01:02.500\none hour in\n\n"
	if got != want {
		t.Errorf("serializeVTT() = %q, want %q", got, want)
	}
}

func TestSerializeVTTEmpty(t *testing.T) {
	got := serializeVTT(nil)
	if got != "WEBVTT\n\n" {
		t.Errorf("serializeVTT(nil) = %q, want bare header", got)
	}
}

func TestFormatVTTTimestamp(t *testing.T) {
	tests := []struct {
		ms   int
		want string
	}{
		{0, "00:00:00.000"},
		{1, "00:00:00.001"},
		{59999, "00:00:59.999"},
		{60000, "00:01:00.000"},
		{3600000, "01:00:00.000"},
		{-5, "00:00:00.000"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatVTTTimestamp(tt.ms); got != tt.want {
				t.Errorf("formatVTTTimestamp(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestVTTRoundTrip(t *testing.T) {
	cues := []Cue{
		{StartMs: 0, EndMs: 2340, Text: "first line"},
		{StartMs: 2340, EndMs: 5555, Text: "second line"},
		{StartMs: 7200123, EndMs: 7200999, Text: "two hours in"},
	}
	parsed, err := parseVTT(serializeVTT(cues))
	if err != nil {
		t.Fatalf("parseVTT() error = %v", err)
	}
	if !reflect.DeepEqual(parsed, cues) {
		t.Errorf("round trip drifted: got %+v, want %+v", parsed, cues)
	}
}

func TestParseVTT(t *testing.T) {
	t.Run("multi-line cue text joined", func(t *testing.T) {
		input := "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nline one\nline two\n\n"
		cues, err := parseVTT(input)
		if err != nil {
			t.Fatalf("parseVTT() error = %v", err)
		}
		if len(cues) != 1 || cues[0].Text != "line one line two" {
			t.Errorf("parseVTT() = %+v, want joined text", cues)
		}
	})

	t.Run("cue without text is an error", func(t *testing.T) {
		input := "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\n\n"
		if _, err := parseVTT(input); err == nil {
			t.Error("parseVTT() expected error for empty cue")
		}
	})

	t.Run("no cues", func(t *testing.T) {
		cues, err := parseVTT("WEBVTT\n\n")
		if err != nil {
			t.Fatalf("parseVTT() error = %v", err)
		}
		if len(cues) != 0 {
			t.Errorf("parseVTT() = %+v, want none", cues)
		}
	})
}

func TestPlainText(t *testing.T) {
	cues := []Cue{
		{StartMs: 0, EndMs: 1000, Text: "never gonna"},
		{StartMs: 1000, EndMs: 2000, Text: "give you up"},
	}
	got := plainText(cues)
	if got != "never gonna give you up" {
		t.Errorf("plainText() = %q", got)
	}
	if strings.Contains(got, "-->") {
		t.Error("plainText() leaked timing syntax")
	}
}
