package main

import (
	"context"
	"strings"
)

// langAliases collapses legacy ISO codes onto their modern base form.
var langAliases = map[string]string{
	"iw": "he",
	"jw": "jv",
	"in": "id",
}

// normalizeLang lower-cases a BCP-47-ish code, strips region/script subtags
// and collapses known aliases: "zh-Hans" -> "zh", "PT-BR" -> "pt". Empty in,
// empty out.
func normalizeLang(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	if base, ok := langAliases[code]; ok {
		return base
	}
	return code
}

// languageNames maps display-name fragments of auto-generated tracks to
// language codes. Checked in order so more specific names win.
var languageNames = []struct {
	name string
	code string
}{
	{"english", "en"},
	{"mandarin", "zh"},
	{"cantonese", "zh"},
	{"chinese", "zh"},
	{"spanish", "es"},
	{"french", "fr"},
	{"german", "de"},
	{"japanese", "ja"},
	{"korean", "ko"},
	{"portuguese", "pt"},
	{"russian", "ru"},
	{"hindi", "hi"},
	{"arabic", "ar"},
	{"italian", "it"},
	{"dutch", "nl"},
	{"indonesian", "id"},
	{"vietnamese", "vi"},
	{"turkish", "tr"},
}

// AudioSampler obtains a short audio sample for a video. Obtaining and
// decoding audio is the caller's concern; the pipeline only consumes the
// bytes.
type AudioSampler interface {
	Sample(ctx context.Context, videoID string) ([]byte, error)
}

// AudioClassifier identifies the spoken language of an audio sample.
type AudioClassifier interface {
	Classify(ctx context.Context, audio []byte) (lang string, confidence float64, err error)
}

// inferSpokenLanguage runs the ordered detection chain over the catalog. The
// first step that yields a code wins; total failure returns "" and is
// non-fatal (selection then degrades to its any-track policy).
//
// Manual tracks are deliberately not trusted as detection signals: they are
// often translations and say nothing about the spoken audio. Only auto
// tracks, the default-track flag and page metadata count.
func inferSpokenLanguage(ctx context.Context, cat *VideoCatalog, sampler AudioSampler, classifier AudioClassifier) string {
	// 1. Short-sample audio classification, when both collaborators are wired.
	if sampler != nil && classifier != nil {
		if audio, err := sampler.Sample(ctx, cat.VideoID); err != nil {
			logDebug("audio sample unavailable", "video_id", cat.VideoID, "error", err.Error())
		} else if len(audio) > 0 {
			if lang, conf, err := classifier.Classify(ctx, audio); err == nil && lang != "" {
				logDebug("audio classification", "video_id", cat.VideoID, "lang", lang, "confidence", conf)
				return normalizeLang(lang)
			}
		}
	}

	// 2. Auto-track display names against the language-name table.
	for _, tr := range cat.Tracks {
		if !tr.IsAuto {
			continue
		}
		name := strings.ToLower(tr.DisplayName)
		for _, ln := range languageNames {
			if strings.Contains(name, ln.name) {
				return ln.code
			}
		}
	}

	// 3. Exactly one auto track is its own answer.
	var auto *CaptionTrack
	autoCount := 0
	for i := range cat.Tracks {
		if cat.Tracks[i].IsAuto {
			auto = &cat.Tracks[i]
			autoCount++
		}
	}
	if autoCount == 1 {
		return auto.LanguageCode
	}

	// 4. A track the platform flagged as default.
	for _, tr := range cat.Tracks {
		if tr.IsDefault {
			return tr.LanguageCode
		}
	}

	// 5. Page-level document language.
	if cat.PageLanguage != "" {
		return normalizeLang(cat.PageLanguage)
	}

	// 6. Whatever track comes first.
	if len(cat.Tracks) > 0 {
		return cat.Tracks[0].LanguageCode
	}

	return ""
}
