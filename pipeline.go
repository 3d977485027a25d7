package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const (
	defaultMinCoverage = 0.70
	credsTTL           = 15 * time.Minute
)

// Delay between batch items, overridable in tests.
var batchBaseDelay = 1500 * time.Millisecond

// FetchOptions are the per-request knobs. The zero value is not useful; start
// from DefaultFetchOptions.
type FetchOptions struct {
	// Language is the desired caption language; "" or "auto" defers to the
	// inferred spoken language.
	Language string
	// TranslateTo requests platform-side translation of the chosen track.
	TranslateTo string
	// PreferManual picks human captions over auto-generated ones.
	PreferManual bool
	// AllowFallback permits degrading to any available track.
	AllowFallback bool
	// FailIfMismatch rejects tracks whose language conflicts with the
	// detected spoken language.
	FailIfMismatch bool
	// MinCoverage is the manual-track coverage threshold below which the
	// same-language auto track is considered instead.
	MinCoverage float64
	// SkipCache bypasses the transcript cache in both directions.
	SkipCache bool
}

func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		PreferManual:  true,
		AllowFallback: true,
		MinCoverage:   defaultMinCoverage,
	}
}

// TranscriptResult is the pipeline's terminal output: serialized VTT plus the
// metadata consumers need to label it.
type TranscriptResult struct {
	VideoID        string  `json:"video_id"`
	Title          string  `json:"title,omitempty"`
	VTT            string  `json:"vtt"`
	Cues           []Cue   `json:"cues,omitempty"`
	SpokenLanguage string  `json:"spoken_language,omitempty"`
	SourceLanguage string  `json:"source_language"`
	OutputLanguage string  `json:"output_language"`
	IsAuto         bool    `json:"is_auto"`
	CoverageRatio  float64 `json:"coverage_ratio"`
	Cached         bool    `json:"cached"`
}

// Fetcher runs the per-video acquisition pipeline: bootstrap, catalog,
// inference, selection, event merge, coverage fallback, serialization. All
// collaborators are injected; a nil cache or classifier simply disables that
// step. Hold one Fetcher per worker when parallelizing.
type Fetcher struct {
	session    *session
	cache      TranscriptCache
	sampler    AudioSampler
	classifier AudioClassifier

	credsMu      sync.Mutex
	creds        bootstrapCreds
	credsExpires time.Time
}

func NewFetcher(cache TranscriptCache, sampler AudioSampler, classifier AudioClassifier) *Fetcher {
	return &Fetcher{
		session:    newSession(),
		cache:      cache,
		sampler:    sampler,
		classifier: classifier,
	}
}

// Fetch acquires the transcript for one video URL or ID. Every error it
// returns is per-video; batch callers keep going.
func (f *Fetcher) Fetch(ctx context.Context, videoOrURL string, opts FetchOptions) (*TranscriptResult, error) {
	videoID, err := extractVideoID(videoOrURL)
	if err != nil {
		return nil, err
	}
	if opts.MinCoverage <= 0 {
		opts.MinCoverage = defaultMinCoverage
	}

	key := cacheKey(videoID, opts)
	if f.cache != nil && !opts.SkipCache {
		if raw, ok := f.cache.Get(key); ok {
			var res TranscriptResult
			if err := json.Unmarshal([]byte(raw), &res); err == nil {
				res.Cached = true
				logDebug("cache hit", "video_id", videoID)
				return &res, nil
			}
			logWarn("discarding unreadable cache entry", "video_id", videoID)
		}
	}

	info, err := f.pageInfo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	cat, err := f.session.fetchCatalog(ctx, videoID, info.Creds)
	if err != nil {
		return nil, err
	}
	cat.PageLanguage = info.Language
	if cat.Title == "" {
		cat.Title = info.Title
	}
	if len(cat.Tracks) == 0 {
		return nil, &NoCaptionsError{VideoID: videoID}
	}

	spoken := inferSpokenLanguage(ctx, cat, f.sampler, f.classifier)

	sel, err := selectTrack(cat, spoken, SelectionPolicy{
		DesiredLanguage: opts.Language,
		PreferManual:    opts.PreferManual,
		AllowFallback:   opts.AllowFallback,
		FailIfMismatch:  opts.FailIfMismatch,
	})
	if err != nil {
		return nil, err
	}

	chosen := sel.Track
	translate := translationTarget(chosen, opts.TranslateTo)

	events, err := f.session.fetchEvents(ctx, chosen, translate)
	if err != nil {
		return nil, err
	}
	cues := mergeEvents(events)
	ratio := coverageRatio(events, cat.DurationMs)

	// Manual tracks that stop well short of the video's end are suspect;
	// check whether the same-language auto track reaches further. Auto
	// tracks are never swapped back the other way: they are the last-resort
	// quality tier.
	if !chosen.IsAuto && ratio < opts.MinCoverage {
		if alt := findAutoTrack(cat.Tracks, chosen.LanguageCode); alt != nil {
			altEvents, altErr := f.session.fetchEvents(ctx, *alt, translate)
			if altErr != nil {
				logWarn("auto-track comparison fetch failed", "video_id", videoID, "error", altErr.Error())
			} else if altRatio := coverageRatio(altEvents, cat.DurationMs); altRatio > ratio {
				logInfo("switching to auto track for coverage",
					"video_id", videoID, "manual_coverage", ratio, "auto_coverage", altRatio)
				chosen = *alt
				cues = mergeEvents(altEvents)
				ratio = altRatio
			}
		}
	}

	res := &TranscriptResult{
		VideoID:        videoID,
		Title:          cat.Title,
		VTT:            serializeVTT(cues),
		Cues:           cues,
		SpokenLanguage: spoken,
		SourceLanguage: chosen.LanguageCode,
		OutputLanguage: outputLanguage(chosen, translate),
		IsAuto:         chosen.IsAuto,
		CoverageRatio:  ratio,
	}

	if f.cache != nil && !opts.SkipCache {
		if raw, err := json.Marshal(res); err == nil {
			if err := f.cache.Put(key, string(raw)); err != nil {
				// cache is best effort, the fetch already succeeded
				logWarn("cache write failed", "video_id", videoID, "error", err.Error())
			}
		}
	}
	return res, nil
}

// ListTracks fetches just the catalog and the inferred spoken language,
// without touching any caption events.
func (f *Fetcher) ListTracks(ctx context.Context, videoOrURL string) (*VideoCatalog, string, error) {
	videoID, err := extractVideoID(videoOrURL)
	if err != nil {
		return nil, "", err
	}
	info, err := f.pageInfo(ctx, videoID)
	if err != nil {
		return nil, "", err
	}
	cat, err := f.session.fetchCatalog(ctx, videoID, info.Creds)
	if err != nil {
		return nil, "", err
	}
	cat.PageLanguage = info.Language
	if cat.Title == "" {
		cat.Title = info.Title
	}
	if len(cat.Tracks) == 0 {
		return nil, "", &NoCaptionsError{VideoID: videoID}
	}
	spoken := inferSpokenLanguage(ctx, cat, f.sampler, f.classifier)
	return cat, spoken, nil
}

// pageInfo bootstraps from the watch page, falling back to a recent cached
// credential pair when scraping fails. The pair has a short shelf life, so
// the cache is only a bridge over transient page-format trouble.
func (f *Fetcher) pageInfo(ctx context.Context, videoID string) (*pageInfo, error) {
	info, err := f.session.bootstrap(ctx, videoID)
	if err != nil {
		var bErr *BootstrapError
		if errors.As(err, &bErr) {
			f.credsMu.Lock()
			creds, ok := f.creds, f.creds.APIKey != "" && time.Now().Before(f.credsExpires)
			f.credsMu.Unlock()
			if ok {
				logWarn("bootstrap failed, reusing recent credentials", "video_id", videoID)
				return &pageInfo{Creds: creds}, nil
			}
		}
		return nil, err
	}

	f.credsMu.Lock()
	f.creds = info.Creds
	f.credsExpires = time.Now().Add(credsTTL)
	f.credsMu.Unlock()
	return info, nil
}

// BatchItem pairs one batch input with its per-video outcome.
type BatchItem struct {
	Input  string
	Result *TranscriptResult
	Err    error
}

// FetchBatch processes videos sequentially with a jittered delay between
// items, trading throughput for a lower rate-limiting risk. One bad video
// never aborts its siblings.
func (f *Fetcher) FetchBatch(ctx context.Context, inputs []string, opts FetchOptions) []BatchItem {
	items := make([]BatchItem, len(inputs))
	for i, in := range inputs {
		if i > 0 {
			jitter := time.Duration(float64(batchBaseDelay) * (0.75 + rand.Float64()*0.5))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				for j := i; j < len(inputs); j++ {
					items[j] = BatchItem{Input: inputs[j], Err: ctx.Err()}
				}
				return items
			}
		}
		res, err := f.Fetch(ctx, in, opts)
		items[i] = BatchItem{Input: in, Result: res, Err: err}
		if err != nil {
			logWarn("batch item failed", "input", in, "error", err.Error())
		}
	}
	return items
}

// translationTarget resolves the effective tlang parameter: empty when no
// translation was asked for or the track already speaks that language.
func translationTarget(track CaptionTrack, translateTo string) string {
	target := normalizeLang(translateTo)
	if target == "" || target == track.LanguageCode {
		return ""
	}
	return target
}

func outputLanguage(track CaptionTrack, translate string) string {
	if translate != "" {
		return translate
	}
	return track.LanguageCode
}

// findAutoTrack returns the first auto-generated track in the given
// normalized language.
func findAutoTrack(tracks []CaptionTrack, lang string) *CaptionTrack {
	for i := range tracks {
		if tracks[i].IsAuto && tracks[i].LanguageCode == lang {
			return &tracks[i]
		}
	}
	return nil
}

// cacheKey derives the cache key from everything that changes the output.
func cacheKey(videoID string, opts FetchOptions) string {
	h := sha256.Sum256([]byte(videoID +
		"|" + normalizeLang(opts.Language) +
		"|" + normalizeLang(opts.TranslateTo) +
		"|" + strconv.FormatBool(opts.PreferManual)))
	return hex.EncodeToString(h[:16])
}
