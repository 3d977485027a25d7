package main

import (
	"fmt"
	"strings"
)

// Error taxonomy for the acquisition pipeline. Every fatal error is
// per-video: batch callers record it for the item and move on.

// BootstrapError means no API key/client version pair could be scraped from
// either the watch page or the home page. No internal-API call is possible
// without the pair, so nothing downstream can run.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bootstrap failed: %v", e.Err)
	}
	return "bootstrap failed: no api key/client version found in page"
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// VideoUnavailableError carries the platform-reported playability status and
// reason (private, removed, age-restricted...). Terminal for the video.
type VideoUnavailableError struct {
	VideoID string
	Status  string
	Reason  string
}

func (e *VideoUnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("video %s unavailable (%s): %s", e.VideoID, e.Status, e.Reason)
	}
	return fmt.Sprintf("video %s unavailable (%s)", e.VideoID, e.Status)
}

// NoCaptionsError means the video played fine but its caption catalog is
// empty.
type NoCaptionsError struct {
	VideoID string
}

func (e *NoCaptionsError) Error() string {
	return fmt.Sprintf("no caption tracks available for video %s", e.VideoID)
}

// LanguageUndeterminedError: no desired language was given, inference came up
// empty, and the caller disallowed falling back to an arbitrary track.
type LanguageUndeterminedError struct {
	VideoID string
}

func (e *LanguageUndeterminedError) Error() string {
	return fmt.Sprintf("could not determine a caption language for video %s and fallback is disabled", e.VideoID)
}

// NoMatchingTrackError: a target language is known but no track carries it
// and fallback is disabled.
type NoMatchingTrackError struct {
	Language  string
	Available []string
}

func (e *NoMatchingTrackError) Error() string {
	return fmt.Sprintf("no caption track for language %q (available: %s)",
		e.Language, strings.Join(e.Available, ", "))
}

// LidMismatchError: the selected track's language conflicts with the detected
// spoken language. Only raised when the caller opts into strict matching.
type LidMismatchError struct {
	Selected string
	Spoken   string
}

func (e *LidMismatchError) Error() string {
	return fmt.Sprintf("selected track language %q does not match detected spoken language %q", e.Selected, e.Spoken)
}

// TransientFetchError: a network failure or upstream 5xx/429 that survived
// the session's retries. Retrying the whole fetch later may succeed.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }
