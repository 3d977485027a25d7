package main

// SelectionPolicy carries the caller-facing knobs for track selection.
type SelectionPolicy struct {
	// DesiredLanguage is the caller's explicit choice. "" or "auto" defers to
	// the inferred spoken language.
	DesiredLanguage string
	// PreferManual picks human-authored tracks over auto-generated ones when
	// both exist in the target language.
	PreferManual bool
	// AllowFallback permits degrading to "any available track" when the
	// target language cannot be determined or matched.
	AllowFallback bool
	// FailIfMismatch rejects any selection whose language differs from the
	// inferred spoken language, for quality-sensitive consumers.
	FailIfMismatch bool
}

// SelectionResult is the authoritative outcome of track selection, consumed
// by the event fetcher and the coverage fallback.
type SelectionResult struct {
	Track          CaptionTrack
	SpokenLanguage string
	AllTracks      []CaptionTrack
}

// selectTrack reconciles the desired language, the inferred spoken language
// and the catalog into one caption track. Pure function: the same inputs
// always select the same track.
func selectTrack(cat *VideoCatalog, spoken string, pol SelectionPolicy) (*SelectionResult, error) {
	tracks := cat.Tracks
	if len(tracks) == 0 {
		return nil, &NoCaptionsError{VideoID: cat.VideoID}
	}

	target := normalizeLang(pol.DesiredLanguage)
	if target == "auto" {
		target = ""
	}
	if target == "" {
		target = spoken
	}

	pick := func(tr CaptionTrack) (*SelectionResult, error) {
		if pol.FailIfMismatch && spoken != "" && tr.LanguageCode != spoken {
			return nil, &LidMismatchError{Selected: tr.LanguageCode, Spoken: spoken}
		}
		return &SelectionResult{Track: tr, SpokenLanguage: spoken, AllTracks: tracks}, nil
	}

	// Fallback order: first manual track, else first track of any kind.
	anyTrack := func() (*SelectionResult, error) {
		for _, tr := range tracks {
			if !tr.IsAuto {
				return pick(tr)
			}
		}
		return pick(tracks[0])
	}

	if target == "" {
		if !pol.AllowFallback {
			return nil, &LanguageUndeterminedError{VideoID: cat.VideoID}
		}
		return anyTrack()
	}

	// Two passes over the catalog, preferred kind first. Duplicate
	// (language, kind) pairs are tolerated; the first match wins.
	byKind := func(wantAuto bool) *CaptionTrack {
		for i := range tracks {
			if tracks[i].LanguageCode == target && tracks[i].IsAuto == wantAuto {
				return &tracks[i]
			}
		}
		return nil
	}
	firstAuto := !pol.PreferManual
	if tr := byKind(firstAuto); tr != nil {
		return pick(*tr)
	}
	if tr := byKind(!firstAuto); tr != nil {
		return pick(*tr)
	}

	if !pol.AllowFallback {
		avail := make([]string, 0, len(tracks))
		for _, tr := range tracks {
			avail = append(avail, tr.LanguageCode)
		}
		return nil, &NoMatchingTrackError{Language: target, Available: avail}
	}
	return anyTrack()
}
