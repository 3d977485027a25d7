package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const (
	maxRequestBodySize      = 4096 // JSON with a URL and a few knobs
	serverReadTimeout       = 5 * time.Second
	serverWriteTimeout      = 120 * time.Second // pipeline may sit in backoff
	serverIdleTimeout       = 60 * time.Second
	gracefulShutdownTimeout = 30 * time.Second
)

// TranscriptRequest is the JSON body of POST /transcript. Field semantics
// mirror FetchOptions.
type TranscriptRequest struct {
	URL            string  `json:"url"`
	Language       string  `json:"language,omitempty"`
	TranslateTo    string  `json:"translate_to,omitempty"`
	PreferAuto     bool    `json:"prefer_auto,omitempty"`
	NoFallback     bool    `json:"no_fallback,omitempty"`
	StrictLanguage bool    `json:"strict_language,omitempty"`
	MinCoverage    float64 `json:"min_coverage,omitempty"`
	SkipCache      bool    `json:"skip_cache,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	VideoID string `json:"video_id,omitempty"`
}

type HealthResponse struct {
	Status                string `json:"status"` // "ok", "degraded", "unhealthy"
	CacheEntries          int    `json:"cache_entries"`
	UptimeSeconds         int64  `json:"uptime_seconds"`
	LastSuccess           string `json:"last_success,omitempty"`
	LastSuccessAgeSeconds int64  `json:"last_success_age_seconds,omitempty"`
}

// Error codes surfaced to API clients, one per taxonomy entry.
const (
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeBootstrapFailed  = "bootstrap_failed"
	ErrCodeVideoUnavailable = "video_unavailable"
	ErrCodeAgeRestricted    = "age_restricted"
	ErrCodeNoCaptions       = "no_captions"
	ErrCodeNoMatchingTrack  = "no_matching_track"
	ErrCodeLangUndetermined = "language_undetermined"
	ErrCodeLangMismatch     = "language_mismatch"
	ErrCodeUpstream         = "upstream_error"
)

type apiServer struct {
	fetcher *Fetcher
	cache   *SQLiteCache // nil when caching is disabled

	startTime       time.Time
	lastSuccessTime time.Time
}

// startServer runs the HTTP API with graceful shutdown. Blocks until the
// process receives SIGINT/SIGTERM or the listener fails.
func startServer(addr, apiKey string, fetcher *Fetcher, cache *SQLiteCache) error {
	srv := &apiServer{fetcher: fetcher, cache: cache, startTime: time.Now()}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				provided := r.Header.Get("X-API-Key")
				if provided == "" {
					provided = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				}
				if provided != apiKey {
					writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
					return
				}
			}
			next(w, r)
		}
	}

	initRateLimiter()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("POST /transcript", rateLimitMiddleware(authMiddleware(srv.handleTranscript)))

	server := &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(http.MaxBytesHandler(mux, maxRequestBodySize)),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logInfo("shutdown signal received, gracefully stopping server")
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logError("server forced to shutdown", slog.String("error", err.Error()))
		}
	}()

	logInfo("server started", slog.String("addr", addr), slog.Bool("auth_enabled", apiKey != ""))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logError("server error", slog.String("error", err.Error()))
		return fmt.Errorf("server error: %w", err)
	}
	logInfo("server stopped")
	return nil
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if s.cache != nil {
		n, err := s.cache.Stats()
		if err != nil {
			resp.Status = "unhealthy"
		} else {
			resp.CacheEntries = n
		}
	}
	if !s.lastSuccessTime.IsZero() {
		resp.LastSuccess = s.lastSuccessTime.Format(time.RFC3339)
		resp.LastSuccessAgeSeconds = int64(time.Since(s.lastSuccessTime).Seconds())
		if resp.LastSuccessAgeSeconds > 3600 && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	req, videoID, err := parseTranscriptRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	getRequestContext(r).VideoID = videoID

	opts := DefaultFetchOptions()
	opts.Language = req.Language
	opts.TranslateTo = req.TranslateTo
	opts.PreferManual = !req.PreferAuto
	opts.AllowFallback = !req.NoFallback
	opts.FailIfMismatch = req.StrictLanguage
	opts.SkipCache = req.SkipCache
	if req.MinCoverage > 0 {
		opts.MinCoverage = req.MinCoverage
	}

	result, err := s.fetcher.Fetch(r.Context(), req.URL, opts)
	if err != nil {
		writeFetchError(w, err, videoID)
		return
	}
	getRequestContext(r).CacheHit = result.Cached
	s.lastSuccessTime = time.Now()

	writeJSON(w, http.StatusOK, result)
}

func parseTranscriptRequest(r *http.Request) (*TranscriptRequest, string, error) {
	var req TranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "", fmt.Errorf("invalid JSON: %w", err)
	}
	if req.URL == "" {
		return nil, "", fmt.Errorf("url is required")
	}
	videoID, err := extractVideoID(req.URL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid video URL: %w", err)
	}
	return &req, videoID, nil
}

// writeFetchError maps the pipeline's error taxonomy onto HTTP statuses.
func writeFetchError(w http.ResponseWriter, err error, videoID string) {
	var (
		bootErr      *BootstrapError
		unavailable  *VideoUnavailableError
		noCaptions   *NoCaptionsError
		noTrack      *NoMatchingTrackError
		undetermined *LanguageUndeterminedError
		mismatch     *LidMismatchError
		transient    *TransientFetchError
	)
	switch {
	case errors.As(err, &unavailable):
		code, status := ErrCodeVideoUnavailable, http.StatusNotFound
		if strings.Contains(strings.ToLower(unavailable.Reason), "age") {
			code, status = ErrCodeAgeRestricted, http.StatusForbidden
		}
		writeErrorWithVideo(w, status, code, err.Error(), videoID)
	case errors.As(err, &noCaptions):
		writeErrorWithVideo(w, http.StatusNotFound, ErrCodeNoCaptions, err.Error(), videoID)
	case errors.As(err, &noTrack):
		writeErrorWithVideo(w, http.StatusNotFound, ErrCodeNoMatchingTrack, err.Error(), videoID)
	case errors.As(err, &undetermined):
		writeErrorWithVideo(w, http.StatusUnprocessableEntity, ErrCodeLangUndetermined, err.Error(), videoID)
	case errors.As(err, &mismatch):
		writeErrorWithVideo(w, http.StatusConflict, ErrCodeLangMismatch, err.Error(), videoID)
	case errors.As(err, &bootErr):
		writeErrorWithVideo(w, http.StatusBadGateway, ErrCodeBootstrapFailed, err.Error(), videoID)
	case errors.As(err, &transient):
		writeErrorWithVideo(w, http.StatusBadGateway, ErrCodeUpstream, err.Error(), videoID)
	default:
		writeErrorWithVideo(w, http.StatusBadGateway, ErrCodeUpstream, err.Error(), videoID)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeErrorWithVideo(w http.ResponseWriter, status int, code, message, videoID string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, VideoID: videoID})
}
