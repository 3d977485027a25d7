package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

var logger *slog.Logger

// initLogger sets up structured JSON logging.
func initLogger(level slog.Level) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// The log helpers are no-ops until initLogger runs, so library-style use of
// the pipeline stays silent by default.

func logInfo(msg string, attrs ...any) {
	if logger != nil {
		logger.Info(msg, attrs...)
	}
}

func logWarn(msg string, attrs ...any) {
	if logger != nil {
		logger.Warn(msg, attrs...)
	}
}

func logError(msg string, attrs ...any) {
	if logger != nil {
		logger.Error(msg, attrs...)
	}
}

func logDebug(msg string, attrs ...any) {
	if logger != nil {
		logger.Debug(msg, attrs...)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestContext holds request-scoped data the handlers fill in for the
// access log.
type requestContext struct {
	VideoID  string
	CacheHit bool
}

type ctxKey string

const reqCtxKey ctxKey = "requestContext"

func setRequestContext(r *http.Request, ctx *requestContext) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), reqCtxKey, ctx))
}

func getRequestContext(r *http.Request) *requestContext {
	if ctx, ok := r.Context().Value(reqCtxKey).(*requestContext); ok {
		return ctx
	}
	return &requestContext{}
}

// loggingMiddleware emits one structured access-log line per request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		r = setRequestContext(r, &requestContext{})
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		reqCtx := getRequestContext(r)
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("ip", getClientIP(r)),
		}
		if reqCtx.VideoID != "" {
			attrs = append(attrs, slog.String("video_id", reqCtx.VideoID))
		}
		if r.Method == http.MethodPost {
			attrs = append(attrs, slog.Bool("cache_hit", reqCtx.CacheHit))
		}

		switch {
		case wrapped.status >= 500:
			logError("request failed", attrs...)
		case wrapped.status >= 400:
			logWarn("request error", attrs...)
		default:
			logInfo("request completed", attrs...)
		}
	})
}
