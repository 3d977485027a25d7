package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func init() {
	// Load .env if present (silently ignore if missing)
	godotenv.Load()
}

var (
	// Global flags
	cachePath string
	verbose   bool

	// fetch flags
	fetchLanguage   string
	fetchTranslate  string
	fetchMinCov     float64
	fetchNoFallback bool
	fetchStrict     bool
	fetchPreferAuto bool
	fetchNoCache    bool
	fetchOutput     string
	fetchPlainText  bool

	// serve flags
	serveAddr   string
	serveAPIKey string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ytcaptions",
		Short: "Fetch clean, language-matched YouTube caption tracks as VTT",
		Long: `A tool that acquires YouTube caption tracks over the internal player API,
infers the spoken language, selects the best matching track, merges the raw
rolling caption stream into stable cues and emits WebVTT.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			initLogger(level)
		},
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch <url-or-id>...",
		Short: "Fetch transcripts and print or write them as VTT",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}
	fetchCmd.Flags().StringVarP(&fetchLanguage, "language", "l", "", "desired caption language (default: detect spoken language)")
	fetchCmd.Flags().StringVar(&fetchTranslate, "translate", "", "translate captions into this language")
	fetchCmd.Flags().Float64Var(&fetchMinCov, "min-coverage", defaultMinCoverage, "manual-track coverage threshold before trying the auto track")
	fetchCmd.Flags().BoolVar(&fetchNoFallback, "no-fallback", false, "fail instead of falling back to any available track")
	fetchCmd.Flags().BoolVar(&fetchStrict, "strict-language", false, "fail when the selected track mismatches the detected spoken language")
	fetchCmd.Flags().BoolVar(&fetchPreferAuto, "prefer-auto", false, "prefer auto-generated captions over manual ones")
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "bypass the transcript cache")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "output file (or directory when fetching several videos)")
	fetchCmd.Flags().BoolVar(&fetchPlainText, "text", false, "emit plain text instead of VTT")

	tracksCmd := &cobra.Command{
		Use:   "tracks <url-or-id>",
		Short: "List the available caption tracks and the inferred spoken language",
		Args:  cobra.ExactArgs(1),
		RunE:  runTracks,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcript HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "API key required from clients (default: from YTCAPTIONS_API_KEY env)")

	rootCmd.PersistentFlags().StringVar(&cachePath, "cache-db", "", "sqlite transcript cache path (default: from YTCAPTIONS_CACHE_DB env; empty disables caching)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(tracksCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openCache opens the sqlite cache when one is configured. A nil return
// with nil error means caching is disabled.
func openCache() (*SQLiteCache, error) {
	path := getConfig(cachePath, "YTCAPTIONS_CACHE_DB")
	if path == "" {
		return nil, nil
	}
	return OpenSQLiteCache(path)
}

func fetchOptionsFromFlags() FetchOptions {
	opts := DefaultFetchOptions()
	opts.Language = fetchLanguage
	opts.TranslateTo = fetchTranslate
	opts.MinCoverage = fetchMinCov
	opts.AllowFallback = !fetchNoFallback
	opts.FailIfMismatch = fetchStrict
	opts.PreferManual = !fetchPreferAuto
	opts.SkipCache = fetchNoCache
	return opts
}

func newFetcherFromFlags() (*Fetcher, *SQLiteCache, error) {
	cache, err := openCache()
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	var tc TranscriptCache
	if cache != nil {
		tc = cache
	}
	return NewFetcher(tc, nil, nil), cache, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	fetcher, cache, err := newFetcherFromFlags()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	opts := fetchOptionsFromFlags()

	if len(args) == 1 {
		result, err := fetcher.Fetch(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		return emitResult(result, fetchOutput)
	}

	items := fetcher.FetchBatch(cmd.Context(), args, opts)
	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "error: %s: %v\n", item.Input, item.Err)
			continue
		}
		out := fetchOutput
		if out != "" {
			ext := ".vtt"
			if fetchPlainText {
				ext = ".txt"
			}
			out = filepath.Join(out, item.Result.VideoID+ext)
		}
		if err := emitResult(item.Result, out); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "error: %s: %v\n", item.Input, err)
		}
	}
	if failed == len(items) {
		return fmt.Errorf("all %d videos failed", failed)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d videos failed\n", failed, len(items))
	}
	return nil
}

func emitResult(result *TranscriptResult, output string) error {
	content := result.VTT
	if fetchPlainText {
		content = plainText(result.Cues) + "\n"
	}
	if output == "" {
		fmt.Print(content)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(output, []byte(content), 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "→ %s (%s, auto=%t, coverage=%.2f)\n",
		output, result.OutputLanguage, result.IsAuto, result.CoverageRatio)
	return nil
}

func runTracks(cmd *cobra.Command, args []string) error {
	fetcher, cache, err := newFetcherFromFlags()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	cat, spoken, err := fetcher.ListTracks(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Video:    %s\n", cat.VideoID)
	if cat.Title != "" {
		fmt.Printf("Title:    %s\n", cat.Title)
	}
	if cat.DurationMs > 0 {
		fmt.Printf("Duration: %s\n", formatVTTTimestamp(cat.DurationMs))
	}
	if spoken != "" {
		fmt.Printf("Spoken:   %s\n", spoken)
	}
	fmt.Println()
	for _, tr := range cat.Tracks {
		kind := "manual"
		if tr.IsAuto {
			kind = "auto"
		}
		def := ""
		if tr.IsDefault {
			def = " (default)"
		}
		fmt.Printf("  %-8s %-7s %s%s\n", tr.RawLanguage, kind, tr.DisplayName, def)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	fetcher, cache, err := newFetcherFromFlags()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	apiKey := getConfig(serveAPIKey, "YTCAPTIONS_API_KEY")
	return startServer(serveAddr, apiKey, fetcher, cache)
}

// getConfig returns the flag value if set, otherwise the env var.
func getConfig(flagVal, envKey string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envKey)
}
