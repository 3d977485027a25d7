package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Overridable in tests.
var (
	watchPageURL = "https://www.youtube.com/watch?v=%s"
	homePageURL  = "https://www.youtube.com/"
)

// bootstrapCreds is the dynamic credential pair every internal-API call
// needs. The page embeds it in a handful of shapes that drift over time.
type bootstrapCreds struct {
	APIKey        string
	ClientVersion string
}

// pageInfo is what a watch page yields beyond the credentials: document-level
// metadata that feeds language inference and result labeling.
type pageInfo struct {
	Creds    bootstrapCreds
	Language string
	Title    string
}

// Extraction strategies, most specific first. Each rule either yields both
// halves of the pair or defers to the next. Ordered rules keep this
// extensible when the page format drifts again.
type extractRule struct {
	name    string
	extract func(page string) (bootstrapCreds, bool)
}

var extractRules = []extractRule{
	{"direct", extractCredsDirect},
	{"ytcfg", extractCredsYtcfg},
	{"loose", extractCredsLoose},
}

var (
	apiKeyDirectRe        = regexp.MustCompile(`"INNERTUBE_API_KEY"\s*:\s*"([A-Za-z0-9_-]+)"`)
	clientVersionDirectRe = regexp.MustCompile(`"INNERTUBE_CLIENT_VERSION"\s*:\s*"([^"]+)"`)
	apiKeyLooseRe         = regexp.MustCompile(`"innertubeApiKey"\s*:\s*"([A-Za-z0-9_-]+)"`)
	clientVersionLooseRe  = regexp.MustCompile(`"clientVersion"\s*:\s*"([^"]+)"`)
	consentValueRe        = regexp.MustCompile(`name="v" value="([^"]+)"`)
)

func extractCredsDirect(page string) (bootstrapCreds, bool) {
	key := apiKeyDirectRe.FindStringSubmatch(page)
	ver := clientVersionDirectRe.FindStringSubmatch(page)
	if key == nil || ver == nil {
		return bootstrapCreds{}, false
	}
	return bootstrapCreds{APIKey: key[1], ClientVersion: ver[1]}, true
}

// extractCredsYtcfg decodes the inline ytcfg.set({...}) config object. The
// object can contain braces inside strings, so it is located with a balanced
// scan rather than a regexp.
func extractCredsYtcfg(page string) (bootstrapCreds, bool) {
	const marker = "ytcfg.set("
	for i := strings.Index(page, marker); i >= 0; {
		if obj, ok := scanJSONObject(page, i+len(marker)); ok {
			var cfg struct {
				APIKey        string `json:"INNERTUBE_API_KEY"`
				ClientVersion string `json:"INNERTUBE_CLIENT_VERSION"`
			}
			if json.Unmarshal([]byte(obj), &cfg) == nil && cfg.APIKey != "" && cfg.ClientVersion != "" {
				return bootstrapCreds{APIKey: cfg.APIKey, ClientVersion: cfg.ClientVersion}, true
			}
		}
		next := strings.Index(page[i+len(marker):], marker)
		if next < 0 {
			break
		}
		i += len(marker) + next
	}
	return bootstrapCreds{}, false
}

func extractCredsLoose(page string) (bootstrapCreds, bool) {
	key := apiKeyLooseRe.FindStringSubmatch(page)
	ver := clientVersionLooseRe.FindStringSubmatch(page)
	if key == nil || ver == nil {
		return bootstrapCreds{}, false
	}
	return bootstrapCreds{APIKey: key[1], ClientVersion: ver[1]}, true
}

func extractCreds(page string) (bootstrapCreds, bool) {
	for _, rule := range extractRules {
		if creds, ok := rule.extract(page); ok {
			logDebug("bootstrap extraction", "rule", rule.name)
			return creds, true
		}
	}
	return bootstrapCreds{}, false
}

// scanJSONObject returns the balanced {...} object starting at or after
// position from, tolerating braces inside string literals.
func scanJSONObject(s string, from int) (string, bool) {
	i := from
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	if i >= len(s) || s[i] != '{' {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for j := i; j < len(s); j++ {
		ch := s[j]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == '{' {
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 {
				return s[i : j+1], true
			}
		}
	}
	return "", false
}

// bootstrap scrapes the credential pair plus page metadata from the video's
// watch page, retrying once against the bare home page when the watch page
// yields nothing. Failure here is fatal for the whole fetch.
func (s *session) bootstrap(ctx context.Context, videoID string) (*pageInfo, error) {
	info := &pageInfo{}

	watchPage, watchErr := s.fetchPage(ctx, fmt.Sprintf(watchPageURL, videoID))
	if watchErr == nil {
		info.Language, info.Title = parsePageMeta(watchPage)
		if creds, ok := extractCreds(watchPage); ok {
			info.Creds = creds
			return info, nil
		}
		logDebug("no credentials on watch page, retrying against home page", "video_id", videoID)
	}

	homePage, homeErr := s.fetchPage(ctx, homePageURL)
	if homeErr != nil {
		if watchErr != nil {
			return nil, &BootstrapError{Err: watchErr}
		}
		return nil, &BootstrapError{Err: homeErr}
	}
	if creds, ok := extractCreds(homePage); ok {
		info.Creds = creds
		return info, nil
	}
	return nil, &BootstrapError{}
}

// fetchPage fetches a page, answering the consent interstitial with a cookie
// and one refetch when it shows up despite the pre-set cookies.
func (s *session) fetchPage(ctx context.Context, pageURL string) (string, error) {
	body, resp, err := s.get(ctx, pageURL)
	if err != nil {
		return "", err
	}

	if isConsentPage(resp, body) {
		s.answerConsent(body)
		body, resp, err = s.get(ctx, pageURL)
		if err != nil {
			return "", err
		}
		if isConsentPage(resp, body) {
			return "", fmt.Errorf("consent page persisted after setting cookie")
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page fetch: status %d", resp.StatusCode)
	}
	return string(body), nil
}

func isConsentPage(resp *http.Response, body []byte) bool {
	if resp.Request != nil && resp.Request.URL != nil &&
		strings.HasSuffix(resp.Request.URL.Host, "consent.youtube.com") {
		return true
	}
	return bytes.Contains(body, []byte(`action="https://consent.youtube.com/s"`))
}

// answerConsent sets the consent cookie, echoing the form's v token when the
// page exposes one.
func (s *session) answerConsent(body []byte) {
	value := "YES+cb"
	if m := consentValueRe.FindSubmatch(body); len(m) == 2 {
		value = "YES+" + string(m[1])
	}
	s.setConsentCookies(value)
}

// parsePageMeta pulls document-level metadata: the html lang attribute
// (normalized) and the page title.
func parsePageMeta(page string) (lang, title string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", ""
	}
	if v, ok := doc.Find("html").Attr("lang"); ok {
		lang = normalizeLang(v)
	}
	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		title = strings.TrimSpace(v)
	}
	if title == "" {
		title = strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), " - YouTube")
	}
	return lang, title
}
