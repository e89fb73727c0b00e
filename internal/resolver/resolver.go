// Package resolver classifies source URLs and turns them into URLs the
// media engine can open directly. YouTube pages are resolved through the
// companion service, which runs yt-dlp and proxies IP-bound streams.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"playbackd/internal/httputil"
	"playbackd/internal/models"
)

// playlistResolveLimit bounds concurrent resolution-service calls when a
// playlist of YouTube URLs arrives in one play command.
const playlistResolveLimit = 4

// Result is the outcome of a single resolution attempt. The resolver
// never retries; retry policy belongs to the caller.
type Result struct {
	OK          bool
	PlayableURL string
	SourceType  models.SourceType
	Message     string
}

type streamInfo struct {
	IsLive   bool   `json:"isLive"`
	AudioURL string `json:"audioUrl"`
	Title    string `json:"title"`
}

type Resolver struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a resolver talking to the resolution service at baseURL
// (no trailing slash). The client timeout is long: the service may run
// yt-dlp extraction before it can answer.
func New(baseURL string) *Resolver {
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httputil.NewClientWithTimeout(httputil.ResolveTimeout),
		// The service forks yt-dlp per cold request; don't stampede it.
		limiter: rate.NewLimiter(1, 3),
	}
}

// NewWithBaseURL is a test constructor with the limiter disabled.
func NewWithBaseURL(baseURL string) *Resolver {
	r := New(baseURL)
	r.limiter = rate.NewLimiter(rate.Inf, 0)
	return r
}

func (r *Resolver) streamURL(videoID string) string {
	return r.baseURL + "/api/youtube/stream?videoId=" + url.QueryEscape(videoID)
}

func (r *Resolver) hlsProxyURL(videoID string) string {
	return r.baseURL + "/api/youtube/hls-proxy?videoId=" + url.QueryEscape(videoID)
}

func (r *Resolver) proxyURL(videoID string) string {
	return r.baseURL + "/api/youtube/proxy?videoId=" + url.QueryEscape(videoID)
}

// Classify maps a URL string to its source type. Ordered predicates,
// first match wins, ASCII case-insensitive.
func Classify(rawURL string) models.SourceType {
	if strings.TrimSpace(rawURL) == "" {
		return models.SourceEmpty
	}
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "file://") {
		return models.SourceFile
	}
	if strings.HasPrefix(lower, "content://") {
		return models.SourceContent
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			return models.SourceHTTP
		}
		return models.SourceUnknown
	}
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)
	if strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be") {
		return models.SourceYouTubePage
	}
	if strings.HasSuffix(path, ".m3u8") || strings.Contains(lower, "/hls-proxy") {
		return models.SourceHLS
	}
	if strings.HasSuffix(path, ".mpd") {
		return models.SourceDASH
	}
	for _, ext := range []string{".mp3", ".m4a", ".aac", ".ogg", ".wav", ".flac"} {
		if strings.HasSuffix(path, ext) {
			return models.SourceAudioFile
		}
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return models.SourceHTTP
	}
	return models.SourceUnknown
}

// ExtractVideoID pulls the YouTube video ID out of a watch URL
// (youtube.com/watch?v=xxx) or a short link (youtu.be/xxx).
func ExtractVideoID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if v := u.Query().Get("v"); v != "" {
		return v, true
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		if i := strings.IndexByte(p, '/'); i >= 0 {
			p = p[:i]
		}
		if p != "" && p != "watch" {
			return p, true
		}
	}
	return "", false
}

// Resolve turns a source URL into a playable URL. A usable hint (any
// classification other than youtube_page/empty) short-circuits: the
// caller already resolved it. YouTube pages go through the service;
// everything else passes through unchanged.
func (r *Resolver) Resolve(ctx context.Context, sourceURL, hint string) Result {
	sourceType := Classify(sourceURL)

	if strings.TrimSpace(hint) != "" {
		hintType := Classify(hint)
		if hintType != models.SourceYouTubePage && hintType != models.SourceEmpty {
			return Result{OK: true, PlayableURL: hint, SourceType: hintType}
		}
	}

	if sourceType == models.SourceYouTubePage {
		videoID, ok := ExtractVideoID(sourceURL)
		if !ok {
			return Result{
				OK:         false,
				SourceType: sourceType,
				Message:    fmt.Sprintf("cannot extract videoId from %q", sourceURL),
			}
		}
		return r.ResolveByID(ctx, videoID)
	}

	return Result{OK: true, PlayableURL: sourceURL, SourceType: sourceType}
}

// ResolveByID asks the resolution service about a video ID. Live streams
// come back as the HLS relay URL; on-demand as the direct proxy URL. Any
// service failure degrades to the generic proxy URL rather than failing:
// the proxy endpoint can still succeed on its own.
func (r *Resolver) ResolveByID(ctx context.Context, videoID string) Result {
	info, err := r.fetchStreamInfo(ctx, videoID)
	if err != nil {
		log.Printf("resolver: stream info for %s: %v (degrading to proxy)", videoID, err)
		return Result{OK: true, PlayableURL: r.proxyURL(videoID), SourceType: models.SourceHTTP}
	}

	isLive := info.IsLive
	// yt-dlp sometimes misreports is_live; trust the URL shape over the flag.
	if !isLive && (strings.Contains(info.AudioURL, "manifest.googlevideo.com") || strings.Contains(info.AudioURL, ".m3u8")) {
		isLive = true
		log.Printf("resolver: live detected from audioUrl pattern for %s", videoID)
	}

	if isLive {
		return Result{OK: true, PlayableURL: r.hlsProxyURL(videoID), SourceType: models.SourceHLS}
	}
	return Result{OK: true, PlayableURL: r.proxyURL(videoID), SourceType: models.SourceHTTP}
}

func (r *Resolver) fetchStreamInfo(ctx context.Context, videoID string) (*streamInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.streamURL(videoID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "playbackd/1.0")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service returned status %d: %s", resp.StatusCode, httputil.Truncate(body, 200))
	}

	var info streamInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &info, nil
}

// ResolvePlaylist resolves every entry concurrently (bounded) and drops
// entries that fail, preserving input order. A fully failed playlist
// returns an empty slice; the caller decides the fallback.
func (r *Resolver) ResolvePlaylist(ctx context.Context, items []string) []string {
	results := make([]string, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(playlistResolveLimit)
	for i, raw := range items {
		i, raw := i, raw
		if strings.TrimSpace(raw) == "" {
			continue
		}
		g.Go(func() error {
			res := r.Resolve(gctx, raw, "")
			if res.OK && res.PlayableURL != "" {
				results[i] = res.PlayableURL
			} else {
				log.Printf("resolver: skipping unplayable playlist entry %d type=%s: %s", i, res.SourceType, res.Message)
			}
			return nil
		})
	}
	g.Wait()

	resolved := make([]string, 0, len(items))
	for _, u := range results {
		if u != "" {
			resolved = append(resolved, u)
		}
	}
	return resolved
}
