package models

import "time"

// SourceType classifies a source URL. Values are wire-stable: they appear
// in status payloads and history rows.
type SourceType string

const (
	SourceEmpty       SourceType = "empty"
	SourceFile        SourceType = "file"
	SourceContent     SourceType = "content"
	SourceYouTubePage SourceType = "youtube_page"
	SourceHLS         SourceType = "hls"
	SourceDASH        SourceType = "dash"
	SourceAudioFile   SourceType = "audio_file"
	SourceHTTP        SourceType = "http"
	SourceUnknown     SourceType = "unknown"
)

// PlayRequest is the body of a play command as issued by the UI.
// ResolvedURL/PlayableURL are optional pre-resolution hints (two names
// accepted for compatibility; ResolvedURL wins when both are set).
type PlayRequest struct {
	URL         string   `json:"url"`
	ResolvedURL string   `json:"resolvedUrl,omitempty"`
	PlayableURL string   `json:"playableUrl,omitempty"`
	Title       string   `json:"title,omitempty"`
	Artist      string   `json:"artist,omitempty"`
	Playlist    []string `json:"playlist,omitempty"`
	Index       *int     `json:"index,omitempty"`
}

// Hint returns the preferred pre-resolved playable URL, if any.
func (r *PlayRequest) Hint() string {
	if r.ResolvedURL != "" {
		return r.ResolvedURL
	}
	return r.PlayableURL
}

// RequestedIndex returns the playlist index the caller asked for, or -1.
func (r *PlayRequest) RequestedIndex() int {
	if r.Index == nil {
		return -1
	}
	return *r.Index
}

type SeekRequest struct {
	PositionMs int64 `json:"positionMs"`
}

// PlaybackStatus is the snapshot emitted to the UI on every observable
// transition and on the progress tick. Field names are part of the wire
// contract with the UI layer.
type PlaybackStatus struct {
	Playing    bool    `json:"playing"`
	Buffering  bool    `json:"buffering"`
	CurrentURL *string `json:"currentUrl"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	PositionMs int64   `json:"positionMs"`
	DurationMs int64   `json:"durationMs"`
	Index      int     `json:"index"`
	HasNext    bool    `json:"hasNext"`
	HasPrev    bool    `json:"hasPrev"`
	Error      *string `json:"error"`
	State      string  `json:"state"`
}

// HistoryEntry records one finished (or interrupted) track.
type HistoryEntry struct {
	ID          int64      `json:"id"`
	RequestID   string     `json:"requestId"`
	SourceURL   string     `json:"sourceUrl"`
	PlayableURL string     `json:"playableUrl"`
	SourceType  SourceType `json:"sourceType"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist"`
	StartedAt   time.Time  `json:"startedAt"`
	StoppedAt   time.Time  `json:"stoppedAt"`
	PositionMs  int64      `json:"positionMs"`
	DurationMs  int64      `json:"durationMs"`
	CreatedAt   time.Time  `json:"createdAt"`
}
