// Package engine defines the media-engine capability the player drives:
// load a URI with a MIME hint, control playback, and observe phase
// transitions. Decoding and rendering are the engine's problem.
package engine

import (
	"errors"
	"strings"
)

// ErrBehindLiveWindow is reported when the playback cursor has fallen
// outside the retained window of a live manifest. The player treats it
// as recoverable: seek to the live edge and re-prepare.
var ErrBehindLiveWindow = errors.New("behind live window")

// Phase mirrors the engine's internal playback phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBuffering
	PhaseReady
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBuffering:
		return "buffering"
	case PhaseReady:
		return "ready"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// LiveConfig tunes how far behind the live edge the engine should sit.
// Larger target offsets trade latency for stability.
type LiveConfig struct {
	TargetOffsetMs int64
	MinOffsetMs    int64
	MaxOffsetMs    int64
}

// Track is one loadable media item.
type Track struct {
	URI      string
	MIMEType string
	Live     *LiveConfig
}

// Event is one engine notification. Exactly one of the fields is
// meaningful per event.
type Event struct {
	Phase         *Phase
	Playing       *bool
	Discontinuity bool
	Err           error
}

// Engine is the playback capability. Implementations must deliver
// events in occurrence order on the Events channel and must not block
// on a slow receiver indefinitely (buffered channel is fine).
type Engine interface {
	Load(t Track) error
	Prepare() error
	Play() error
	Pause() error
	Stop() error
	Seek(positionMs int64) error
	SeekToLiveEdge() error

	Position() int64
	Duration() int64
	IsPlaying() bool
	Phase() Phase

	Events() <-chan Event
	Close() error
}

// InferMIMEType guesses the MIME hint handed to the engine from the URL
// shape. Empty string means let the engine sniff.
func InferMIMEType(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, ".m3u8"), strings.Contains(lower, "/hls-proxy"):
		return "application/x-mpegURL"
	case strings.Contains(lower, ".mpd"):
		return "application/dash+xml"
	case strings.Contains(lower, ".mp3"):
		return "audio/mpeg"
	case strings.Contains(lower, ".m4a"):
		return "audio/mp4"
	case strings.Contains(lower, ".aac"):
		return "audio/aac"
	case strings.Contains(lower, ".ogg"):
		return "audio/ogg"
	case strings.Contains(lower, ".wav"):
		return "audio/wav"
	case strings.Contains(lower, ".flac"):
		return "audio/flac"
	default:
		return ""
	}
}
