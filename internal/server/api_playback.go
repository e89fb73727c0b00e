package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"playbackd/internal/models"
	"playbackd/internal/player"
)

// handlePlay resolves the requested source (blocking, possibly for tens
// of seconds while the resolution service runs extraction: each request
// already has its own goroutine, so command intake is never blocked) and
// forwards a fully resolved directive to the player. Only a failed
// primary resolution rejects the command; unresolvable playlist entries
// are dropped.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if s.player == nil || s.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}

	var req models.PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	// Claim the directive generation before resolving: a newer play or
	// stop issued while this resolution blocks supersedes it, and the
	// late result is discarded by the player.
	gen := s.player.Supersede()
	requestID := uuid.NewString()
	primary := s.resolver.Resolve(r.Context(), req.URL, req.Hint())
	if !primary.OK || primary.PlayableURL == "" {
		msg := primary.Message
		if msg == "" {
			msg = "failed to resolve playable URL"
		}
		log.Printf("play %s rejected: type=%s reason=%s", requestID, primary.SourceType, msg)
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	playlist := s.resolver.ResolvePlaylist(r.Context(), req.Playlist)
	if len(playlist) == 0 {
		playlist = []string{primary.PlayableURL}
	}

	log.Printf("play %s: type=%s playlist=%d", requestID, primary.SourceType, len(playlist))
	s.player.Play(gen, player.Directive{
		RequestID:   requestID,
		PlayableURL: primary.PlayableURL,
		SourceURL:   req.URL,
		SourceType:  primary.SourceType,
		Title:       orDefault(req.Title, s.appName),
		Artist:      orDefault(req.Artist, s.appName),
		Playlist:    playlist,
		Index:       req.RequestedIndex(),
	})
	writeAccepted(w)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	s.player.Pause()
	writeAccepted(w)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	s.player.Resume()
	writeAccepted(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	s.player.StopPlayback()
	writeAccepted(w)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	s.player.Next()
	writeAccepted(w)
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	s.player.Prev()
	writeAccepted(w)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	var req models.SeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PositionMs < 0 {
		writeError(w, http.StatusBadRequest, "positionMs must be >= 0")
		return
	}
	s.player.Seek(req.PositionMs)
	writeAccepted(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.player.Status())
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
