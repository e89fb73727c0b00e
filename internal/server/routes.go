package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))

		r.Post("/playback/play", s.handlePlay)
		r.Post("/playback/pause", s.handlePause)
		r.Post("/playback/resume", s.handleResume)
		r.Post("/playback/stop", s.handleStop)
		r.Post("/playback/next", s.handleNext)
		r.Post("/playback/prev", s.handlePrev)
		r.Post("/playback/seek", s.handleSeek)
		r.Get("/playback/status", s.handleStatus)

		r.Get("/history", s.handleListHistory)
	})

	// Streaming endpoints skip the JSON middleware; they set their own
	// content types and hold the connection open.
	s.router.Group(func(r chi.Router) {
		r.Use(corsMiddleware(s.corsOrigin))
		r.Get("/api/playback/events", s.handleStatusSSE)
		r.Get("/api/playback/ws", s.handleStatusWS)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
