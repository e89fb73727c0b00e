package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"playbackd/internal/player"
	"playbackd/internal/resolver"
	"playbackd/internal/store"
)

// Server is the command front-end: it validates playback commands,
// resolves sources, forwards directives to the player, and relays the
// player's status events to the UI. It holds no playback state itself.
type Server struct {
	router     chi.Router
	store      *store.Store
	resolver   *resolver.Resolver
	player     *player.Player
	corsOrigin string
	appName    string
}

func NewServer(s *store.Store, opts ...Option) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		store:   s,
		appName: "playbackd",
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithResolver(r *resolver.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

func WithPlayer(p *player.Player) Option {
	return func(s *Server) { s.player = p }
}

func WithAppName(name string) Option {
	return func(s *Server) { s.appName = name }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
