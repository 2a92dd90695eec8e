package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"trendcast/internal/observability"
)

type Server struct {
	Router *mux.Router
	Logger *slog.Logger
}

func New(log *slog.Logger) *Server {
	return &Server{Router: mux.NewRouter(), Logger: log}
}

// Handler wraps the router with request metrics and logging.
func (s *Server) Handler() http.Handler {
	s.Router.Use(Metrics(observability.HTTPRequests))
	return Logging(s.Logger, s.Router)
}
