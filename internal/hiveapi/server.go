// Package hiveapi is the hive's HTTP surface: the shape endpoint and the
// node session upgrade endpoint, mounted on one chi.Router with a health
// check route. The web UI's REST routes live elsewhere.
package hiveapi

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"swarmhive/internal/hivestore"
)

// Server wires the hive's Postgres-backed store to its two endpoints.
type Server struct {
	store    *hivestore.Store
	sessions *sessionRegistry
	log      *log.Logger
	upgrader websocket.Upgrader
}

// New creates a Server. logger may be nil.
func New(store *hivestore.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "hive ", log.LstdFlags|log.LUTC)
	}
	return &Server{
		store:    store,
		sessions: newSessionRegistry(),
		log:      logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Router builds the hive's chi.Router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/shape", s.requireAPIKey(s.handleShape))
		r.Get("/session", s.handleSession)
	})

	return r
}
