// Package backend is the development backend of the outpost: scene and
// agent storage over SQLite, the REST contract the movement controller
// talks to, and a websocket stream pushing scene snapshots and commands.
package backend

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"outpost.ai/internal/persistence/actionlog"
	"outpost.ai/internal/persistence/sqlitestore"
)

type Config struct {
	Store   *sqlitestore.Store
	// Journal, when set, receives a copy of every accepted action log.
	Journal *actionlog.Journal
	Log     *log.Logger
	Now     func() time.Time

	// AllowedOrigins for browser clients. Empty allows any origin.
	AllowedOrigins []string
	// PingInterval keeps idle streams alive.
	PingInterval   time.Duration
	// StreamQueue is the per-subscriber frame buffer.
	StreamQueue    int
}

type Server struct {
	store   *sqlitestore.Store
	journal *actionlog.Journal
	log     *log.Logger
	now     func() time.Time
	hub     *Hub
	cfg     Config

	upgrader websocket.Upgrader
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("backend: nil store")
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.StreamQueue <= 0 {
		cfg.StreamQueue = 32
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		store:   cfg.Store,
		journal: cfg.Journal,
		log:     cfg.Log,
		now:     cfg.Now,
		hub:     NewHub(cfg.Log),
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

func (s *Server) Hub() *Hub { return s.hub }

// Close ends all stream subscriptions. The store is owned by the caller.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/scenes/{sceneID}", func(sr chi.Router) {
			sr.Get("/", s.getScene)
			sr.Put("/", s.putScene)
			sr.Get("/stream", s.stream)
		})
		api.Route("/agents/{agentID}", func(ar chi.Router) {
			ar.Put("/position", s.putPosition)
			ar.Post("/maintain-energy", s.maintainEnergy)
			ar.Get("/actions", s.listActions)
			ar.Post("/actions", s.postAction)
			ar.Post("/commands", s.postCommand)
		})
	})
	return r
}
