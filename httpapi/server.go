// Package httpapi exposes a lootbox service over HTTP/JSON for
// storefronts: bearer-authenticated mint and unpack, public queries,
// and a websocket feed of engine events.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/blockberries/lootbox"
)

// Server holds the HTTP server dependencies.
type Server struct {
	svc     lootbox.Service
	hub     *Hub
	secret  []byte
	origins []string
	log     *log.Logger
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithJWTSecret enables the authenticated routes.
func WithJWTSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// WithHub mounts the event feed at /ws/events.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a new API server.
func New(svc lootbox.Service, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		origins: []string{"http://localhost:*"},
		log:     log.Default(),
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		// Queries
		r.Get("/info", s.handleInfo)
		r.Get("/categories/{id}/remaining", s.handleCategoryRemaining)
		r.Get("/options/{id}/remaining", s.handleOptionRemaining)
		r.Get("/holders/{account}/boxes/{option}", s.handleHeldBoxes)
		r.Get("/holders/{account}/balances", s.handleBalances)

		// Mutations
		r.Group(func(r chi.Router) {
			r.Use(s.requireCaller)
			r.Post("/mint", s.handleMint)
			r.Post("/unpack", s.handleUnpack)
		})
	})

	if s.hub != nil {
		s.router.Get("/ws/events", s.hub.ServeHTTP)
	}

	// Health check
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// --- Response helpers ---

type errorBody struct {
	Code     string            `json:"code"`
	Error    string            `json:"error"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Code: code, Error: message})
}

// respondServiceError maps an engine error onto an HTTP status.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	e, ok := lootbox.AsError(err)
	if !ok {
		s.log.Printf("lootbox: http: %v", err)
		respondError(w, http.StatusInternalServerError, string(lootbox.CodeUnknown), "internal error")
		return
	}
	status := httpStatus(e.Code)
	msg := e.Message
	if status == http.StatusInternalServerError {
		s.log.Printf("lootbox: http: %v", err)
		msg = "internal error"
	}
	respondJSON(w, status, errorBody{Code: string(e.Code), Error: msg, Metadata: e.Metadata})
}

func httpStatus(c lootbox.Code) int {
	switch c {
	case lootbox.CodeUnauthorized:
		return http.StatusForbidden
	case lootbox.CodeZeroAmount, lootbox.CodeInvalidConfig:
		return http.StatusBadRequest
	case lootbox.CodeInvalidOption, lootbox.CodeInvalidCategory:
		return http.StatusNotFound
	case lootbox.CodeSupplyExhausted, lootbox.CodeReentrant:
		return http.StatusConflict
	case lootbox.CodeInsufficientBoxBalance, lootbox.CodeAllocatorExhausted:
		return http.StatusUnprocessableEntity
	case lootbox.CodeNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
