// Package server exposes the engine over a JSON HTTP API. Every route
// sits behind bearer-token authentication; mutations are attributed to
// the resolved key for auditing.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/service"
	"github.com/dbackup/dbackup/internal/store"
	"github.com/dbackup/dbackup/internal/usecase"
)

type Server struct {
	http       *http.Server
	logger     *logger.Logger
	adminToken string

	store   *store.Store
	jobs    *service.JobService
	configs *service.ConfigService
	apikeys *service.APIKeyService
	audit   *service.AuditService
	restore *usecase.RestoreService
}

type Deps struct {
	Store   *store.Store
	Jobs    *service.JobService
	Configs *service.ConfigService
	APIKeys *service.APIKeyService
	Audit   *service.AuditService
	Restore *usecase.RestoreService
}

func New(addr, adminToken string, deps Deps, log *logger.Logger) *Server {
	s := &Server{
		logger:     log,
		adminToken: adminToken,
		store:      deps.Store,
		jobs:       deps.Jobs,
		configs:    deps.Configs,
		apikeys:    deps.APIKeys,
		audit:      deps.Audit,
		restore:    deps.Restore,
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)
			r.Get("/{id}", s.handleGetJob)
			r.Put("/{id}", s.handleUpdateJob)
			r.Delete("/{id}", s.handleDeleteJob)
			r.Post("/{id}/trigger", s.handleTriggerJob)
		})

		r.Post("/restore", s.handleRestore)

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.handleListExecutions)
			r.Get("/{id}", s.handleGetExecution)
		})

		r.Route("/adapter-configs", func(r chi.Router) {
			r.Get("/", s.handleListConfigs)
			r.Post("/", s.handleCreateConfig)
			r.Get("/{id}", s.handleGetConfig)
			r.Put("/{id}", s.handleUpdateConfig)
			r.Delete("/{id}", s.handleDeleteConfig)
			r.Post("/{id}/test", s.handleTestConfig)
		})

		r.Route("/encryption-profiles", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/", s.handleCreateProfile)
			r.Delete("/{id}", s.handleDeleteProfile)
		})

		r.Route("/apikeys", func(r chi.Router) {
			r.Get("/", s.handleListAPIKeys)
			r.Post("/", s.handleCreateAPIKey)
			r.Patch("/{id}", s.handleUpdateAPIKey)
			r.Delete("/{id}", s.handleDeleteAPIKey)
		})

		r.Get("/audit", s.handleListAudit)
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = 0

// authenticate resolves the bearer token to an identity. The bootstrap
// admin token short-circuits; everything else must be an API key.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if s.adminToken != "" && token == s.adminToken {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, "admin")))
			return
		}

		key, err := s.apikeys.Validate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrAPIKeyDisabled), errors.Is(err, domain.ErrAPIKeyExpired):
				writeError(w, http.StatusForbidden, err.Error())
			default:
				writeError(w, http.StatusUnauthorized, "invalid api key")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, key.ID)))
	})
}

func userID(r *http.Request) string {
	if id, ok := r.Context().Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func (s *Server) Start() error {
	s.logger.Infof("http server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
