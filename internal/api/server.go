package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/metrics"
	"github.com/pagevault/pagevault/internal/urlkey"
)

// Stores bundles the persistence interfaces the server exposes.
type Stores struct {
	Queue     bot.TaskQueue
	Content   bot.ContentStore
	Labels    bot.LabelStore
	Hosts     bot.HostLedger
	Blocklist bot.Blocklist
	Sink      bot.PayloadSink
}

// Server wires HTTP handlers to the queue and content stores.
type Server struct {
	router chi.Router
	stores Stores
	idGen  bot.IDGenerator
	clock  bot.Clock
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(stores Stores, idGen bot.IDGenerator, clock bot.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		stores: stores,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.enqueueTask)
		r.Delete("/tasks/{task_id}", s.removeTask)
		r.Get("/queue/stats", s.queueStats)

		r.Route("/content/{url_key}", func(r chi.Router) {
			r.Get("/", s.getContent)
			r.Delete("/", s.purgeContent)
			r.Delete("/versions/{version_id}", s.removeVersion)
		})

		r.Route("/labels", func(r chi.Router) {
			r.Post("/", s.ensureLabel)
			r.Post("/sweep", s.sweepLabels)
			r.Put("/{label}/url-keys/{url_key}", s.attachLabelToURLKey)
			r.Delete("/{label}/url-keys/{url_key}", s.detachLabelFromURLKey)
			r.Put("/{label}/versions/{version_id}", s.attachLabelToVersion)
			r.Delete("/{label}/versions/{version_id}", s.detachLabelFromVersion)
		})

		r.Route("/blocklist/{host}", func(r chi.Router) {
			r.Get("/", s.getBlocked)
			r.Put("/", s.blockHost)
			r.Delete("/", s.unblockHost)
		})

		r.Get("/hosts/{host}", s.hostStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.stores.Queue.Counts(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	URL      string `json:"url"`
	Action   string `json:"action"`
	Prettify bool   `json:"prettify"`
}

func (s *Server) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	action := bot.Action(req.Action)
	if !bot.KnownAction(action) {
		writeError(s.logger, w, http.StatusBadRequest, "unsupported action")
		return
	}
	normalized, err := urlkey.Normalize(req.URL)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	host, err := urlkey.HostOf(normalized)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "generate task id")
		return
	}
	task := bot.Task{
		ID:         id,
		Action:     action,
		URL:        normalized,
		URLKey:     urlkey.URLKey(normalized),
		Host:       host,
		HostKey:    urlkey.HostKey(host),
		Prettify:   req.Prettify,
		EnqueuedAt: s.clock.Now(),
	}
	if err := s.stores.Queue.Enqueue(r.Context(), task); err != nil {
		if errors.Is(err, bot.ErrBlockedHost) {
			writeError(s.logger, w, http.StatusConflict, "host is blocked")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"task_id": id,
		"url_key": task.URLKey,
	})
}

func (s *Server) removeTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := s.stores.Queue.RemoveTask(r.Context(), taskID); err != nil {
		if errors.Is(err, bot.ErrUnknownTask) {
			writeError(s.logger, w, http.StatusNotFound, "task not found")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"task_id": taskID, "status": "removed"})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.stores.Queue.Counts(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.SetQueueDepth(counts.Pending, counts.Transient, counts.Permanent)
	writeJSON(s.logger, w, http.StatusOK, counts)
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "url_key")
	identity, err := s.stores.Content.IdentityByURLKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, bot.ErrUnknownIdentity) {
			writeError(s.logger, w, http.StatusNotFound, "no content for url key")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	versions, err := s.stores.Content.VersionsByURLKey(r.Context(), key)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	labels, err := s.stores.Labels.LabelsForURLKey(r.Context(), key)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"identity": identity,
		"versions": versions,
		"labels":   labels,
	})
}

// purgeContent removes the identity, every version, and the external
// payloads behind them.
func (s *Server) purgeContent(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "url_key")
	identity, err := s.stores.Content.IdentityByURLKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, bot.ErrUnknownIdentity) {
			writeError(s.logger, w, http.StatusNotFound, "no content for url key")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	locations, err := s.stores.Content.RemoveAllVersions(r.Context(), identity.ID)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, loc := range locations {
		if s.stores.Sink == nil {
			break
		}
		if err := s.stores.Sink.Delete(r.Context(), loc); err != nil {
			s.logger.Warn("delete payload", zap.String("location", loc), zap.Error(err))
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"url_key":          key,
		"removed_versions": identity.VersionCount,
	})
}

func (s *Server) removeVersion(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "url_key")
	versionID := chi.URLParam(r, "version_id")

	// Look the location up before the metadata row disappears.
	var location string
	versions, err := s.stores.Content.VersionsByURLKey(r.Context(), key)
	if err == nil {
		for _, v := range versions {
			if v.ID == versionID && v.Backend != bot.BackendDatabase {
				location = v.Location
			}
		}
	}

	if err := s.stores.Content.RemoveVersion(r.Context(), versionID); err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	if location != "" && s.stores.Sink != nil {
		if err := s.stores.Sink.Delete(r.Context(), location); err != nil {
			s.logger.Warn("delete payload", zap.String("location", location), zap.Error(err))
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"version_id": versionID, "status": "removed"})
}

type labelRequest struct {
	ShortName   string `json:"shortName"`
	Description string `json:"description"`
}

func (s *Server) ensureLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ShortName == "" {
		writeError(s.logger, w, http.StatusBadRequest, "missing label short name")
		return
	}
	label, err := s.stores.Labels.EnsureLabel(r.Context(), req.ShortName, req.Description)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, label)
}

func (s *Server) sweepLabels(w http.ResponseWriter, r *http.Request) {
	removed, err := s.stores.Labels.SweepOrphans(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) attachLabelToURLKey(w http.ResponseWriter, r *http.Request) {
	s.labelOp(w, r, s.stores.Labels.AttachToURLKey, "url_key")
}

func (s *Server) detachLabelFromURLKey(w http.ResponseWriter, r *http.Request) {
	s.labelOp(w, r, s.stores.Labels.DetachFromURLKey, "url_key")
}

func (s *Server) attachLabelToVersion(w http.ResponseWriter, r *http.Request) {
	s.labelOp(w, r, s.stores.Labels.AttachToVersion, "version_id")
}

func (s *Server) detachLabelFromVersion(w http.ResponseWriter, r *http.Request) {
	s.labelOp(w, r, s.stores.Labels.DetachFromVersion, "version_id")
}

func (s *Server) labelOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, label, target string) error, param string) {
	label := chi.URLParam(r, "label")
	target := chi.URLParam(r, param)
	if err := op(r.Context(), label, target); err != nil {
		if errors.Is(err, bot.ErrUnknownLabel) {
			writeError(s.logger, w, http.StatusNotFound, "label not found")
			return
		}
		writeError(s.logger, w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"label": label, param: target})
}

type blockRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) getBlocked(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	blocked, err := s.stores.Blocklist.IsBlocked(r.Context(), host)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"host": host, "blocked": blocked})
}

func (s *Server) blockHost(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	var req blockRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.stores.Blocklist.Block(r.Context(), host, req.Comment); err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"host": host, "status": "blocked"})
}

func (s *Server) unblockHost(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	if err := s.stores.Blocklist.Unblock(r.Context(), host); err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"host": host, "status": "unblocked"})
}

func (s *Server) hostStats(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	stats, err := s.stores.Hosts.Stats(r.Context(), host)
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, "no stats for host")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, stats)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
