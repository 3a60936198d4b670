// Package api exposes the recording ingest and status HTTP endpoints.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"voscribe/internal/config"
	"voscribe/internal/queue"
	"voscribe/pkg/cache"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"
	"voscribe/pkg/resilience"

	"go.uber.org/zap"
)

// Store is the persistence surface the handlers need
type Store interface {
	CreateRecording(ctx context.Context, rec *model.Recording) error
	GetRecordingByID(ctx context.Context, id string) (*model.Recording, error)
	ListRecordings(ctx context.Context, limit int) ([]*model.Recording, error)
	UpdateRecordingStatus(ctx context.Context, id string, status model.RecordingStatus) error
	CreateChunk(ctx context.Context, chunk *model.AudioChunk) error
	UpdateChunk(ctx context.Context, chunk *model.AudioChunk) error
	ListChunksByRecording(ctx context.Context, recordingID string) ([]*model.AudioChunk, error)
	NextChunkSequence(ctx context.Context, recordingID string) (int, error)
}

// ObjectStore persists raw audio bytes
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	ChunkKey(recordingID string, sequence int, chunkID string) string
}

// Publisher hands chunk tasks to the transcription workers
type Publisher interface {
	PublishChunkTask(ctx context.Context, task *queue.ChunkTask) error
}

type Server struct {
	cfg     *config.Config
	store   Store
	objects ObjectStore
	q       Publisher
	cache   cache.Cache
	limiter *resilience.RateLimiter
	server  *http.Server
	once    sync.Once
}

func NewServer(cfg *config.Config, store Store, objects ObjectStore, q Publisher, redisCache cache.Cache) *Server {
	var limiter *resilience.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = resilience.NewRateLimiter(cfg.HTTP.RateLimit, time.Minute/time.Duration(cfg.HTTP.RateLimit))
	}

	return &Server{
		cfg:     cfg,
		store:   store,
		objects: objects,
		q:       q,
		cache:   redisCache,
		limiter: limiter,
	}
}

// Handler builds the full middleware-wrapped route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/recordings/", s.handleRecordingRoute)
	return corsMiddleware(loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.HTTP.Addr,
			Handler: s.Handler(),
		}
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("API server listening", zap.String("addr", s.cfg.HTTP.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		// uploads are the expensive path, reads stay unthrottled
		if s.limiter != nil && !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRecordingRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/recordings/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		s.handleRecording(w, r, id)
		return
	}

	switch parts[1] {
	case "chunks":
		s.handleChunks(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
