// Package server serves the files of a configured Storage over HTTP.
//
//	GET /storage/*           file on the default disk
//	GET /disks               configured disks
//	GET /disks/{disk}/*      file on a named disk
//	GET /healthz
//	GET /metrics
//
// Files on private disks are only served with a ?signature= token issued
// by the disk's TemporaryURL.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shashiranjanraj/filestore/pkg/logger"
	"github.com/shashiranjanraj/filestore/pkg/metrics"
	"github.com/shashiranjanraj/filestore/pkg/middleware"
	"github.com/shashiranjanraj/filestore/pkg/response"
	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/urlsign"
)

// Options tunes the server. The zero value allows no cross-origin reads
// and applies no rate limit.
type Options struct {
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
}

// Server is an http.Handler over a Storage.
type Server struct {
	st     *storage.Storage
	router chi.Router

	mu    sync.Mutex
	disks map[string]*storage.Storage // named disks, built on first request
}

// New builds the router. st must already be configured.
func New(st *storage.Storage, opts Options) *Server {
	s := &Server{st: st, disks: map[string]*storage.Storage{}}

	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware(routePattern))
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(middleware.NewLimiter(opts.RateLimit, opts.RateWindow).Middleware)

	r.Get("/healthz", s.health)
	r.Get("/metrics", metrics.Handler())
	r.Get("/disks", s.listDisks)

	files := func(r chi.Router, h http.HandlerFunc) {
		r.Get("/*", h)
		r.Head("/*", h)
	}
	r.Route("/storage", func(r chi.Router) { files(r, s.serveDefault) })
	r.Route("/disks/{disk}", func(r chi.Router) { files(r, s.serveNamed) })

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { response.NotFound(w) })

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("file server listening", "addr", addr, "default_disk", s.st.Name())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	logger.Info("file server stopped")
	return nil
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, map[string]string{"status": "ok", "default_disk": s.st.Name()})
}

type diskInfo struct {
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	Visibility string `json:"visibility"`
	Default    bool   `json:"default"`
}

func (s *Server) listDisks(w http.ResponseWriter, _ *http.Request) {
	def := s.st.Name()
	disks := s.st.Registry().Disks()
	out := make([]diskInfo, 0, len(disks))
	for _, d := range disks {
		vis := "public"
		if d.Private() {
			vis = "private"
		}
		out = append(out, diskInfo{Name: d.Name, Driver: d.DriverID(), Visibility: vis, Default: d.Name == def})
	}
	response.Success(w, out)
}

func (s *Server) serveDefault(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, s.st.Name(), s.st)
}

func (s *Server) serveNamed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "disk")
	st, err := s.disk(r.Context(), name)
	if errors.Is(err, storage.ErrDiskNotDefined) {
		response.Error(w, http.StatusNotFound, "unknown disk "+name)
		return
	}
	if err != nil {
		logger.WithCtx(r.Context()).Error("open disk", "disk", name, "error", err)
		response.Error(w, http.StatusBadGateway, "disk unavailable")
		return
	}
	s.serveFile(w, r, name, st)
}

// disk returns the Storage bound to name, building and caching it on first
// use.
func (s *Server) disk(ctx context.Context, name string) (*storage.Storage, error) {
	if name == s.st.Name() {
		return s.st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.disks[name]; ok {
		return st, nil
	}
	st, err := s.st.DiskStorage(ctx, name)
	if err != nil {
		return nil, err
	}
	s.disks[name] = st
	return st, nil
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, disk string, st *storage.Storage) {
	ctx := r.Context()
	log := logger.WithCtx(ctx).With("disk", disk)

	p, ok := cleanPath(chi.URLParam(r, "*"))
	if !ok {
		response.Error(w, http.StatusBadRequest, "invalid path")
		return
	}

	cfg, _ := st.Registry().Lookup(disk)
	if cfg.Private() {
		sig := r.URL.Query().Get("signature")
		if _, err := urlsign.Verify([]byte(cfg.SigningKey), sig, disk, p); err != nil {
			log.Debug("signature rejected", "path", p, "error", err)
			response.Forbidden(w)
			return
		}
	}

	size, err := st.Size(ctx, p)
	if err != nil {
		fail(w, log, p, err)
		return
	}
	modified, err := st.LastModified(ctx, p)
	if err != nil {
		fail(w, log, p, err)
		return
	}

	ctype := mime.TypeByExtension(path.Ext(p))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Content-Type", ctype)
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	h.Set("Last-Modified", time.UnixMilli(modified).UTC().Format(http.TimeFormat))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, err := st.Get(ctx, p)
	if err != nil {
		h.Del("Content-Length")
		fail(w, log, p, err)
		return
	}
	defer rc.Close()

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn("stream file", "path", p, "error", err)
	}
}

func fail(w http.ResponseWriter, log *slog.Logger, p string, err error) {
	switch {
	case errors.Is(err, storage.ErrFileNotFound):
		response.NotFound(w)
	case errors.Is(err, storage.ErrInvalidPath):
		response.Error(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, storage.ErrUnauthenticated):
		log.Error("backend rejected credentials", "path", p, "error", err)
		response.Error(w, http.StatusBadGateway, "disk unavailable")
	default:
		log.Error("read file", "path", p, "error", err)
		response.Error(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// cleanPath rejects empty paths and any ".." segment.
func cleanPath(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	return p, true
}
