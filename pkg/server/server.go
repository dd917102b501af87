// Package server exposes the proxy, annotation previews and a health check
// over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-annotator/pkg/backend"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/editor"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/proxy"
	"github.com/menta2k/image-annotator/pkg/types"
)

// maxPreviewSide bounds the requested preview size
const maxPreviewSide = 8192

// Options control preview rendering
type Options struct {
	Style    editor.Style
	Format   string
	Quality  int
	Lossless bool
}

// Server routes /api/ to the backend proxy and renders previews
type Server struct {
	backend   client.Backend
	proxy     http.Handler
	processor *processing.Processor
	opts      Options
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates a server. px may be nil, in which case /api/ is not served.
func New(b client.Backend, px *proxy.Proxy, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Format == "" {
		opts.Format = "png"
	}
	if opts.Quality <= 0 {
		opts.Quality = 90
	}
	if opts.Style == (editor.Style{}) {
		opts.Style = editor.DefaultStyle()
	}

	s := &Server{
		backend:   b,
		processor: processing.NewProcessor(),
		opts:      opts,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	if px != nil {
		s.proxy = px
		s.mux.Handle(proxy.Prefix, px)
	}
	s.mux.HandleFunc("GET /preview", s.handlePreview)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// Handler returns the root handler with request logging
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handlePreview renders /preview?file_id=&annotation_id=&width=&height=&format=
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fileID := q.Get("file_id")
	if fileID == "" {
		http.Error(w, "file_id is required", http.StatusBadRequest)
		return
	}
	annotationID := q.Get("annotation_id")

	width, err := sizeParam(q.Get("width"))
	if err != nil {
		http.Error(w, "width: "+err.Error(), http.StatusBadRequest)
		return
	}
	height, err := sizeParam(q.Get("height"))
	if err != nil {
		http.Error(w, "height: "+err.Error(), http.StatusBadRequest)
		return
	}

	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = s.opts.Format
	}
	switch format {
	case "png", "jpg", "jpeg", "webp":
	default:
		http.Error(w, "unsupported format: "+format, http.StatusBadRequest)
		return
	}

	req := types.RenderOptions{Width: width, Height: height, Format: format, Quality: s.opts.Quality, Lossless: s.opts.Lossless}
	body, err := s.Preview(r.Context(), fileID, annotationID, req)
	if err != nil {
		s.logger.Error("preview failed", "file_id", fileID, "annotation_id", annotationID, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", processing.ContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}

// Preview renders an image with one of its annotation sets and encodes it.
// An empty annotationID renders the bare image.
func (s *Server) Preview(ctx context.Context, fileID, annotationID string, ro types.RenderOptions) ([]byte, error) {
	var (
		data        []byte
		annotations types.Annotations
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, err = s.backend.Image(gctx, fileID)
		return err
	})
	if annotationID != "" {
		g.Go(func() error {
			var err error
			annotations, err = s.backend.Annotations(gctx, annotationID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	img, err := s.processor.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", fileID, err)
	}

	frame, err := editor.Snapshot(img, annotations, ro.Width, ro.Height,
		editor.WithStyle(s.opts.Style), editor.WithLogger(s.logger), editor.WithProcessor(s.processor))
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	var buf bytes.Buffer
	if err := s.processor.Encode(&buf, frame, ro.Format, ro.Quality, ro.Lossless); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func sizeParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > maxPreviewSide {
		return 0, fmt.Errorf("must be an integer between 0 and %d", maxPreviewSide)
	}
	return n, nil
}

// statusFor passes backend client errors through and maps everything else
// but bad render requests to 502
func statusFor(err error) int {
	if errors.Is(err, editor.ErrContainerTooSmall) {
		return http.StatusBadRequest
	}
	var se *backend.StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		return se.StatusCode
	}
	if errors.Is(err, processing.ErrUnknownFormat) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
