// Package server serves the directly-follows graph of an uploaded dataset
// over HTTP for the cytoscape.js front end.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/graph"
	"github.com/logflow/sessiongen/pkg/telemetry"
	"github.com/logflow/sessiongen/pkg/util"
)

// DefaultMaxUploadBytes bounds the request body of /upload.
const DefaultMaxUploadBytes = 3 << 30

// Options configures a Server.
type Options struct {
	// StaticDir is served under "/". Empty disables static files.
	StaticDir string

	MaxUploadBytes int64

	// TempDir receives uploads while the graph is built. Empty means
	// os.TempDir().
	TempDir string

	Tracer trace.Tracer
}

// Server holds the most recently built graph.
type Server struct {
	opts   Options
	mux    *http.ServeMux
	tracer trace.Tracer

	mu    sync.RWMutex
	graph *graph.Graph
}

// NewServer creates a server with an empty graph.
func NewServer(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		opts:   opts,
		mux:    http.NewServeMux(),
		tracer: opts.Tracer,
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(telemetry.TracerName)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/graph", s.handleGraph)
	s.mux.HandleFunc("/clear", s.handleClear)
	s.mux.HandleFunc("/health", s.handleHealth)

	if s.opts.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticDir)))
	} else {
		s.mux.Handle("/", http.NotFoundHandler())
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mux.ServeHTTP(w, r)
}

// Graph returns the current graph, or nil after a clear.
func (s *Server) Graph() *graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// SetGraph replaces the current graph.
func (s *Server) SetGraph(g *graph.Graph) {
	s.mu.Lock()
	s.graph = g
	s.mu.Unlock()
}

// Clear drops the current graph.
func (s *Server) Clear() {
	s.mu.Lock()
	s.graph = nil
	s.mu.Unlock()
}

// handleUpload stores the "file" form field in a temporary file and
// replaces the current graph with the one built from it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.ContentLength > s.opts.MaxUploadBytes {
		jsonError(w, "Upload too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ctx, span := s.tracer.Start(r.Context(), "upload", trace.WithAttributes(telemetry.Attr("file", header.Filename)))
	g, err := s.build(ctx, file, header.Filename)
	telemetry.End(span, err)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			jsonError(w, "Upload too large", http.StatusRequestEntityTooLarge)
		case lferrors.IsCode(err, lferrors.CodeParseFailed):
			jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.SetGraph(g)

	jsonResponse(w, map[string]interface{}{
		"message":  "file uploaded and graph built",
		"sessions": g.Sessions,
		"events":   g.Events,
		"nodes":    len(g.Nodes),
		"edges":    len(g.Edges),
	})
}

// build spools the upload to disk, keeping its compression suffix so the
// reader can decompress it, and builds the graph from the copy.
func (s *Server) build(ctx context.Context, src io.Reader, name string) (*graph.Graph, error) {
	suffix := ".csv"
	if util.Compression(name) != "" {
		suffix += filepath.Ext(name)
	}
	tmp, err := os.CreateTemp(s.opts.TempDir, "upload-*"+suffix)
	if err != nil {
		return nil, lferrors.FromFS(err, "create upload file", s.opts.TempDir)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to save upload")
	}

	r, cleanup, err := util.OpenFile(tmp.Name())
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return graph.Build(ctx, bufio.NewReaderSize(r, 1<<20))
}

// handleGraph returns the current graph as cytoscape elements. Before any
// upload, or after a clear, both lists are empty.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g := s.Graph()
	if g == nil {
		g = &graph.Graph{Nodes: []*graph.Node{}, Edges: []*graph.Edge{}}
	}
	jsonResponse(w, g.Cytoscape())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Clear()
	jsonResponse(w, map[string]string{"message": "graph cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"status":    "ok",
		"has_graph": s.Graph() != nil,
	})
}

// HTTPConfig carries the listener settings.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ListenAndServe serves h until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, h http.Handler, cfg HTTPConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return lferrors.Wrap(err, lferrors.CodeUnknown, "server failed").WithContext("addr", cfg.Addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
