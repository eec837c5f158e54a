package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const dataset = "SessionID,Timestamp,Description\r\n" +
	"s1,2023-01-01T00:00:00Z,Login\r\n" +
	"s2,2023-01-01T00:00:30Z,Search\r\n" +
	"s1,2023-01-01T00:02:00Z,Logout\r\n"

type cytoscape struct {
	Nodes []struct {
		Data map[string]interface{} `json:"data"`
	} `json:"nodes"`
	Edges []struct {
		Data map[string]interface{} `json:"data"`
	} `json:"edges"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Options{TempDir: t.TempDir()})
}

func uploadRequest(t *testing.T, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func fetchGraph(t *testing.T, s *Server) cytoscape {
	t.Helper()
	w := serve(s, httptest.NewRequest("GET", "/graph", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}
	var g cytoscape
	if err := json.Unmarshal(w.Body.Bytes(), &g); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	return g
}

func TestServer_UploadGraphClear(t *testing.T) {
	s := newTestServer(t)

	if g := fetchGraph(t, s); len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Fatalf("Expected empty graph before upload, got %d nodes", len(g.Nodes))
	}

	w := serve(s, uploadRequest(t, "events.csv", []byte(dataset)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp["sessions"] != float64(2) || resp["events"] != float64(3) {
		t.Errorf("Expected 2 sessions / 3 events, got %v", resp)
	}

	g := fetchGraph(t, s)
	if len(g.Nodes) != 5 {
		t.Errorf("Expected 5 nodes, got %d", len(g.Nodes))
	}
	found := false
	for _, e := range g.Edges {
		if e.Data["source"] == "Login" && e.Data["target"] == "Logout" {
			found = true
		}
	}
	if !found {
		t.Error("Expected Login -> Logout edge")
	}

	if w := serve(s, httptest.NewRequest("POST", "/clear", nil)); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from clear, got %d", w.Code)
	}
	if s.Graph() != nil {
		t.Error("Expected graph cleared")
	}
	if g := fetchGraph(t, s); len(g.Nodes) != 0 {
		t.Errorf("Expected empty graph after clear, got %d nodes", len(g.Nodes))
	}

	entries, _ := os.ReadDir(s.opts.TempDir)
	if len(entries) != 0 {
		t.Errorf("Expected upload spool removed, got %d entries", len(entries))
	}
}

func TestServer_UploadGzip(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(dataset))
	zw.Close()

	w := serve(s, uploadRequest(t, "events.csv.gz", buf.Bytes()))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if g := s.Graph(); g == nil || g.Sessions != 2 {
		t.Errorf("Expected 2 sessions, got %+v", g)
	}
}

func TestServer_UploadErrors(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		max  int64
		want int
	}{
		{"wrong method", func(t *testing.T) *http.Request {
			return httptest.NewRequest("GET", "/upload", nil)
		}, 0, http.StatusMethodNotAllowed},
		{"no file", func(t *testing.T) *http.Request {
			return httptest.NewRequest("POST", "/upload", nil)
		}, 0, http.StatusBadRequest},
		{"bad timestamp", func(t *testing.T) *http.Request {
			return uploadRequest(t, "bad.csv", []byte("SessionID,Timestamp,Description\n1,yesterday,Login\n"))
		}, 0, http.StatusBadRequest},
		{"too large", func(t *testing.T) *http.Request {
			return uploadRequest(t, "big.csv", bytes.Repeat([]byte(dataset), 64))
		}, 256, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Options{TempDir: t.TempDir(), MaxUploadBytes: tt.max})
			w := serve(s, tt.req(t))
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if s.Graph() != nil {
				t.Error("Expected no graph after a failed upload")
			}
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		method, path string
	}{
		{"POST", "/graph"},
		{"GET", "/clear"},
	}
	for _, tt := range tests {
		if w := serve(s, httptest.NewRequest(tt.method, tt.path, nil)); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: Expected 405, got %d", tt.method, tt.path, w.Code)
		}
	}
}

func TestServer_Static(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "script.js"), []byte("cytoscape()"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewServer(Options{StaticDir: dir, TempDir: t.TempDir()})

	w := serve(s, httptest.NewRequest("GET", "/script.js", nil))
	if w.Code != http.StatusOK || w.Body.String() != "cytoscape()" {
		t.Errorf("Expected static file, got %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}

	noStatic := newTestServer(t)
	if w := serve(noStatic, httptest.NewRequest("GET", "/script.js", nil)); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a static dir, got %d", w.Code)
	}
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp["status"] != "ok" || resp["has_graph"] != false {
		t.Errorf("unexpected health response: %v", resp)
	}
}

func TestClear(t *testing.T) {
	s := newTestServer(t)
	if w := serve(s, uploadRequest(t, "events.csv", []byte(dataset))); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	ts := httptest.NewServer(s)
	defer ts.Close()

	if err := Clear(context.Background(), ts.URL+"/"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Graph() != nil {
		t.Error("Expected graph cleared")
	}

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	if err := Clear(context.Background(), notFound.URL); err == nil {
		t.Error("Expected an error from a server without /clear")
	}
}
