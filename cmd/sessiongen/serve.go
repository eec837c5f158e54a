package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/sessiongen/pkg/config"
	"github.com/logflow/sessiongen/pkg/graph"
	"github.com/logflow/sessiongen/pkg/server"
	"github.com/logflow/sessiongen/pkg/telemetry"
	"github.com/logflow/sessiongen/pkg/tui"
	"github.com/logflow/sessiongen/pkg/util"
)

// Serve flags
var (
	serveAddr    string
	staticDir    string
	preloadInput string
	serverURL    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the graph of an uploaded dataset over HTTP",
	Long: `Start an HTTP server for the cytoscape.js front end.

Routes:
  POST /upload   multipart field "file"; builds and keeps the graph
  GET  /graph    current graph as cytoscape elements
  POST /clear    drop the current graph
  GET  /health   liveness
  /              static files from --static

Examples:
  sessiongen serve
  sessiongen serve --addr :9000 --static ./web
  sessiongen serve -i largest_dataset.csv`,
	RunE: runServe,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the graph held by a running server",
	Long: `Ask a running "sessiongen serve" to drop its current graph.

Examples:
  sessiongen clear
  sessiongen clear --server http://graphs.internal:8085`,
	RunE: runClear,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8085)")
	serveCmd.Flags().StringVar(&staticDir, "static", "", "Static file directory (default from config, ./static)")
	serveCmd.Flags().StringVarP(&preloadInput, "input", "i", "", "Dataset path or s3://bucket/key to build at startup")

	clearCmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default http://localhost plus the configured port)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clearCmd)
}

// serverSettings applies flag overrides to the configured server section.
func serverSettings(cmd *cobra.Command, c config.ServerConfig) config.ServerConfig {
	if cmd.Flags().Changed("addr") {
		c.Addr = serveAddr
	}
	if cmd.Flags().Changed("static") {
		c.StaticDir = staticDir
	}
	return c
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := cfgManager.Get()
	sc := serverSettings(cmd, cfg.Server)

	provider, err := telemetry.Init(ctx, telemetryConfig(cfg.Telemetry))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		provider.Shutdown(shutdownCtx)
	}()

	if sc.StaticDir != "" {
		if _, err := os.Stat(sc.StaticDir); err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "Warning: static directory %s unavailable, serving API only\n", sc.StaticDir)
			}
			sc.StaticDir = ""
		}
	}

	srv := server.NewServer(server.Options{
		StaticDir:      sc.StaticDir,
		MaxUploadBytes: sc.MaxUploadBytes,
		Tracer:         provider.Tracer(),
	})

	if preloadInput != "" {
		g, err := buildGraph(ctx, preloadInput)
		if err != nil {
			return err
		}
		srv.SetGraph(g)
		if verbose {
			fmt.Fprintf(os.Stderr, "Graph: %d nodes, %d edges from %d sessions\n", len(g.Nodes), len(g.Edges), g.Sessions)
		}
	}

	tui.PrintHeader(os.Stdout, version)
	fmt.Fprintf(os.Stdout, "  Listening on %s\n", sc.Addr)

	return server.ListenAndServe(ctx, srv, server.HTTPConfig{
		Addr:         sc.Addr,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	})
}

// buildGraph builds the graph of a local or s3:// dataset.
func buildGraph(ctx context.Context, path string) (*graph.Graph, error) {
	r, closeFn, err := util.OpenInput(ctx, path, cfgManager.Get().S3.Options())
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return graph.Build(ctx, bufio.NewReaderSize(r, 1<<20))
}

// clearTarget resolves the server URL for the clear command.
func clearTarget(c config.ServerConfig) string {
	if serverURL != "" {
		return serverURL
	}
	addr := c.Addr
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	target := clearTarget(cfgManager.Get().Server)
	if err := server.Clear(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Graph cleared on %s\n", target)
	return nil
}
