package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/ops"
)

//go:embed templates/*.html templates/*.md
var templateFS embed.FS

// NewServer creates and configures the HTTP server for the protkit web UI.
func NewServer(db *sql.DB, cfg *config.Config, runner *ops.Runner, version, bind string, port int) *http.Server {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	h := NewHandlers(db, cfg, runner, NewRenderer(templateSub, version))
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           securityHeaders(h.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handlers) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/session", http.StatusFound)
	})
	mux.HandleFunc("GET /session", h.HandleSession)
	mux.HandleFunc("GET /sessions", h.HandleSessions)
	mux.HandleFunc("POST /session/sequences", h.HandleAdd)
	mux.HandleFunc("POST /session/sequences/{idx}", h.HandleSet)
	mux.HandleFunc("DELETE /session/sequences/{idx}", h.HandleRemove)
	// Plain HTML forms cannot send DELETE
	mux.HandleFunc("POST /session/sequences/{idx}/remove", h.HandleRemove)
	mux.HandleFunc("POST /session/sequences/{idx}/predict", h.HandlePredict)
	mux.HandleFunc("POST /session/predict", h.HandlePredictAll)
	mux.HandleFunc("POST /session/analyze", h.HandleAnalyze)
	mux.HandleFunc("POST /session/example", h.HandleExample)
	mux.HandleFunc("POST /session/clear", h.HandleClear)
	mux.HandleFunc("GET /session/sequences/{idx}/structure", h.HandleStructure)
	mux.HandleFunc("GET /session/bundle", h.HandleBundle)
	mux.HandleFunc("GET /session/export.xlsx", h.HandleWorkbook)
	mux.HandleFunc("GET /session/affinity", h.HandleAffinity)
	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("protkit UI running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		// Predictions in flight finish within the shutdown window or are
		// left running and picked up by the next cycle.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
