package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/storage"
)

// Version is reported by /health
var Version = "dev"

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	store storage.Store
	mux   *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server. A nil store is
// reported as not ready.
func NewHealthServer(store storage.Store) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		store: store,
		mux:   mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/components", metrics.HealthHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Serve listens on addr until ctx is cancelled
func (hs *HealthServer) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 while the process is up
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// readyHandler checks the store and every critical component
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := map[string]string{"store": "ok"}
	var problems []string

	if err := hs.pingStore(); err != nil {
		checks["store"] = err.Error()
		problems = append(problems, "store: "+err.Error())
	}

	// Loops and anything else registered as critical
	readiness := metrics.GetReadiness()
	for name, state := range readiness.Components {
		if name == "store" {
			continue
		}
		checks[name] = state
		if state != "ready" {
			problems = append(problems, name+": "+state)
		}
	}
	sort.Strings(problems)

	resp := ReadyResponse{Status: "ready", Timestamp: time.Now(), Checks: checks}
	code := http.StatusOK
	if len(problems) > 0 {
		resp.Status = "not ready"
		resp.Message = strings.Join(problems, "; ")
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// pingStore runs a read transaction against the store
func (hs *HealthServer) pingStore() error {
	if hs.store == nil {
		return errors.New("not initialized")
	}
	err := hs.store.View(func(tx storage.Tx) error {
		_, err := tx.ListHeartbeats()
		return err
	})
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}
	return nil
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
