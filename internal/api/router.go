package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds all probes together.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency (database, Redis, ...).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// NewRouter builds the daemon router.
//
// Middleware order: Recoverer (outermost, catches everything), RequestID,
// RequestLogger.
func NewRouter(h *Handler, version string, probes []HealthProbe, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(Recoverer(logger))
	r.Use(RequestID)
	r.Use(RequestLogger(logger))

	r.Get("/health", healthHandler(version, probes))
	r.Route("/v1", h.RegisterRoutes)
	return r
}

// healthHandler runs every probe concurrently. Any failure or the overall
// timeout answers 503.
func healthHandler(version string, probes []HealthProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "healthy", Version: version}
		if len(probes) == 0 {
			JSON(w, r, http.StatusOK, resp)
			return
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		resp.Components = make(map[string]componentStatus, len(probes))
		for _, p := range probes {
			wg.Add(1)
			go func(p HealthProbe) {
				defer wg.Done()
				err := safeCheck(ctx, p)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
					resp.Status = "unhealthy"
					return
				}
				resp.Components[p.Name()] = componentStatus{Status: "healthy"}
			}(p)
		}
		wg.Wait()

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		JSON(w, r, status, resp)
	}
}

func safeCheck(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
