package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/parceltrack/parcel-platform/aggregator"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"go.uber.org/zap"
)

// Gateway is the single public entry point. It proxies /api traffic to the
// owning service, composes the full-details view and reports platform
// health. It holds no state of its own.
type Gateway struct {
	agg *aggregator.Aggregator
	log *zap.Logger

	packageURL  *url.URL
	deliveryURL *url.URL
	userURL     *url.URL

	healthClient  *http.Client
	healthTimeout time.Duration
}

type Backends struct {
	PackageURL  string
	DeliveryURL string
	UserURL     string
}

func New(b Backends, agg *aggregator.Aggregator, log *zap.Logger) (*Gateway, error) {
	if log == nil {
		log = zap.NewNop()
	}

	pkg, err := url.Parse(b.PackageURL)
	if err != nil {
		return nil, err
	}
	del, err := url.Parse(b.DeliveryURL)
	if err != nil {
		return nil, err
	}
	usr, err := url.Parse(b.UserURL)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		agg:           agg,
		log:           log,
		packageURL:    pkg,
		deliveryURL:   del,
		userURL:       usr,
		healthClient:  &http.Client{},
		healthTimeout: 5 * time.Second,
	}, nil
}

func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.health)

	r.Route("/api", func(r chi.Router) {
		// Composition endpoint is registered explicitly so it wins over
		// the package proxy wildcard.
		r.Get("/packages/{id}/full-details", g.fullDetails)

		g.mountProxy(r, "/packages", g.packageURL)
		g.mountProxy(r, "/deliveries", g.deliveryURL)
		g.mountProxy(r, "/routes", g.deliveryURL)
		g.mountProxy(r, "/users", g.userURL)
		g.mountProxy(r, "/drivers", g.userURL)
	})

	return r
}

// mountProxy forwards /api/<prefix>... to the backend with the /api segment
// stripped, so /api/packages/123 becomes /packages/123 at the service.
func (g *Gateway) mountProxy(r chi.Router, prefix string, target *url.URL) {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, "/api")
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			g.log.Warn("backend unreachable",
				zap.String("path", req.URL.Path),
				zap.String("backend", target.String()),
				zap.Error(err))
			writeError(w, http.StatusBadGateway, "service unavailable")
		},
	}

	r.Handle(prefix, proxy)
	r.Handle(prefix+"/*", proxy)
}

func (g *Gateway) fullDetails(w http.ResponseWriter, r *http.Request) {
	out, err := g.agg.FullDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, perr.ErrNotFound):
			writeError(w, http.StatusNotFound, "package not found")
		case errors.Is(err, perr.ErrDependencyUnavailable):
			writeError(w, http.StatusBadGateway, "package service unavailable")
		default:
			g.log.Error("full details failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// health fans out to every backend concurrently. The gateway itself is
// healthy as long as it can answer; backend state is reported per service
// and an unreachable backend degrades, never fails, the response.
func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	backends := map[string]*url.URL{
		"package-service":  g.packageURL,
		"delivery-service": g.deliveryURL,
		"user-service":     g.userURL,
	}

	statuses := make(map[string]string, len(backends))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, target := range backends {
		wg.Add(1)
		go func(name string, target *url.URL) {
			defer wg.Done()

			status := g.probe(r, target)

			mu.Lock()
			statuses[name] = status
			mu.Unlock()
		}(name, target)
	}
	wg.Wait()

	overall := "healthy"
	for _, s := range statuses {
		if s != "healthy" {
			overall = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   overall,
		"gateway":  "healthy",
		"services": statuses,
	})
}

func (g *Gateway) probe(r *http.Request, target *url.URL) string {
	ctx, cancel := context.WithTimeout(r.Context(), g.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.JoinPath("/health").String(), nil)
	if err != nil {
		return "unreachable"
	}

	resp, err := g.healthClient.Do(req)
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "unhealthy"
	}

	return "healthy"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
