// Package proxy forwards same-origin /api/ calls to the backend service.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// Prefix is the path segment that marks a proxied call
const Prefix = "/api/"

// Proxy forwards every request whose path contains /api/ to the backend,
// keeping method, headers, body and query. The path after the last /api/
// is appended to the backend URL.
type Proxy struct {
	target *url.URL
	rp     *httputil.ReverseProxy
	logger *slog.Logger
}

// New creates a proxy for the backend at backendURL
func New(backendURL string, logger *slog.Logger) (*Proxy, error) {
	target, err := url.Parse(strings.TrimSuffix(backendURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid backend URL: %q", backendURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Proxy{target: target, logger: logger}
	p.rp = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// Target returns the backend URL requests are sent to
func (p *Proxy) Target() string { return p.target.String() }

// Rest returns the part of path after the last /api/, and whether path
// contains /api/ at all
func Rest(path string) (string, bool) {
	i := strings.LastIndex(path, Prefix)
	if i < 0 {
		return "", false
	}
	return path[i+len(Prefix):], true
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodOptions, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD, POST, PUT, DELETE, PATCH, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := Rest(r.URL.Path); !ok {
		http.NotFound(w, r)
		return
	}
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	rest, _ := Rest(pr.In.URL.Path)

	out := pr.Out.URL
	out.Scheme = p.target.Scheme
	out.Host = p.target.Host
	out.Path = p.target.Path + "/" + rest
	out.RawPath = ""
	out.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = p.target.Host

	p.logger.Info("proxy", "method", pr.In.Method, "url", out.String())
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("proxy request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, "backend unavailable", http.StatusBadGateway)
}
