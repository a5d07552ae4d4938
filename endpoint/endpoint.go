package endpoint

import (
	"strings"
)

const (
	// APIBase is the path prefix the deployed frontend proxies to the backend.
	APIBase = "/api"
	// LocalOrigin is where the backend listens during local development.
	LocalOrigin = "http://localhost:8000"
)

// ExecutionContext describes where a request target is being resolved from.
type ExecutionContext struct {
	HasWindow bool
	Hostname  string
}

func isLoopback(hostname string) bool {
	return hostname == "localhost" || hostname == "127.0.0.1"
}

// Resolve returns the request target for path given the execution context.
// Without a rendering context, and for any non-loopback host, the path goes
// through the /api reverse proxy. Loopback hosts talk to the local backend.
func Resolve(ec ExecutionContext, path string) string {
	if !ec.HasWindow {
		return APIBase + path
	}
	if isLoopback(ec.Hostname) {
		return LocalOrigin + path
	}
	return APIBase + path
}

// Resolver builds backend URLs from a fixed base chosen at startup.
type Resolver struct {
	base string
}

// New returns a Resolver for an explicitly configured base URL.
func New(baseURL string) *Resolver {
	return &Resolver{base: strings.TrimRight(baseURL, "/")}
}

// ForHost derives the base the same way Resolve does for a browser on
// hostname. Relative /api bases are anchored to https://hostname so they are
// usable from a server-side client. Without a hostname there is nothing to
// anchor to, so the local backend is used.
func ForHost(hostname string) *Resolver {
	if hostname == "" {
		return New(LocalOrigin)
	}
	base := Resolve(ExecutionContext{HasWindow: true, Hostname: hostname}, "")
	if strings.HasPrefix(base, "/") {
		base = "https://" + hostname + base
	}
	return New(base)
}

// URL returns the fully qualified target for path.
func (r *Resolver) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return r.base + path
}

// Base returns the resolved base URL.
func (r *Resolver) Base() string {
	return r.base
}
