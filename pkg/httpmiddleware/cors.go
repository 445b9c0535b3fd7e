package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig configures CORS. The methods and headers are those of the API
// and are not configurable.
type CORSConfig struct {
	// Origins allowed to call the API. Empty or "*" allows any origin.
	// Matching ignores case; the configured spelling is echoed.
	Origins []string
	// Credentials allows cookies and auth headers. It turns "*" into an
	// echo of the request origin since browsers reject the combination.
	Credentials bool
	// MaxAge is how long browsers may cache a preflight. Zero omits it.
	MaxAge time.Duration
	// Headers are request headers allowed on top of the defaults.
	Headers []string
}

var (
	corsMethods = "GET, POST, PATCH, DELETE"
	corsHeaders = []string{"Content-Type", RequestIDHeader}
	corsExpose  = strings.Join([]string{
		RequestIDHeader,
		"X-RateLimit-Limit",
		"X-RateLimit-Remaining",
		"X-RateLimit-Reset",
		"Retry-After",
	}, ", ")
)

type corsPolicy struct {
	any         bool
	origins     map[string]string
	credentials bool
	headers     string
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	p := corsPolicy{
		any:         len(cfg.Origins) == 0,
		origins:     make(map[string]string, len(cfg.Origins)),
		credentials: cfg.Credentials,
		headers:     strings.Join(append(append([]string(nil), corsHeaders...), cfg.Headers...), ", "),
	}
	for _, o := range cfg.Origins {
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[strings.ToLower(o)] = o
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(int(cfg.MaxAge / time.Second))
	}
	return p
}

// allow returns the Access-Control-Allow-Origin value for origin, or "".
func (p corsPolicy) allow(origin string) string {
	if p.any && !p.credentials {
		return "*"
	}
	if p.any {
		return origin
	}
	return p.origins[strings.ToLower(origin)]
}

// varies reports whether the response depends on the Origin header.
func (p corsPolicy) varies() bool {
	return !p.any || p.credentials
}

// CORS answers preflights itself and decorates actual cross-origin requests.
// Requests from disallowed origins pass through without CORS headers and
// the browser blocks them.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if p.varies() {
				h.Add("Vary", "Origin")
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed := p.allow(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allowed != "" {
					p.decorate(h, allowed)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", p.headers)
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed != "" {
				p.decorate(h, allowed)
				h.Set("Access-Control-Expose-Headers", corsExpose)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p corsPolicy) decorate(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}
