// Package middleware wraps the Tailwind API router.
//
// The chain used by the server is CORS → Recoverer → RequestLogger. Every
// request except health probes from the load balancer is logged with its
// full request URI, so the relaxed matching flag and sweep calls show up in
// the access log.
package middleware

import (
	"log"
	"net/http"
	"time"
)

// HealthPath is polled by the load balancer and kept out of the access log.
const HealthPath = "/health"

// statusRecorder remembers the status a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// RequestLogger writes one access line per API call.
//
//	[http] POST /api/v1/match/7?relaxed=true → 200 (1.9ms)
//	[http] POST /api/v1/messages/42/flight → 201 (6.8ms)
//	[http] GET /api/v1/flights/42 → 404 (0.3ms)
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == HealthPath {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Printf("[http] %s %s → %d (%s)",
			r.Method, r.URL.RequestURI(), rec.status, time.Since(start).Round(100*time.Microsecond))
	})
}

// Recoverer turns a handler panic into the API's JSON internal_error reply.
// Simulation goroutines are not covered; the flight engine guards those.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[http] PANIC: %s %s → %v", r.Method, r.URL.Path, err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal_error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS lets the browser map client call the API and open flight streams.
// Only the methods the router registers are advertised.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
