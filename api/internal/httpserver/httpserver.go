package httpserver

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"
)

// Check is one dependency probed by /healthz.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Healthz answers "ok" when every check passes and 503 with the failures otherwise.
func Healthz(timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		var failed []string
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				failed = append(failed, c.Name+": not ok\n"+err.Error())
			}
		}
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failed, "\n")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Register mounts /healthz and the index page on mux.
func Register(mux *http.ServeMux, checks ...Check) {
	mux.HandleFunc("/healthz", Healthz(2*time.Second, checks...))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("signature verification bot"))
	})
}

// StartHTTP serves the default mux; tgbotapi.ListenForWebhook registers there too.
func StartHTTP(addr string, checks ...Check) error {
	Register(http.DefaultServeMux, checks...)
	log.Printf("health server listening on %s/healthz", addr)
	return http.ListenAndServe(addr, nil)
}
