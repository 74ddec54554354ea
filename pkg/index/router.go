package index

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
)

// Router creates a chi.Router for the read-only item query API.
func Router(store *Store) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthcheck", HealthHandler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/items", ListItemsHandler(store))
		r.Get("/items/{kimcode}", GetItemHandler(store))
		r.Get("/lineages/{number}", GetLineageHandler(store))
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		glog.Infof("%s %s from %s in %s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}
