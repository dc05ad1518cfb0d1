package http

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
)

// MountDocs serves spec at /api/docs/doc.json and the swagger UI under /api/docs/
func MountDocs(r Router, spec string) {
	if spec == "" {
		return
	}
	r.Get("/api/docs", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/api/docs/", http.StatusPermanentRedirect)
	})
	r.Get("/api/docs/doc.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(spec))
	})
	r.Handle("/api/docs/*", httpSwagger.Handler(httpSwagger.URL("/api/docs/doc.json")))
}
