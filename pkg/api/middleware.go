package api

import (
	"net/http"
	"strings"

	"github.com/cuemby/remotebackend/pkg/metrics"
)

// ReadOnly rejects every method except GET and HEAD
func ReadOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isReadOnlyMethod(r.Method) {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isReadOnlyMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// Instrument counts and times admin requests per registered route.
// Paths routes does not know are folded into api.other.
func Instrument(rec metrics.Recorder, routes *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := routeEvent(routes, r)
		timer := metrics.NewTimer()
		defer timer.Record(rec, name)

		rec.Inc(name)
		next.ServeHTTP(w, r)
	})
}

func routeEvent(routes *http.ServeMux, r *http.Request) string {
	_, pattern := routes.Handler(r)
	route := strings.Trim(pattern, "/")
	if route == "" {
		return "api.other"
	}
	return "api." + route
}
