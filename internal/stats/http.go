package stats

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mux builds the metrics HTTP surface: Prometheus's own handler on
// /metrics, mirroring internal/dctl's control tree but for fleet-wide
// scraping instead of a single operator's socket connection.
func Mux() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}
