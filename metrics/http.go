package metrics

import (
	"net/http"

	"github.com/livepeer/videod/config"
	"github.com/livepeer/videod/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenAndServe exposes the /metrics scrape endpoint on its own address,
// separate from the job websocket listener.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.LogNoRequestID(
		"starting prometheus metrics",
		"version", config.Version,
		"host", addr,
	)
	return http.ListenAndServe(addr, mux)
}
