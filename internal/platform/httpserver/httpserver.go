package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with timeouts suited to short JSON API
// requests. Long-lived work (balance subscriptions, audit mirroring)
// happens outside the request path, so nothing here needs to stream.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
