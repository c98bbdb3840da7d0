package httpserver

import (
	"net/http"
	"time"
)

// Ingest bodies carry whole extracted documents, so the read timeout is
// generous; the header timeout stays tight to shed slow-loris clients.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
)

// New builds the pipeline's HTTP server.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}
}
