package customHttpClient

import (
	"net/http"

	"docpipe/internal/config"
)

var customTransport = &http.Transport{
	MaxIdleConns:        config.MaxIdleConns,
	MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
	IdleConnTimeout:     config.IdleConnTimeout,
}

// GetPooledClient returns a client reusing the shared transport. Call
// deadlines come from the caller's context, so the client timeout stays zero.
func GetPooledClient() *http.Client {
	return &http.Client{Transport: customTransport}
}
