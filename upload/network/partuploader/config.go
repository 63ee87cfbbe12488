package partuploader

import (
	"net/http"
	"time"
)

// DefaultConcurrency is the number of parts of a single file uploaded in parallel.
const DefaultConcurrency = 4

// Config holds configuration for the part uploader.
type Config struct {
	// Concurrency is the maximum number of parallel part uploads within one file.
	// Default: 4
	Concurrency int

	// HTTPClient is the HTTP client used for part PUTs.
	// If nil, a default client tuned for large uploads is created.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
	}
}

// DefaultHTTPClient creates an HTTP client tuned for part uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No overall timeout: a part PUT either completes or fails at the transport level.
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
