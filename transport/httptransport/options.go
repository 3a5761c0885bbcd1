package httptransport

import (
	"net/http"
	"time"

	"github.com/tillsync/tillsync/logging"
)

// Options configures a Client.
type Options struct {
	// HTTPClient is the underlying client. A default with sane timeouts is
	// used when nil.
	HTTPClient *http.Client

	// RequestTimeout caps each individual request attempt.
	RequestTimeout time.Duration

	// Retry configuration for failed requests. Only retryable failures
	// (network errors and 5xx responses) are retried.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// CompressionEnabled gzips request bodies larger than GzipMinBytes.
	CompressionEnabled bool
	GzipMinBytes       int

	// MaxResponseSize caps response bodies in bytes.
	MaxResponseSize int64

	// Logger for request-level logging. Defaults to the process logger.
	Logger *logging.Logger
}

// Option configures an Options struct using the functional options pattern.
type Option func(*Options)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = cl
	}
}

// WithRequestTimeout sets the per-attempt timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.RequestTimeout = timeout
	}
}

// WithRetryConfig sets the retry configuration for failed requests.
func WithRetryConfig(maxAttempts int, waitMin, waitMax time.Duration) Option {
	return func(o *Options) {
		o.RetryMax = maxAttempts
		o.RetryWaitMin = waitMin
		o.RetryWaitMax = waitMax
	}
}

// WithCompression enables or disables request body compression.
func WithCompression(enabled bool) Option {
	return func(o *Options) {
		o.CompressionEnabled = enabled
	}
}

// WithMaxResponseSize sets the maximum allowed size of response bodies.
func WithMaxResponseSize(size int64) Option {
	return func(o *Options) {
		o.MaxResponseSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// DefaultOptions returns Options with production defaults.
func DefaultOptions() *Options {
	return &Options{
		RequestTimeout:     30 * time.Second,
		RetryMax:           3,
		RetryWaitMin:       500 * time.Millisecond,
		RetryWaitMax:       10 * time.Second,
		CompressionEnabled: true,
		GzipMinBytes:       1024,
		MaxResponseSize:    8 << 20,
	}
}

// applyOptions creates a new Options with the given options applied.
func applyOptions(opts ...Option) *Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
