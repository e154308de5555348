package authjwt

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option customizes the components built by this package. Each constructor
// reads only the options relevant to it.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	now        func() time.Time
	fetch      FetchFunc
	limiter    Limiter
	httpClient *http.Client
	tokenIDs   bool
	resolver   KeyResolver
	converter  *KeyFormatConverter
}

func buildOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source (cache expiry, rate-limit windows,
// token timestamps, fallback key ids).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFetcher replaces the HTTP download of the JWKS document.
func WithFetcher(fetch FetchFunc) Option {
	return func(o *options) {
		o.fetch = fetch
	}
}

// WithLimiter replaces the in-memory fetch limiter, e.g. with a RedisLimiter
// shared by all replicas.
func WithLimiter(l Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithHTTPClient sets the client used by the default JWKS fetcher.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTokenIDs makes the issuer add a random "jti" to tokens that lack one.
func WithTokenIDs() Option {
	return func(o *options) {
		o.tokenIDs = true
	}
}

// WithResolver makes a remote validator use an existing resolver instead of
// building its own.
func WithResolver(r KeyResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithConverter sets the converter used by the JWKS publisher.
func WithConverter(c *KeyFormatConverter) Option {
	return func(o *options) {
		o.converter = c
	}
}
