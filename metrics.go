package authjwt

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TokensIssued counts signed tokens by kind.
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authjwt_tokens_issued_total",
		Help: "Signed tokens by kind (access, refresh).",
	}, []string{"kind"})

	// Validations counts token validations by strategy and result.
	Validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authjwt_validations_total",
		Help: "Token validations by strategy (local, remote) and result.",
	}, []string{"strategy", "result"})

	// KeyCacheLookups counts resolver cache hits and misses.
	KeyCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authjwt_key_cache_lookups_total",
		Help: "Resolver cache lookups by result (hit, miss).",
	}, []string{"result"})

	// JWKSFetches counts outbound JWKS fetches by result.
	JWKSFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authjwt_jwks_fetches_total",
		Help: "Outbound JWKS fetches by result (ok, error, rate_limited).",
	}, []string{"result"})

	// FallbackKeys counts fallback JWK records produced by the converter.
	FallbackKeys = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authjwt_jwks_fallback_keys_total",
		Help: "Fallback JWK records produced because key material could not be converted.",
	})
)

// RegisterMetrics registers the authjwt collectors on reg (or the default
// registerer if nil). Registering twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{TokensIssued, Validations, KeyCacheLookups, JWKSFetches, FallbackKeys}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}
