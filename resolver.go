package authjwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FetchFunc downloads and parses the JWKS document at url.
type FetchFunc func(ctx context.Context, url string) (jwk.Set, error)

// KeyResolver maps a token key id to a verification key.
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// CachedKeyEntry is a resolved key together with its freshness window.
type CachedKeyEntry struct {
	KID       string
	Key       *rsa.PublicKey
	FetchedAt time.Time
	TTL       time.Duration
}

func (e CachedKeyEntry) expired(now time.Time) bool {
	return !now.Before(e.FetchedAt.Add(e.TTL))
}

// RemoteKeyResolver fetches verification keys from a JWKS URL. Resolved keys
// are cached per kid, concurrent misses for the same kid share one fetch and
// outbound fetches are rate limited. Fetches beyond the limit fail fast with
// ErrRateLimited.
type RemoteKeyResolver struct {
	cfg     ResolverConfig
	fetch   FetchFunc
	limiter Limiter
	now     func() time.Time
	logger  *zap.Logger

	mu    sync.Mutex // serializes insert + eviction
	cache *gocache.Cache
	group singleflight.Group
}

// NewRemoteKeyResolver builds a resolver. It honors WithFetcher, WithLimiter,
// WithHTTPClient, WithClock and WithLogger.
func NewRemoteKeyResolver(cfg ResolverConfig, opts ...Option) (*RemoteKeyResolver, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeConfiguration, err)
	}
	o := buildOptions(opts)

	fetch := o.fetch
	if fetch == nil {
		client := o.httpClient
		if client == nil {
			client = &http.Client{
				Timeout: cfg.HTTPTimeout,
				Transport: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
				},
			}
		}
		fetch = jwksFetcher(client)
	}
	limiter := o.limiter
	if limiter == nil {
		limiter = NewMemoryLimiter(cfg.RequestsPerMinute, time.Minute, o.now)
	}

	return &RemoteKeyResolver{
		cfg:     cfg,
		fetch:   fetch,
		limiter: limiter,
		now:     o.now,
		logger:  o.logger.With(zap.String("jwks_url", cfg.JWKSURL)),
		cache:   gocache.New(cfg.CacheTTL, cfg.CacheTTL),
	}, nil
}

// URL returns the JWKS URL the resolver reads from.
func (r *RemoteKeyResolver) URL() string {
	return r.cfg.JWKSURL
}

// Resolve returns the verification key for kid. An empty kid resolves to the
// document's sole key when that is unambiguous. The caller may abandon the
// call through ctx; the shared fetch keeps running for other waiters.
func (r *RemoteKeyResolver) Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := r.lookup(kid); ok {
		KeyCacheLookups.WithLabelValues("hit").Inc()
		return key, nil
	}
	KeyCacheLookups.WithLabelValues("miss").Inc()

	fetchCtx := detach(ctx)
	ch := r.group.DoChan(kid, func() (any, error) {
		return r.load(fetchCtx, kid)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rsa.PublicKey), nil
	case <-ctx.Done():
		return nil, newError(ErrCodeKeyResolution, ctx.Err())
	}
}

// Warmup fetches the document once and caches every usable key that carries
// a kid. It counts against the rate limit like any other fetch.
func (r *RemoteKeyResolver) Warmup(ctx context.Context) error {
	set, err := r.download(ctx)
	if err != nil {
		return err
	}
	keys := usableKeys(set)
	for _, k := range keys {
		if k.KeyID() == "" {
			continue
		}
		pub, err := rawRSA(k)
		if err != nil {
			continue
		}
		r.store(k.KeyID(), pub)
	}
	if len(keys) == 1 {
		if pub, err := rawRSA(keys[0]); err == nil {
			r.store("", pub)
		}
	}
	return nil
}

func (r *RemoteKeyResolver) lookup(kid string) (*rsa.PublicKey, bool) {
	v, ok := r.cache.Get(kid)
	if !ok {
		return nil, false
	}
	entry := v.(CachedKeyEntry)
	if entry.expired(r.now()) {
		r.cache.Delete(kid)
		return nil, false
	}
	return entry.Key, true
}

func (r *RemoteKeyResolver) load(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	// a flight that completed just before this one started may have filled it
	if key, ok := r.lookup(kid); ok {
		return key, nil
	}

	set, err := r.download(ctx)
	if err != nil {
		return nil, err
	}
	key, err := selectKey(set, kid)
	if err != nil {
		r.logger.Warn("jwks has no matching key", zap.String("kid", kid), zap.Error(err))
		return nil, newError(ErrCodeKeyResolution, err)
	}
	r.store(kid, key)
	return key, nil
}

func (r *RemoteKeyResolver) download(ctx context.Context) (jwk.Set, error) {
	decision, err := r.limiter.Allow(ctx, r.cfg.JWKSURL)
	if err != nil {
		JWKSFetches.WithLabelValues("error").Inc()
		r.logger.Warn("jwks rate limiter unavailable", zap.Error(err))
		return nil, newError(ErrCodeKeyResolution, err)
	}
	if !decision.Allowed {
		JWKSFetches.WithLabelValues("rate_limited").Inc()
		r.logger.Warn("jwks fetch rate limited", zap.Duration("retry_after", decision.RetryAfter))
		return nil, newError(ErrCodeKeyResolution, ErrRateLimited)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.HTTPTimeout)
	defer cancel()

	set, err := r.fetch(fetchCtx, r.cfg.JWKSURL)
	if err != nil {
		JWKSFetches.WithLabelValues("error").Inc()
		r.logger.Warn("jwks fetch failed", zap.Error(err))
		return nil, newError(ErrCodeKeyResolution, err)
	}
	if set == nil {
		JWKSFetches.WithLabelValues("error").Inc()
		return nil, newError(ErrCodeKeyResolution, errors.New("jwks fetch returned no document"))
	}
	JWKSFetches.WithLabelValues("ok").Inc()
	return set, nil
}

func (r *RemoteKeyResolver) store(kid string, key *rsa.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cache.Get(kid); !exists && r.cache.ItemCount() >= r.cfg.MaxCachedKeys {
		r.evictOldest()
	}
	r.cache.Set(kid, CachedKeyEntry{
		KID:       kid,
		Key:       key,
		FetchedAt: r.now(),
		TTL:       r.cfg.CacheTTL,
	}, r.cfg.CacheTTL)
}

func (r *RemoteKeyResolver) evictOldest() {
	var (
		oldestKID string
		oldestAt  time.Time
		found     bool
	)
	for kid, item := range r.cache.Items() {
		entry, ok := item.Object.(CachedKeyEntry)
		if !ok {
			continue
		}
		if !found || entry.FetchedAt.Before(oldestAt) {
			oldestKID, oldestAt, found = kid, entry.FetchedAt, true
		}
	}
	if found {
		r.cache.Delete(oldestKID)
	}
}

// usableKeys keeps RSA keys meant for signatures.
func usableKeys(set jwk.Set) []jwk.Key {
	out := make([]jwk.Key, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok || k.KeyType() != jwa.RSA {
			continue
		}
		if use := k.KeyUsage(); use != "" && use != keyUseSig {
			continue
		}
		out = append(out, k)
	}
	return out
}

func selectKey(set jwk.Set, kid string) (*rsa.PublicKey, error) {
	keys := usableKeys(set)
	if kid != "" {
		for _, k := range keys {
			if k.KeyID() == kid {
				return rawRSA(k)
			}
		}
	}
	if len(keys) == 1 && (kid == "" || keys[0].KeyID() == "") {
		return rawRSA(keys[0])
	}
	if kid == "" {
		return nil, fmt.Errorf("%w: token has no kid and jwks holds %d keys", ErrKeyNotFound, len(keys))
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func rawRSA(k jwk.Key) (*rsa.PublicKey, error) {
	var pub rsa.PublicKey
	if err := k.Raw(&pub); err != nil {
		return nil, fmt.Errorf("jwk %q: %w", k.KeyID(), err)
	}
	return &pub, nil
}

// jwksFetcher downloads through jwx. Non-JSON error pages fail in parsing.
func jwksFetcher(client *http.Client) FetchFunc {
	return func(ctx context.Context, url string) (jwk.Set, error) {
		return jwk.Fetch(ctx, url, jwk.WithHTTPClient(client))
	}
}
