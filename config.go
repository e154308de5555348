package authjwt

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAccessTTL         = 15 * time.Minute
	defaultRefreshTTL        = 7 * 24 * time.Hour
	defaultKeyID             = "auth-key-1"
	defaultCacheTTL          = 10 * time.Minute
	defaultMaxCachedKeys     = 5
	defaultRequestsPerMinute = 5
	defaultHTTPTimeout       = 5 * time.Second
)

// SigningConfig holds the issuing side's key material and token parameters.
// It is treated as immutable once passed to NewTokenIssuer.
type SigningConfig struct {
	PrivateKey string
	PublicKey  string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// KeyID is written to the token header and to the published JWKS record.
	KeyID string
}

// normalize sets default values for optional fields.
func (c *SigningConfig) normalize() {
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaultRefreshTTL
	}
	if strings.TrimSpace(c.KeyID) == "" {
		c.KeyID = defaultKeyID
	}
}

// validate ensures the signing configuration is usable for issuance.
func (c SigningConfig) validate() error {
	switch {
	case strings.TrimSpace(c.PrivateKey) == "":
		return errors.New("private key is required for token issuance")
	case c.Issuer == "":
		return errors.New("issuer is required")
	case c.Audience == "":
		return errors.New("audience is required")
	}
	return nil
}

// ResolverConfig tunes the remote JWKS key resolver.
type ResolverConfig struct {
	JWKSURL           string
	CacheTTL          time.Duration
	MaxCachedKeys     int
	RequestsPerMinute int
	HTTPTimeout       time.Duration
}

func (c *ResolverConfig) normalize() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.MaxCachedKeys <= 0 {
		c.MaxCachedKeys = defaultMaxCachedKeys
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

func (c ResolverConfig) validate() error {
	if c.JWKSURL == "" {
		return errors.New("jwks url is required")
	}
	u, err := url.Parse(c.JWKSURL)
	if err != nil {
		return fmt.Errorf("parse jwks url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("jwks url %q must be http or https", c.JWKSURL)
	}
	return nil
}

// ValidationConfig describes how a relying service verifies inbound tokens.
// Exactly one of PublicKey and JWKSURL must be set.
type ValidationConfig struct {
	PublicKey string
	JWKSURL   string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// Resolver tunes the remote variant; its JWKSURL is taken from JWKSURL.
	Resolver ResolverConfig
}

func (c ValidationConfig) validate() error {
	hasKey := strings.TrimSpace(c.PublicKey) != ""
	hasURL := strings.TrimSpace(c.JWKSURL) != ""
	switch {
	case !hasKey && !hasURL:
		return errors.New("either publicKey or jwksUrl must be provided for JWT validation")
	case hasKey && hasURL:
		return errors.New("only one of publicKey or jwksUrl may be provided for JWT validation")
	case c.Issuer == "":
		return errors.New("issuer is required")
	case c.Audience == "":
		return errors.New("audience is required")
	case c.ClockSkew < 0:
		return errors.New("clock skew must not be negative")
	}
	return nil
}

// ParseTTL parses token lifetimes: Go durations ("15m"), whole days ("7d")
// or a bare number of seconds ("900"). An empty string yields zero.
func ParseTTL(value string) (time.Duration, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative ttl %q", value)
		}
		return time.Duration(secs) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid ttl %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative ttl %q", value)
	}
	return d, nil
}

// Config is the file and environment representation used by the CLI.
type Config struct {
	Log struct {
		// dev | prod
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Signing struct {
		PrivateKey            string `yaml:"private_key"`
		PrivateKeyFile        string `yaml:"private_key_file"`
		PublicKey             string `yaml:"public_key"`
		PublicKeyFile         string `yaml:"public_key_file"`
		Issuer                string `yaml:"issuer"`
		Audience              string `yaml:"audience"`
		KeyID                 string `yaml:"key_id"`
		AccessTokenExpiresIn  string `yaml:"access_token_expires_in"`
		RefreshTokenExpiresIn string `yaml:"refresh_token_expires_in"`
	} `yaml:"signing"`

	Validation struct {
		PublicKey         string `yaml:"public_key"`
		PublicKeyFile     string `yaml:"public_key_file"`
		JWKSURL           string `yaml:"jwks_url"`
		Issuer            string `yaml:"issuer"`
		Audience          string `yaml:"audience"`
		ClockSkew         string `yaml:"clock_skew"`
		CacheTTL          string `yaml:"cache_ttl"`
		MaxCachedKeys     int    `yaml:"max_cached_keys"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
		HTTPTimeout       string `yaml:"http_timeout"`
	} `yaml:"validation"`
}

// LoadConfig reads the YAML file at path (optional) and applies environment
// overrides on top of it.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, newError(ErrCodeConfiguration, fmt.Errorf("read config %s: %w", path, err))
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, newError(ErrCodeConfiguration, fmt.Errorf("parse config %s: %w", path, err))
		}
	}
	cfg.applyEnv()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Log.Env, "APP_ENV")
	setFromEnv(&c.Log.Level, "LOG_LEVEL")
	setFromEnv(&c.Server.Addr, "AUTH_ADDR")
	setFromEnv(&c.Signing.PrivateKey, "AUTH_PRIVATE_KEY")
	setFromEnv(&c.Signing.PublicKey, "AUTH_PUBLIC_KEY")
	setFromEnv(&c.Signing.Issuer, "AUTH_ISSUER")
	setFromEnv(&c.Signing.Audience, "AUTH_AUDIENCE")
	setFromEnv(&c.Signing.AccessTokenExpiresIn, "AUTH_ACCESS_TOKEN_EXPIRES_IN")
	setFromEnv(&c.Signing.RefreshTokenExpiresIn, "AUTH_REFRESH_TOKEN_EXPIRES_IN")
	setFromEnv(&c.Validation.JWKSURL, "AUTH_JWKS_URL")
	setFromEnv(&c.Validation.PublicKey, "AUTH_VALIDATION_PUBLIC_KEY")
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// SigningConfig builds the issuance configuration.
func (c *Config) SigningConfig() (SigningConfig, error) {
	privateKey, err := inlineOrFile(c.Signing.PrivateKey, c.Signing.PrivateKeyFile)
	if err != nil {
		return SigningConfig{}, newError(ErrCodeConfiguration, err)
	}
	publicKey, err := inlineOrFile(c.Signing.PublicKey, c.Signing.PublicKeyFile)
	if err != nil {
		return SigningConfig{}, newError(ErrCodeConfiguration, err)
	}
	accessTTL, err := ParseTTL(c.Signing.AccessTokenExpiresIn)
	if err != nil {
		return SigningConfig{}, newError(ErrCodeConfiguration, fmt.Errorf("access_token_expires_in: %w", err))
	}
	refreshTTL, err := ParseTTL(c.Signing.RefreshTokenExpiresIn)
	if err != nil {
		return SigningConfig{}, newError(ErrCodeConfiguration, fmt.Errorf("refresh_token_expires_in: %w", err))
	}
	return SigningConfig{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Issuer:     c.Signing.Issuer,
		Audience:   c.Signing.Audience,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		KeyID:      c.Signing.KeyID,
	}, nil
}

// ValidationConfig builds the verification configuration. Issuer and
// audience fall back to the signing section so a single file can describe a
// service that both issues and validates.
func (c *Config) ValidationConfig() (ValidationConfig, error) {
	publicKey, err := inlineOrFile(c.Validation.PublicKey, c.Validation.PublicKeyFile)
	if err != nil {
		return ValidationConfig{}, newError(ErrCodeConfiguration, err)
	}
	if publicKey == "" && c.Validation.JWKSURL == "" {
		publicKey, err = inlineOrFile(c.Signing.PublicKey, c.Signing.PublicKeyFile)
		if err != nil {
			return ValidationConfig{}, newError(ErrCodeConfiguration, err)
		}
	}
	durations := map[string]string{
		"clock_skew":   c.Validation.ClockSkew,
		"cache_ttl":    c.Validation.CacheTTL,
		"http_timeout": c.Validation.HTTPTimeout,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for name, raw := range durations {
		d, err := ParseTTL(raw)
		if err != nil {
			return ValidationConfig{}, newError(ErrCodeConfiguration, fmt.Errorf("%s: %w", name, err))
		}
		parsed[name] = d
	}
	return ValidationConfig{
		PublicKey: publicKey,
		JWKSURL:   c.Validation.JWKSURL,
		Issuer:    firstNonEmpty(c.Validation.Issuer, c.Signing.Issuer),
		Audience:  firstNonEmpty(c.Validation.Audience, c.Signing.Audience),
		ClockSkew: parsed["clock_skew"],
		Resolver: ResolverConfig{
			CacheTTL:          parsed["cache_ttl"],
			MaxCachedKeys:     c.Validation.MaxCachedKeys,
			RequestsPerMinute: c.Validation.RequestsPerMinute,
			HTTPTimeout:       parsed["http_timeout"],
		},
	}, nil
}

func inlineOrFile(inline, path string) (string, error) {
	if strings.TrimSpace(inline) != "" {
		return inline, nil
	}
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file %s: %w", path, err)
	}
	return string(raw), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
