package authjwt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	// JWKSPath is the well-known route of the JWKS document.
	JWKSPath = "/.well-known/jwks.json"
	// RefreshTokenField is the body field that carries refresh tokens.
	RefreshTokenField = "refresh_token"

	maxBodyBytes = 1 << 20
)

// ErrNoToken is returned by extractors when the request carries no token.
var ErrNoToken = errors.New("no auth token")

// Extractor pulls the raw token out of a request.
type Extractor func(r *http.Request) (string, error)

// BearerToken reads "Authorization: Bearer <token>". The scheme is matched
// case-insensitively.
func BearerToken() Extractor {
	return func(r *http.Request) (string, error) {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", ErrNoToken
		}
		return parts[1], nil
	}
}

// BodyField reads a string field from a JSON or form encoded body. The body
// is restored so downstream handlers can read it again.
func BodyField(name string) Extractor {
	return func(r *http.Request) (string, error) {
		if r.Body == nil || r.Body == http.NoBody {
			return "", ErrNoToken
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return "", err
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		var token string
		switch mediaType {
		case "application/json":
			var payload map[string]any
			if err := json.Unmarshal(body, &payload); err != nil {
				return "", ErrNoToken
			}
			token, _ = payload[name].(string)
		case "application/x-www-form-urlencoded":
			values, err := url.ParseQuery(string(body))
			if err != nil {
				return "", ErrNoToken
			}
			token = values.Get(name)
		}
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
}

// Authenticator rejects requests without a valid token and binds the claims
// of accepted ones to the request context.
type Authenticator struct {
	validator TokenValidator
	extract   Extractor
	logger    *zap.Logger
}

// NewAuthenticator builds an Authenticator. It honors WithLogger.
func NewAuthenticator(v TokenValidator, extract Extractor, opts ...Option) *Authenticator {
	o := buildOptions(opts)
	return &Authenticator{validator: v, extract: extract, logger: o.logger}
}

// Middleware wraps next.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := a.extract(r)
		if err != nil {
			a.logger.Debug("missing token", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims, err := a.validator.Validate(r.Context(), token)
		if err != nil {
			a.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(BindClaims(r.Context(), claims)))
	})
}

// AccessTokenMiddleware authenticates with the bearer header.
func AccessTokenMiddleware(v TokenValidator, opts ...Option) func(http.Handler) http.Handler {
	return NewAuthenticator(v, BearerToken(), opts...).Middleware
}

// RefreshTokenMiddleware authenticates with the refresh_token body field.
func RefreshTokenMiddleware(v TokenValidator, opts ...Option) func(http.Handler) http.Handler {
	return NewAuthenticator(v, BodyField(RefreshTokenField), opts...).Middleware
}

// JWKSHandler serves the publisher's document. On failure the detail is
// logged and the client only sees a generic message.
func JWKSHandler(p *JwksPublisher, opts ...Option) http.HandlerFunc {
	o := buildOptions(opts)
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := p.Publish(r.Context())
		if err != nil {
			o.logger.Error("jwks generation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errorMessages[ErrCodeJWKSGeneration])
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// MountJWKS registers GET /.well-known/jwks.json on r.
func MountJWKS(r chi.Router, p *JwksPublisher, opts ...Option) {
	r.Get(JWKSPath, JWKSHandler(p, opts...))
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{StatusCode: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
