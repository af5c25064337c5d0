package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Principal identifies the caller of a request. API key callers without a
// user-id header act as the service itself.
type Principal struct {
	UserID string
	APIKey bool
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

var (
	errMissingCredentials = errors.New("missing api-key or bearer token")
	errInvalidAPIKey      = errors.New("invalid api-key")
	errInvalidToken       = errors.New("invalid bearer token")
)

// Authenticator validates API keys and HS256 bearer tokens.
type Authenticator struct {
	apiKeys   map[string]bool
	jwtSecret []byte
}

func NewAuthenticator(apiKeys []string, jwtSecret string) *Authenticator {
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = true
		}
	}
	return &Authenticator{apiKeys: keys, jwtSecret: []byte(jwtSecret)}
}

// Enabled is false when neither API keys nor a JWT secret are configured.
// Requests then pass through anonymously.
func (a *Authenticator) Enabled() bool {
	return len(a.apiKeys) > 0 || len(a.jwtSecret) > 0
}

// Authenticate checks a bearer token first, then an API key.
func (a *Authenticator) Authenticate(authorization, apiKey, userID string) (Principal, error) {
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok && len(a.jwtSecret) > 0 {
		sub, err := a.parseToken(strings.TrimSpace(token))
		if err != nil {
			return Principal{}, err
		}
		return Principal{UserID: sub}, nil
	}
	if apiKey != "" {
		if !a.apiKeys[apiKey] {
			return Principal{}, errInvalidAPIKey
		}
		return Principal{UserID: strings.TrimSpace(userID), APIKey: true}, nil
	}
	return Principal{}, errMissingCredentials
}

func (a *Authenticator) parseToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", errInvalidToken)
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for userID.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (a *Authenticator) fromMetadata(ctx context.Context) (context.Context, error) {
	if !a.Enabled() {
		return ctx, nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	p, err := a.Authenticate(first(md, "authorization"), first(md, "api-key"), first(md, "user-id"))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return ContextWithPrincipal(ctx, p), nil
}

// UnaryInterceptor validates credentials from metadata
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, err := a.fromMetadata(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor for streaming RPCs
func (a *Authenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := a.fromMetadata(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// HTTP wraps next so that it only runs for authenticated requests.
func (a *Authenticator) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		p, err := a.Authenticate(r.Header.Get("Authorization"), r.Header.Get("X-API-Key"), r.Header.Get("X-User-ID"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
