package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const secret = "test-secret"

func TestAuthenticateAPIKey(t *testing.T) {
	auth := middleware.NewAuthenticator([]string{"dev-key-123", " "}, "")

	p, err := auth.Authenticate("", "dev-key-123", "u1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Principal{UserID: "u1", APIKey: true}, p)

	_, err = auth.Authenticate("", "wrong", "")
	assert.Error(t, err)
	_, err = auth.Authenticate("", "", "")
	assert.Error(t, err)
}

func TestAuthenticateBearer(t *testing.T) {
	auth := middleware.NewAuthenticator(nil, secret)

	token, err := middleware.IssueToken(secret, "alice", time.Minute)
	require.NoError(t, err)
	p, err := auth.Authenticate("Bearer "+token, "", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
	assert.False(t, p.APIKey)

	forged, err := middleware.IssueToken("other-secret", "alice", time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate("Bearer "+forged, "", "")
	assert.Error(t, err)

	expired, err := middleware.IssueToken(secret, "alice", -time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate("Bearer "+expired, "", "")
	assert.Error(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = auth.Authenticate("Bearer "+noExpiry, "", "")
	assert.Error(t, err)
}

func TestUnaryInterceptor(t *testing.T) {
	auth := middleware.NewAuthenticator([]string{"k"}, "")
	interceptor := auth.UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	var seen middleware.Principal
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen, _ = middleware.PrincipalFromContext(ctx)
		return "ok", nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("api-key", "k", "user-id", "bob"))
	resp, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "bob", seen.UserID)

	_, err = interceptor(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("api-key", "nope"))
	_, err = interceptor(bad, nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestDisabledAuthenticatorPassesThrough(t *testing.T) {
	auth := middleware.NewAuthenticator(nil, "")
	assert.False(t, auth.Enabled())

	called := false
	_, err := auth.UnaryInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		_, ok := middleware.PrincipalFromContext(ctx)
		assert.False(t, ok)
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestHTTPMiddleware(t *testing.T) {
	auth := middleware.NewAuthenticator([]string{"k"}, "")
	h := auth.HTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := middleware.PrincipalFromContext(r.Context())
		w.Write([]byte(p.UserID))
	}))

	req := httptest.NewRequest(http.MethodGet, "/media/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-API-Key", "k")
	req.Header.Set("X-User-ID", "carol")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", rec.Body.String())
}

func TestChainUnaryInterceptorsOrder(t *testing.T) {
	var order []string
	mk := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			order = append(order, name)
			return handler(ctx, req)
		}
	}
	chain := middleware.ChainUnaryInterceptors(mk("a"), mk("b"))
	_, err := chain(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		order = append(order, "handler")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

type userMap map[string]*models.User

func (m userMap) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

func TestCurrentUser(t *testing.T) {
	users := userMap{
		"alice": {ID: "alice", IsActive: true},
		"carol": {ID: "carol", IsActive: false},
	}
	with := func(p middleware.Principal) context.Context {
		return middleware.ContextWithPrincipal(context.Background(), p)
	}

	u, err := middleware.CurrentUser(context.Background(), users)
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = middleware.CurrentUser(with(middleware.Principal{APIKey: true}), users)
	require.NoError(t, err)
	assert.True(t, u.IsSuperuser)
	assert.Empty(t, u.ID)

	u, err = middleware.CurrentUser(with(middleware.Principal{UserID: "alice"}), users)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)

	_, err = middleware.CurrentUser(with(middleware.Principal{UserID: "carol"}), users)
	assert.ErrorIs(t, err, middleware.ErrInactiveUser)

	_, err = middleware.CurrentUser(with(middleware.Principal{UserID: "mallory", APIKey: true}), users)
	assert.ErrorIs(t, err, middleware.ErrUnknownUser)
}

func TestExemptSkipsHealthService(t *testing.T) {
	auth := middleware.NewAuthenticator([]string{"k"}, "")
	ic := middleware.ExemptUnary(auth.UnaryInterceptor(), "grpc.health.v1.Health")
	ok := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	resp, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/chunkedmedia.v1.MediaService/GetMedia"}, ok)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRecoveryInterceptor(t *testing.T) {
	ic := middleware.UnaryRecoveryInterceptor(zap.NewNop())
	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	sic := middleware.StreamRecoveryInterceptor(zap.NewNop())
	err = sic(nil, nil, &grpc.StreamServerInfo{FullMethod: "/x/Z"}, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestUnaryLoggingInterceptor(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ic := middleware.UnaryLoggingInterceptor(zap.New(core))
	info := &grpc.UnaryServerInfo{FullMethod: "/chunkedmedia.v1.MediaService/GetMedia"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "req-1"))

	_, err := ic(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		middleware.LoggerFromContext(ctx, zap.NewNop()).Info("inside")
		return nil, status.Error(codes.NotFound, "media not found")
	})
	assert.Equal(t, codes.NotFound, status.Code(err))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "inside", entries[0].Message)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "NotFound", entries[1].ContextMap()["code"])

	_, err = ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, errors.New("disk on fire")
	})
	require.Error(t, err)
	last := logs.All()[2]
	assert.Equal(t, zap.ErrorLevel, last.Level)
	assert.NotEmpty(t, last.ContextMap()["request_id"])
}
