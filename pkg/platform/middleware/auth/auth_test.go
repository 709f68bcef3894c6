package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/requestcontext"
)

type MockJWTValidator struct {
	mock.Mock
}

func (m *MockJWTValidator) ValidateToken(ctx context.Context, tokenString string) (*JWTClaims, error) {
	args := m.Called(ctx, tokenString)
	if claims := args.Get(0); claims != nil {
		return claims.(*JWTClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockCallerResolver struct {
	mock.Mock
}

func (m *MockCallerResolver) ResolveCaller(ctx context.Context, email domain.Email) (domain.Caller, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.Caller), args.Error(1)
}

// recordingHandler captures the context the chain hands to the route.
type recordingHandler struct {
	called bool
	ctx    context.Context
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

type AuthMiddlewareSuite struct {
	suite.Suite
	validator *MockJWTValidator
	resolver  *MockCallerResolver
	next      *recordingHandler
	chain     http.Handler
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.validator = new(MockJWTValidator)
	s.resolver = new(MockCallerResolver)
	s.next = &recordingHandler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.chain = RequireAuth(s.validator, logger)(ResolveCaller(s.resolver, logger)(s.next))
}

func (s *AuthMiddlewareSuite) TearDownTest() {
	s.validator.AssertExpectations(s.T())
	s.resolver.AssertExpectations(s.T())
}

func (s *AuthMiddlewareSuite) serve(authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	s.chain.ServeHTTP(w, req)
	return w
}

func (s *AuthMiddlewareSuite) TestValidTokenResolvesCaller() {
	s.validator.On("ValidateToken", mock.Anything, "good").
		Return(&JWTClaims{Subject: "sub-1", Email: "Eng@Example.com"}, nil)
	s.resolver.On("ResolveCaller", mock.Anything, domain.Email("eng@example.com")).
		Return(domain.Caller{Role: "L2-engineer", Level: 2}, nil)

	w := s.serve("Bearer good")

	s.Equal(http.StatusOK, w.Code)
	s.Require().True(s.next.called)
	caller, ok := requestcontext.Caller(s.next.ctx)
	s.Require().True(ok)
	s.Equal(domain.Email("eng@example.com"), caller.Email)
	s.Equal(domain.Role("L2-engineer"), caller.Role)
}

func (s *AuthMiddlewareSuite) TestUnknownUserContinuesWithoutRole() {
	s.validator.On("ValidateToken", mock.Anything, "good").
		Return(&JWTClaims{Email: "new@example.com"}, nil)
	s.resolver.On("ResolveCaller", mock.Anything, domain.Email("new@example.com")).
		Return(domain.Caller{}, nil)

	w := s.serve("Bearer good")

	s.Equal(http.StatusOK, w.Code)
	caller, _ := requestcontext.Caller(s.next.ctx)
	s.False(caller.HasRole())
}

func (s *AuthMiddlewareSuite) TestMissingHeader() {
	w := s.serve("")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.JSONEq(`{"kind":"unauthenticated","message":"missing or invalid Authorization header"}`, w.Body.String())
	s.False(s.next.called)
}

func (s *AuthMiddlewareSuite) TestWrongScheme() {
	w := s.serve("Basic Zm9vOmJhcg==")
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthMiddlewareSuite) TestInvalidToken() {
	s.validator.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("signature"))

	w := s.serve("Bearer bad")

	s.Equal(http.StatusUnauthorized, w.Code)
	s.JSONEq(`{"kind":"unauthenticated","message":"invalid or expired token"}`, w.Body.String())
}

func (s *AuthMiddlewareSuite) TestTokenWithoutEmail() {
	s.validator.On("ValidateToken", mock.Anything, "anon").Return(&JWTClaims{Subject: "svc"}, nil)

	w := s.serve("Bearer anon")

	s.Equal(http.StatusUnauthorized, w.Code)
	s.False(s.next.called)
}

func (s *AuthMiddlewareSuite) TestResolverFailureSurfacesAsTransient() {
	s.validator.On("ValidateToken", mock.Anything, "good").Return(&JWTClaims{Email: "a@x.io"}, nil)
	s.resolver.On("ResolveCaller", mock.Anything, domain.Email("a@x.io")).
		Return(domain.Caller{}, dErrors.New(dErrors.CodeUnavailable, "user store unavailable"))

	w := s.serve("Bearer good")

	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.False(s.next.called)
}
