package httptransport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"commandbridge/internal/jwt_token"
	"commandbridge/internal/platform/health"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/middleware/request"
	"commandbridge/pkg/requestcontext"
	"commandbridge/pkg/testutil"
)

type fixtureResolver struct{}

func (fixtureResolver) ResolveCaller(_ context.Context, email domain.Email) (domain.Caller, error) {
	for _, c := range []domain.Caller{testutil.Operator, testutil.Engineer, testutil.Admin} {
		if c.Email == email {
			return c, nil
		}
	}
	return domain.Caller{Email: email}, nil
}

// echo answers with the caller's email, or 400 when the body cannot be read.
type echo struct{ paths []string }

func (e echo) handle(w http.ResponseWriter, r *http.Request) {
	if _, err := io.ReadAll(r.Body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	caller, _ := requestcontext.Caller(r.Context())
	_, _ = io.WriteString(w, caller.Email.String())
}

func (e echo) Register(r chi.Router) {
	for _, p := range e.paths {
		r.Get(p, e.handle)
		r.Post(p, e.handle)
	}
}

func (e echo) RegisterAdmin(r chi.Router) {
	r.Get("/admin/users", e.handle)
}

type RouterSuite struct {
	suite.Suite
	tokens *jwt_token.HMACService
	router http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.tokens = jwt_token.NewHMACService("test-key", "commandbridge", "portal", time.Hour)
	reg := prometheus.NewRegistry()
	s.router = NewRouter(Config{
		Logger:    testutil.DiscardLogger(),
		Validator: s.tokens,
		Resolver:  fixtureResolver{},
		Metrics:   request.NewMetricsWithRegistry(reg),
		Gatherer:  reg,
	}, Handlers{
		Health:   health.New("test"),
		Identity: echo{paths: []string{"/me"}},
		Actions:  echo{paths: []string{"/actions/execute"}},
		KB:       echo{paths: []string{"/kb"}},
		Activity: echo{paths: []string{"/activity"}},
	})
}

func (s *RouterSuite) do(method, target string, caller *domain.Caller, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if caller != nil {
		token, err := s.tokens.GenerateToken(context.Background(), caller.Email.String(), "")
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) TestProbesAreUnauthenticated() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/health/live", nil, "").Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/metrics", nil, "").Code)
}

func (s *RouterSuite) TestModuleRoutesRequireAToken() {
	rec := s.do(http.MethodGet, "/me", nil, "")
	s.Equal(http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestCallerIsResolved() {
	rec := s.do(http.MethodGet, "/me", &testutil.Engineer, "")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal(testutil.Engineer.Email.String(), rec.Body.String())
	s.NotEmpty(rec.Header().Get("X-Request-ID"))
}

func (s *RouterSuite) TestAdminRoutesAreGated() {
	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/admin/users", &testutil.Operator, "").Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/admin/users", &testutil.Admin, "").Code)
}

func (s *RouterSuite) TestKnowledgeBaseAcceptsLargerBodies() {
	body := `{"content":"` + strings.Repeat("x", 100*1024) + `"}`

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/activity", &testutil.Operator, body).Code)
	s.Equal(http.StatusOK, s.do(http.MethodPost, "/kb", &testutil.Engineer, body).Code)
}
