package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"commandbridge/pkg/domain"
	"commandbridge/pkg/requestcontext"
)

type RequireLevelSuite struct {
	suite.Suite
	handler http.Handler
	called  bool
}

func TestRequireLevelSuite(t *testing.T) {
	suite.Run(t, new(RequireLevelSuite))
}

func (s *RequireLevelSuite) SetupTest() {
	s.called = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.handler = RequireLevel(3, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func (s *RequireLevelSuite) serve(caller *domain.Caller) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	if caller != nil {
		req = req.WithContext(requestcontext.WithCaller(req.Context(), *caller))
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *RequireLevelSuite) TestAdminPasses() {
	w := s.serve(&domain.Caller{Email: "a@x.io", Role: "L3-admin", Level: 3})
	s.Equal(http.StatusOK, w.Code)
	s.True(s.called)
}

func (s *RequireLevelSuite) TestLowerTierRejected() {
	w := s.serve(&domain.Caller{Email: "e@x.io", Role: "L2-engineer", Level: 2})
	s.Equal(http.StatusForbidden, w.Code)
	s.JSONEq(`{"kind":"authorization_error","message":"insufficient privileges"}`, w.Body.String())
	s.False(s.called)
}

func (s *RequireLevelSuite) TestInactiveRejected() {
	w := s.serve(&domain.Caller{Email: "gone@x.io"})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *RequireLevelSuite) TestMissingCallerRejected() {
	w := s.serve(nil)
	s.Equal(http.StatusForbidden, w.Code)
}
