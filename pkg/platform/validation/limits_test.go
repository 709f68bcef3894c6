package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "commandbridge/pkg/domain-errors"
)

type LimitsSuite struct {
	suite.Suite
}

func TestLimitsSuite(t *testing.T) {
	suite.Run(t, new(LimitsSuite))
}

func (s *LimitsSuite) TestCheckSliceCount() {
	s.NoError(CheckSliceCount("events", MaxActivityBatch, MaxActivityBatch))
	err := CheckSliceCount("events", MaxActivityBatch+1, MaxActivityBatch)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(err.Error(), "max 100")
}

func (s *LimitsSuite) TestCheckStringLength() {
	s.NoError(CheckStringLength("reason", strings.Repeat("r", MaxReasonLength), MaxReasonLength))
	s.Error(CheckStringLength("reason", strings.Repeat("r", MaxReasonLength+1), MaxReasonLength))
}

func (s *LimitsSuite) TestCheckEachStringLength() {
	s.NoError(CheckEachStringLength("tags", []string{"a", "b"}, 1))
	s.Error(CheckEachStringLength("tags", []string{"a", "bb"}, 1))
}

func (s *LimitsSuite) TestClampLimit() {
	s.Equal(50, ClampLimit(0, 50, 200))
	s.Equal(200, ClampLimit(1000, 50, 200))
	s.Equal(10, ClampLimit(10, 50, 200))
	s.Equal(50, ClampLimit(-3, 50, 200))
}
