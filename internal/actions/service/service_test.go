package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks AuditTrail,ActivityRecorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"commandbridge/internal/actions/adapters"
	"commandbridge/internal/actions/executor"
	"commandbridge/internal/actions/models"
	"commandbridge/internal/actions/service/mocks"
	auditmodels "commandbridge/internal/audit/models"
	auditservice "commandbridge/internal/audit/service"
	auditstore "commandbridge/internal/audit/store"
	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/rbac"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *auditstore.InMemory
	audit    *auditservice.Service
	rec      *adapters.Recorder
	registry *executor.Registry
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = auditstore.NewInMemory()
	s.audit = auditservice.New(s.store)
	s.rec = adapters.NewRecorder(nil)
	registry, err := executor.NewRegistry(executor.Ports{
		Logs: s.rec, Cache: s.rec, CDN: s.rec, Workload: s.rec, Traffic: s.rec,
		Flags: s.rec, Blocklist: s.rec, DNS: s.rec, Secrets: s.rec, Sessions: s.rec,
		Params: s.rec, Users: s.rec,
		Exporter: adapters.NewAuditFileExporter(s.audit, s.T().TempDir(), nil),
	})
	s.Require().NoError(err)
	s.registry = registry
	s.service = New(rbac.MustDefault(), s.registry, s.audit,
		WithLogger(testutil.DiscardLogger()),
		WithMetrics(metrics.NewWithRegistry(prometheus.NewRegistry())),
		WithBreaker(3, time.Hour),
	)
}

func command(action, target string, params any) models.Command {
	cmd := models.Command{
		ActionID: domain.ActionID(action),
		Ticket:   "INC-1042",
		Reason:   "customer impact",
		Target:   target,
	}
	if params != nil {
		raw, _ := json.Marshal(params)
		cmd.Params = raw
	}
	return cmd
}

func (s *ServiceSuite) records(result auditmodels.Result) []*auditmodels.Record {
	out, err := s.store.Query(s.ctx, auditmodels.Filter{Result: result}, 100, nil)
	s.Require().NoError(err)
	return out
}

func (s *ServiceSuite) allRecords() []*auditmodels.Record {
	out, err := s.store.Query(s.ctx, auditmodels.Filter{}, 100, nil)
	s.Require().NoError(err)
	return out
}

func (s *ServiceSuite) TestValidationIsNotAudited() {
	cases := []struct {
		name string
		cmd  models.Command
	}{
		{"bad ticket", func() models.Command { c := command("purge-cache", "sessions", nil); c.Ticket = "JIRA-1"; return c }()},
		{"blank reason", func() models.Command { c := command("purge-cache", "sessions", nil); c.Reason = "   "; return c }()},
		{"unknown action", command("reboot-universe", "x", nil)},
		{"bad params", command("purge-cache", "sessions", map[string]any{"ttl": 5})},
		{"missing target", command("purge-cache", "", nil)},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Execute(s.ctx, testutil.Nobody, tc.cmd)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
	s.Empty(s.allRecords())
	s.Empty(s.rec.Calls())
}

func (s *ServiceSuite) TestExecute() {
	s.Run("run permission executes and audits success", func() {
		res, err := s.service.Execute(s.ctx, testutil.Operator, command("purge-cache", "sessions", nil))
		s.Require().NoError(err)
		s.Equal(auditmodels.ResultSuccess, res.Status)
		s.Equal("Cache purged for sessions", res.Output["message"])

		rec, err := s.store.Get(s.ctx, res.RequestID)
		s.Require().NoError(err)
		s.Equal(auditmodels.ResultSuccess, rec.Result)
		s.Equal(testutil.Operator.Email, rec.UserEmail)
		s.Equal("INC-1042", rec.Ticket)
		s.Contains(rec.Detail, models.DetailOutput)
	})

	s.Run("request permission is denied and audited", func() {
		_, err := s.service.Execute(s.ctx, testutil.Operator, command("maintenance-mode", "", nil))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Contains(err.Error(), "/actions/request")

		denied := s.records(auditmodels.ResultDenied)
		s.Require().Len(denied, 1)
		s.Equal("approval_required", denied[0].Detail[models.DetailReason])
	})

	s.Run("locked caller is denied and audited", func() {
		_, err := s.service.Execute(s.ctx, testutil.Nobody, command("purge-cache", "sessions", nil))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Len(s.records(auditmodels.ResultDenied), 2)
	})

	s.Run("executor failure is audited and surfaced", func() {
		s.rec.FailWith("workload", "RolloutRestart", errors.New("api server unreachable"))
		_, err := s.service.Execute(s.ctx, testutil.Operator, command("restart-pods", "api", nil))
		s.True(dErrors.HasCode(err, dErrors.CodeExecutor))

		failed := s.records(auditmodels.ResultFailed)
		s.Require().Len(failed, 1)
		s.Equal("api server unreachable", failed[0].Detail[models.DetailError])
	})
}

func (s *ServiceSuite) TestBreakerOpensAfterRepeatedFailures() {
	s.rec.FailWith("cache", "Flush", errors.New("connection refused"))
	for range 3 {
		_, err := s.service.Execute(s.ctx, testutil.Operator, command("purge-cache", "sessions", nil))
		s.True(dErrors.HasCode(err, dErrors.CodeExecutor))
	}
	calls := len(s.rec.Calls())

	_, err := s.service.Execute(s.ctx, testutil.Operator, command("purge-cache", "sessions", nil))
	s.True(dErrors.HasCode(err, dErrors.CodeExecutor))
	s.Contains(err.Error(), "temporarily unavailable")
	s.Len(s.rec.Calls(), calls)
	s.Len(s.records(auditmodels.ResultFailed), 4)

	_, err = s.service.Execute(s.ctx, testutil.Operator, command("pull-logs", "api", nil))
	s.NoError(err)
}

func (s *ServiceSuite) TestExecuteFailsWhenSuccessCannotBeAudited() {
	ctrl := gomock.NewController(s.T())
	trail := mocks.NewMockAuditTrail(ctrl)
	trail.EXPECT().Append(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeUnavailable, "audit write failed"))
	svc := New(rbac.MustDefault(), s.registry, trail)

	_, err := svc.Execute(s.ctx, testutil.Operator, command("purge-cache", "sessions", nil))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Len(s.rec.Calls(), 1)
}

func (s *ServiceSuite) TestExecuteRecordsActivity() {
	ctrl := gomock.NewController(s.T())
	activity := mocks.NewMockActivityRecorder(ctrl)
	activity.EXPECT().Enqueue(gomock.Any()).Return(true)
	svc := New(rbac.MustDefault(), s.registry, s.audit, WithActivityRecorder(activity))

	_, err := svc.Execute(s.ctx, testutil.Operator, command("pull-logs", "api", nil))
	s.NoError(err)
}

func (s *ServiceSuite) TestRequest() {
	s.Run("run permission is rejected without audit", func() {
		_, err := s.service.Request(s.ctx, testutil.Operator, command("purge-cache", "sessions", nil))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Empty(s.allRecords())
	})

	s.Run("request permission stores the payload", func() {
		receipt, err := s.service.Request(s.ctx, testutil.Operator, command("maintenance-mode", "", map[string]any{"enabled": false}))
		s.Require().NoError(err)
		s.Equal("pending_approval", receipt.Status)

		rec, err := s.store.Get(s.ctx, receipt.RequestID)
		s.Require().NoError(err)
		s.Equal(auditmodels.ResultRequested, rec.Result)
		payload, ok := rec.Detail[models.DetailRequest].(map[string]any)
		s.Require().True(ok)
		s.Equal(testutil.Operator.Email.String(), payload["requester"])
		s.Equal(map[string]any{"enabled": false}, payload["params"])
		s.Empty(s.rec.Calls())
	})

	s.Run("locked caller is denied and audited", func() {
		_, err := s.service.Request(s.ctx, testutil.Nobody, command("maintenance-mode", "", nil))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Len(s.records(auditmodels.ResultDenied), 1)
	})
}

func (s *ServiceSuite) TestListPending() {
	_, err := s.service.Request(s.ctx, testutil.Operator, command("maintenance-mode", "", nil))
	s.Require().NoError(err)
	_, err = s.service.Request(s.ctx, testutil.Engineer, command("rotate-secrets", "db-password", nil))
	s.Require().NoError(err)

	s.Run("operators cannot review", func() {
		_, err := s.service.ListPending(s.ctx, testutil.Operator)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("reviewer sees all, own flagged, payload stripped", func() {
		pending, err := s.service.ListPending(s.ctx, testutil.Engineer)
		s.Require().NoError(err)
		s.Require().Len(pending, 2)
		own := map[domain.ActionID]bool{}
		for _, p := range pending {
			own[p.ActionID] = p.Own
			s.NotContains(p.Detail, models.DetailRequest)
			s.Equal("customer impact", p.Detail[models.DetailReason])
		}
		s.Equal(map[domain.ActionID]bool{"rotate-secrets": true, "maintenance-mode": false}, own)
	})
}

func (s *ServiceSuite) request(caller domain.Caller, cmd models.Command) domain.RecordID {
	receipt, err := s.service.Request(s.ctx, caller, cmd)
	s.Require().NoError(err)
	return receipt.RequestID
}

func (s *ServiceSuite) TestApprove() {
	s.Run("replays the stored payload and finalizes the record", func() {
		id := s.request(testutil.Operator, command("maintenance-mode", "", map[string]any{"enabled": false, "environment": "staging"}))

		res, err := s.service.Approve(s.ctx, testutil.Engineer, id)
		s.Require().NoError(err)
		s.Equal(auditmodels.ResultSuccess, res.Status)

		on, ok := s.rec.Flag("staging", "maintenance_mode")
		s.True(ok)
		s.False(on)

		rec, err := s.store.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(auditmodels.ResultSuccess, rec.Result)
		s.Equal(testutil.Engineer.Email, rec.ApprovedBy)
		s.Contains(rec.Detail, models.DetailOutput)
	})

	s.Run("second approval conflicts", func() {
		id := s.request(testutil.Operator, command("maintenance-mode", "", nil))
		_, err := s.service.Approve(s.ctx, testutil.Engineer, id)
		s.Require().NoError(err)

		_, err = s.service.Approve(s.ctx, testutil.Admin, id)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "already 'success'")
	})

	s.Run("missing request", func() {
		_, err := s.service.Approve(s.ctx, testutil.Engineer, domain.NewRecordID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("nil request id", func() {
		_, err := s.service.Approve(s.ctx, testutil.Engineer, domain.RecordID{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestApproveRefusals() {
	s.Run("self approval is denied and audited", func() {
		id := s.request(testutil.Engineer, command("rotate-secrets", "db-password", nil))
		_, err := s.service.Approve(s.ctx, testutil.Engineer, id)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		denied := s.records(auditmodels.ResultDenied)
		s.Require().Len(denied, 1)
		s.Equal(id.String(), denied[0].Detail[models.DetailApprovalOf])

		rec, _ := s.store.Get(s.ctx, id)
		s.Equal(auditmodels.ResultRequested, rec.Result)
	})

	s.Run("approver role must cover the action", func() {
		id := s.request(testutil.Engineer, command("rotate-secrets", "db-password", nil))
		_, err := s.service.Approve(s.ctx, testutil.Engineer2, id)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Contains(err.Error(), "cannot approve 'rotate-secrets'")

		_, err = s.service.Approve(s.ctx, testutil.Admin, id)
		s.NoError(err)
	})

	s.Run("operators cannot approve", func() {
		id := s.request(testutil.Engineer, command("rotate-secrets", "db-password", nil))
		_, err := s.service.Approve(s.ctx, testutil.Operator, id)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Len(s.rec.Calls(), 1)
}

func (s *ServiceSuite) TestApproveExecutorFailure() {
	id := s.request(testutil.Operator, command("revoke-sessions", "someone@example.com", nil))
	s.rec.FailWith("sessions", "GlobalSignOut", errors.New("pool throttled"))

	_, err := s.service.Approve(s.ctx, testutil.Engineer, id)
	s.True(dErrors.HasCode(err, dErrors.CodeExecutor))

	rec, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(auditmodels.ResultFailed, rec.Result)
	s.Equal(testutil.Engineer.Email, rec.ApprovedBy)
	s.Equal("pool throttled", rec.Detail[models.DetailError])
}

func (s *ServiceSuite) TestApproveLogsOutcomeWhenRecordCannotBeFinalized() {
	cases := []struct {
		name    string
		failRun bool
		outcome auditmodels.Result
		code    dErrors.Code
	}{
		{"success not recorded", false, auditmodels.ResultSuccess, dErrors.CodeUnavailable},
		{"failure not recorded", true, auditmodels.ResultFailed, dErrors.CodeExecutor},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			id := s.request(testutil.Operator, command("maintenance-mode", "", nil))
			requested, err := s.store.Get(s.ctx, id)
			s.Require().NoError(err)
			claimed := requested.Clone()
			claimed.Result = auditmodels.ResultApproved
			claimed.ApprovedBy = testutil.Engineer.Email
			if tc.failRun {
				s.rec.FailWith("flags", "SetFlag", errors.New("flag service down"))
			}

			ctrl := gomock.NewController(s.T())
			trail := mocks.NewMockAuditTrail(ctrl)
			gomock.InOrder(
				trail.EXPECT().Get(gomock.Any(), id).Return(requested, nil),
				trail.EXPECT().Transition(gomock.Any(), id, auditmodels.ResultRequested, auditmodels.ResultApproved, testutil.Engineer.Email, gomock.Any()).
					Return(claimed, nil),
				trail.EXPECT().Transition(gomock.Any(), id, auditmodels.ResultApproved, tc.outcome, domain.Email(""), gomock.Any()).
					Return(nil, dErrors.New(dErrors.CodeUnavailable, "audit write failed")),
			)

			var buf bytes.Buffer
			svc := New(rbac.MustDefault(), s.registry, trail,
				WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

			_, err = svc.Approve(s.ctx, testutil.Engineer, id)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
			s.Len(s.rec.Calls(), 1)

			var entry map[string]any
			s.Require().NoError(json.Unmarshal(lastLine(buf.Bytes()), &entry))
			s.Equal("approval_unfinalized", entry["event"])
			s.Equal("audit", entry["log_type"])
			s.Equal(id.String(), entry["record_id"])
			s.Equal("maintenance-mode", entry["action"])
			s.Equal(tc.outcome.String(), entry["outcome"])
		})
	}
}

func lastLine(b []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	return lines[len(lines)-1]
}

func (s *ServiceSuite) TestConcurrentApprovalsExecuteOnce() {
	id := s.request(testutil.Operator, command("maintenance-mode", "", nil))

	result := testutil.RunConcurrent(20, func(int) error {
		_, err := s.service.Approve(s.ctx, testutil.Engineer, id)
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.Conflicts)
	s.Len(s.rec.Calls(), 1)
}

func (s *ServiceSuite) TestPermissions() {
	views := s.service.Permissions(s.ctx, testutil.Operator)
	s.Len(views, 15)
	perms := map[string]rbac.Permission{}
	for _, v := range views {
		perms[v.ID] = v.Permission
	}
	s.Equal(rbac.PermissionRun, perms["pull-logs"])
	s.Equal(rbac.PermissionRequest, perms["disable-user"])

	for _, v := range s.service.Permissions(s.ctx, testutil.Nobody) {
		s.Equal(rbac.PermissionLocked, v.Permission)
	}
}
