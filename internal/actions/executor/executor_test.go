package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commandbridge/internal/actions/adapters"
	"commandbridge/internal/actions/ports"
	dErrors "commandbridge/pkg/domain-errors"
)

type stubExporter struct {
	from, to time.Time
	max      int
	result   ports.ExportResult
}

func (e *stubExporter) Export(_ context.Context, from, to time.Time, maxRecords int) (ports.ExportResult, error) {
	e.from, e.to, e.max = from, to, maxRecords
	return e.result, nil
}

type ExecutorSuite struct {
	suite.Suite
	rec      *adapters.Recorder
	exporter *stubExporter
	registry *Registry
	ctx      context.Context
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func (s *ExecutorSuite) SetupTest() {
	s.ctx = context.Background()
	s.rec = adapters.NewRecorder(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })
	s.exporter = &stubExporter{result: ports.ExportResult{Location: "/tmp/audit.jsonl", Count: 3}}
	registry, err := NewRegistry(s.ports(), WithNamespace("ops"))
	s.Require().NoError(err)
	s.registry = registry
}

func (s *ExecutorSuite) ports() Ports {
	return Ports{
		Logs: s.rec, Cache: s.rec, CDN: s.rec, Workload: s.rec, Traffic: s.rec,
		Flags: s.rec, Blocklist: s.rec, DNS: s.rec, Secrets: s.rec, Sessions: s.rec,
		Params: s.rec, Exporter: s.exporter, Users: s.rec,
	}
}

func (s *ExecutorSuite) run(id, target string, params any) (Output, error) {
	e, ok := s.registry.Get(id)
	s.Require().True(ok, id)
	inv := Invocation{ActionID: id, Target: target, Caller: "ops@example.com", Reason: "incident"}
	if params != nil {
		raw, err := json.Marshal(params)
		s.Require().NoError(err)
		inv.Params = raw
	}
	return e.Execute(s.ctx, inv)
}

func (s *ExecutorSuite) lastCall() adapters.Call {
	calls := s.rec.Calls()
	s.Require().NotEmpty(calls)
	return calls[len(calls)-1]
}

func (s *ExecutorSuite) TestRegistryCoversEveryAction() {
	s.Len(s.registry.IDs(), 15)
	_, ok := s.registry.Get("reboot-universe")
	s.False(ok)
}

func (s *ExecutorSuite) TestNewRegistryRequiresPorts() {
	p := s.ports()
	p.DNS = nil
	p.Users = nil
	_, err := NewRegistry(p)
	s.Require().Error(err)
	s.Contains(err.Error(), "dns, users")
}

func (s *ExecutorSuite) TestUnknownParamsRejected() {
	e, _ := s.registry.Get(RestartPods)
	err := e.Validate(Invocation{Target: "api", Params: json.RawMessage(`{"replicas": 3}`)})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.rec.Calls())
}

func (s *ExecutorSuite) TestPullLogs() {
	s.Run("builds the group path and defaults", func() {
		out, err := s.run(PullLogs, "api", nil)
		s.Require().NoError(err)
		s.Equal("Retrieved 0 log events from api", out["message"])
		call := s.lastCall()
		s.Equal("/aws/production/api", call.Args["group"])
		s.Equal(200, call.Args["limit"])
	})

	s.Run("rejects inverted window", func() {
		_, err := s.run(PullLogs, "api", map[string]any{"start_time": 2000, "end_time": 1000})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("requires target", func() {
		_, err := s.run(PullLogs, " ", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ExecutorSuite) TestPurgeCache() {
	s.Run("flush only", func() {
		out, err := s.run(PurgeCache, "sessions", map[string]any{"environment": "staging"})
		s.Require().NoError(err)
		s.Equal("staging-sessions", s.lastCall().Args["cluster"])
		s.NotContains(out, "invalidation_id")
	})

	s.Run("flush and invalidate", func() {
		out, err := s.run(PurgeCache, "sessions", map[string]any{"distribution_id": "E123"})
		s.Require().NoError(err)
		s.Equal([]string{"/*"}, s.lastCall().Args["paths"])
		s.NotEmpty(out["invalidation_id"])
	})

	s.Run("bad path", func() {
		_, err := s.run(PurgeCache, "sessions", map[string]any{"paths": []string{"index.html"}})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ExecutorSuite) TestFlushTokenCacheDefaultsCluster() {
	_, err := s.run(FlushTokenCache, "", nil)
	s.Require().NoError(err)
	s.Equal("production-oidc-cache", s.lastCall().Args["cluster"])
}

func (s *ExecutorSuite) TestWorkloads() {
	s.Run("restart uses configured namespace", func() {
		_, err := s.run(RestartPods, "api", nil)
		s.Require().NoError(err)
		s.Equal("ops", s.lastCall().Args["namespace"])
	})

	s.Run("restart rejects invalid names", func() {
		_, err := s.run(RestartPods, "API_Server", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("scale requires desired_count", func() {
		_, err := s.run(ScaleService, "api", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("scale reports previous count", func() {
		out, err := s.run(ScaleService, "api", map[string]any{"desired_count": 4, "namespace": "web"})
		s.Require().NoError(err)
		s.Equal(int32(1), out["previous_count"])
		s.Equal(int32(4), out["desired_count"])
	})

	s.Run("scale bounds", func() {
		_, err := s.run(ScaleService, "api", map[string]any{"desired_count": 500})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ExecutorSuite) TestDrainTraffic() {
	_, err := s.run(DrainTraffic, "tg-1", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	out, err := s.run(DrainTraffic, "tg-1", map[string]any{"instance_ids": []string{"i-1", "i-2"}})
	s.Require().NoError(err)
	s.Equal(80, s.lastCall().Args["port"])
	s.Equal("Deregistered 2 targets from tg-1", out["message"])
}

func (s *ExecutorSuite) TestFlags() {
	_, err := s.run(MaintenanceMode, "", nil)
	s.Require().NoError(err)
	on, ok := s.rec.Flag("production", "maintenance_mode")
	s.True(ok)
	s.True(on)

	out, err := s.run(PauseEnrolments, "", map[string]any{"paused": false, "environment": "staging"})
	s.Require().NoError(err)
	paused, _ := s.rec.Flag("staging", "enrolments_paused")
	s.False(paused)
	s.Equal("Enrolments resumed for staging", out["message"])
}

func (s *ExecutorSuite) TestBlacklistIP() {
	s.Run("adds host prefix", func() {
		out, err := s.run(BlacklistIP, "203.0.113.7", nil)
		s.Require().NoError(err)
		s.Equal("203.0.113.7/32", s.lastCall().Args["cidr"])
		s.Equal("blocked-ips", s.lastCall().Args["set"])
		s.Equal(1, out["total_blocked"])
	})

	s.Run("second block is a noop", func() {
		out, err := s.run(BlacklistIP, "203.0.113.7/32", nil)
		s.Require().NoError(err)
		s.Equal("noop", out["status"])
	})

	s.Run("ipv6 gets /128", func() {
		_, err := s.run(BlacklistIP, "2001:db8::1", nil)
		s.Require().NoError(err)
		s.Equal("2001:db8::1/128", s.lastCall().Args["cidr"])
	})

	s.Run("garbage rejected", func() {
		_, err := s.run(BlacklistIP, "not-an-ip", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ExecutorSuite) TestFailoverRegion() {
	out, err := s.run(FailoverRegion, "hc-1", nil)
	s.Require().NoError(err)
	s.Equal(true, out["inverted"])
	s.Equal("incident", out["reason"])

	out, err = s.run(FailoverRegion, "hc-1", map[string]any{"failover": false})
	s.Require().NoError(err)
	s.Equal(false, out["inverted"])
}

func (s *ExecutorSuite) TestRotateSecrets() {
	out, err := s.run(RotateSecrets, "db-password", nil)
	s.Require().NoError(err)
	s.Equal(30, s.lastCall().Args["rotation_days"])
	s.NotEmpty(out["version_id"])

	_, err = s.run(RotateSecrets, "db-password", map[string]any{"rotation_days": -1})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ExecutorSuite) TestSessionsAndParams() {
	_, err := s.run(RevokeSessions, "someone@example.com", nil)
	s.Require().NoError(err)
	s.Equal("GlobalSignOut", s.lastCall().Method)

	_, err = s.run(ToggleIDVProvider, "vendor-b", nil)
	s.Require().NoError(err)
	v, _ := s.rec.Param("/idv/active-provider")
	s.Equal("vendor-b", v)
}

func (s *ExecutorSuite) TestDisableUser() {
	s.Run("disables identity then deactivates", func() {
		_, err := s.run(DisableUser, "Target@Example.com", nil)
		s.Require().NoError(err)
		calls := s.rec.Calls()
		s.Require().Len(calls, 2)
		s.Equal("DisableUser", calls[0].Method)
		s.Equal("target@example.com", calls[0].Args["username"])
		s.Equal("Deactivate", calls[1].Method)
		s.Equal("ops@example.com", calls[1].Args["by"])
	})

	s.Run("stops when the directory call fails", func() {
		s.rec.FailWith("sessions", "DisableUser", errors.New("pool unavailable"))
		_, err := s.run(DisableUser, "target@example.com", nil)
		s.Error(err)
		s.Equal("DisableUser", s.lastCall().Method)
	})

	s.Run("target must be an email", func() {
		_, err := s.run(DisableUser, "target", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ExecutorSuite) TestExportAuditLog() {
	s.Run("defaults and caps", func() {
		_, err := s.run(ExportAuditLog, "", nil)
		s.Require().NoError(err)
		s.Equal(10000, s.exporter.max)
		s.True(s.exporter.from.IsZero())

		_, err = s.run(ExportAuditLog, "", map[string]any{"max_records": 90000})
		s.Require().NoError(err)
		s.Equal(MaxExportRecords, s.exporter.max)

		_, err = s.run(ExportAuditLog, "", map[string]any{"max_records": -5})
		s.Require().NoError(err)
		s.Equal(1, s.exporter.max)
	})

	s.Run("parses dates", func() {
		s.exporter.result.Truncated = true
		out, err := s.run(ExportAuditLog, "", map[string]any{"start_date": "2026-01-01", "end_date": "2026-02-01T00:00:00Z", "max_records": 3})
		s.Require().NoError(err)
		s.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s.exporter.from)
		s.Equal(true, out["truncated"])
		s.Contains(out["message"], "capped at 3 records")
	})

	s.Run("rejects inverted range", func() {
		_, err := s.run(ExportAuditLog, "", map[string]any{"start_date": "2026-02-01", "end_date": "2026-01-01"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ExecutorSuite) TestPortErrorsPassThrough() {
	boom := errors.New("cluster unreachable")
	s.rec.FailWith("cache", "Flush", boom)
	_, err := s.run(PurgeCache, "sessions", nil)
	s.ErrorIs(err, boom)
}
