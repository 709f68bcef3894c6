package executor

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"

	"commandbridge/internal/actions/ports"
	"commandbridge/pkg/domain"
)

// Action ids served by the registry.
const (
	PullLogs          = "pull-logs"
	PurgeCache        = "purge-cache"
	FlushTokenCache   = "flush-token-cache"
	RestartPods       = "restart-pods"
	ScaleService      = "scale-service"
	DrainTraffic      = "drain-traffic"
	MaintenanceMode   = "maintenance-mode"
	PauseEnrolments   = "pause-enrolments"
	BlacklistIP       = "blacklist-ip"
	FailoverRegion    = "failover-region"
	RotateSecrets     = "rotate-secrets"
	RevokeSessions    = "revoke-sessions"
	ToggleIDVProvider = "toggle-idv-provider"
	ExportAuditLog    = "export-audit-log"
	DisableUser       = "disable-user"
)

// DefaultTokenCache is the cluster flush-token-cache targets without a target.
const DefaultTokenCache = "oidc-cache"

const (
	defaultEnvironment   = "production"
	defaultLogLimit      = 200
	maxLogLimit          = 10000
	defaultIPSet         = "blocked-ips"
	defaultRotationDays  = 30
	maxRotationDays      = 1000
	defaultExportRecords = 10000
	// MaxExportRecords caps a single audit export.
	MaxExportRecords = 50000
	maxReplicas      = 100
)

// Ports bundles the downstream adapters the executors call.
type Ports struct {
	Logs      ports.LogReader
	Cache     ports.CacheFlusher
	CDN       ports.CDNInvalidator
	Workload  ports.WorkloadController
	Traffic   ports.TrafficController
	Flags     ports.FeatureFlags
	Blocklist ports.IPBlocklist
	DNS       ports.DNSFailover
	Secrets   ports.SecretRotator
	Sessions  ports.SessionRevoker
	Params    ports.ParameterStore
	Exporter  ports.AuditExporter
	Users     ports.UserDeactivator
}

func (p Ports) missing() []string {
	var out []string
	check := func(name string, ok bool) {
		if !ok {
			out = append(out, name)
		}
	}
	check("logs", p.Logs != nil)
	check("cache", p.Cache != nil)
	check("cdn", p.CDN != nil)
	check("workload", p.Workload != nil)
	check("traffic", p.Traffic != nil)
	check("flags", p.Flags != nil)
	check("blocklist", p.Blocklist != nil)
	check("dns", p.DNS != nil)
	check("secrets", p.Secrets != nil)
	check("sessions", p.Sessions != nil)
	check("params", p.Params != nil)
	check("exporter", p.Exporter != nil)
	check("users", p.Users != nil)
	return out
}

type registryConfig struct {
	namespace    string
	tokenCache   string
	idvParameter string
}

// Option configures executor defaults.
type Option func(*registryConfig)

// WithNamespace sets the namespace used when restart-pods and scale-service
// are not given one.
func WithNamespace(ns string) Option {
	return func(c *registryConfig) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithTokenCache sets the cluster flushed by flush-token-cache when no
// target is supplied.
func WithTokenCache(name string) Option {
	return func(c *registryConfig) {
		if name != "" {
			c.tokenCache = name
		}
	}
}

// WithIDVParameter sets the parameter toggled by toggle-idv-provider.
func WithIDVParameter(name string) Option {
	return func(c *registryConfig) {
		if name != "" {
			c.idvParameter = name
		}
	}
}

// NewRegistry wires every action to its port. All ports are required.
func NewRegistry(p Ports, opts ...Option) (*Registry, error) {
	if missing := p.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("executor: missing ports: %s", strings.Join(missing, ", "))
	}
	cfg := &registryConfig{
		namespace:    "default",
		tokenCache:   DefaultTokenCache,
		idvParameter: "/idv/active-provider",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := &Registry{executors: make(map[string]Executor, 15)}
	r.register(PullLogs, pullLogs(p.Logs))
	r.register(PurgeCache, purgeCache(p.Cache, p.CDN))
	r.register(FlushTokenCache, flushTokenCache(p.Cache, cfg.tokenCache))
	r.register(RestartPods, restartPods(p.Workload, cfg.namespace))
	r.register(ScaleService, scaleService(p.Workload, cfg.namespace))
	r.register(DrainTraffic, drainTraffic(p.Traffic))
	r.register(MaintenanceMode, maintenanceMode(p.Flags))
	r.register(PauseEnrolments, pauseEnrolments(p.Flags))
	r.register(BlacklistIP, blacklistIP(p.Blocklist))
	r.register(FailoverRegion, failoverRegion(p.DNS))
	r.register(RotateSecrets, rotateSecrets(p.Secrets))
	r.register(RevokeSessions, revokeSessions(p.Sessions))
	r.register(ToggleIDVProvider, toggleIDVProvider(p.Params, cfg.idvParameter))
	r.register(ExportAuditLog, exportAuditLog(p.Exporter))
	r.register(DisableUser, disableUser(p.Sessions, p.Users))
	return r, nil
}

func requireTarget(id string) func(Invocation) error {
	return func(inv Invocation) error {
		if strings.TrimSpace(inv.Target) == "" {
			return invalid("target is required for " + id)
		}
		return nil
	}
}

func envOrDefault(env *string) {
	if strings.TrimSpace(*env) == "" {
		*env = defaultEnvironment
	}
}

type pullLogsParams struct {
	Environment   string `json:"environment"`
	StartTime     int64  `json:"start_time"`
	EndTime       int64  `json:"end_time"`
	FilterPattern string `json:"filter_pattern"`
	Limit         int    `json:"limit"`
}

func pullLogs(logs ports.LogReader) Executor {
	return action[pullLogsParams]{
		id: PullLogs,
		check: func(inv Invocation, p *pullLogsParams) error {
			if err := requireTarget(PullLogs)(inv); err != nil {
				return err
			}
			envOrDefault(&p.Environment)
			if p.Limit == 0 {
				p.Limit = defaultLogLimit
			}
			if p.Limit < 0 || p.Limit > maxLogLimit {
				return invalid(fmt.Sprintf("limit must be between 1 and %d", maxLogLimit))
			}
			if p.StartTime < 0 || p.EndTime < 0 {
				return invalid("start_time and end_time must be epoch milliseconds")
			}
			if p.StartTime > 0 && p.EndTime > 0 && p.StartTime > p.EndTime {
				return invalid("start_time must not be after end_time")
			}
			return nil
		},
		run: func(ctx context.Context, inv Invocation, p pullLogsParams) (Output, error) {
			q := ports.LogQuery{
				Group:   fmt.Sprintf("/aws/%s/%s", p.Environment, inv.Target),
				Pattern: p.FilterPattern,
				Limit:   p.Limit,
			}
			if p.StartTime > 0 {
				q.Start = time.UnixMilli(p.StartTime).UTC()
			}
			if p.EndTime > 0 {
				q.End = time.UnixMilli(p.EndTime).UTC()
			}
			events, err := logs.FilterLogEvents(ctx, q)
			if err != nil {
				return nil, err
			}
			if events == nil {
				events = []ports.LogEvent{}
			}
			return Output{
				"message": fmt.Sprintf("Retrieved %d log events from %s", len(events), inv.Target),
				"events":  events,
			}, nil
		},
	}
}

type purgeCacheParams struct {
	Environment    string   `json:"environment"`
	DistributionID string   `json:"distribution_id"`
	Paths          []string `json:"paths"`
}

func purgeCache(cache ports.CacheFlusher, cdn ports.CDNInvalidator) Executor {
	return action[purgeCacheParams]{
		id: PurgeCache,
		check: func(inv Invocation, p *purgeCacheParams) error {
			if err := requireTarget(PurgeCache)(inv); err != nil {
				return err
			}
			envOrDefault(&p.Environment)
			if len(p.Paths) == 0 {
				p.Paths = []string{"/*"}
			}
			for _, path := range p.Paths {
				if !strings.HasPrefix(path, "/") {
					return invalid(fmt.Sprintf("invalidation path %q must start with /", path))
				}
			}
			return nil
		},
		run: func(ctx context.Context, inv Invocation, p purgeCacheParams) (Output, error) {
			if err := cache.Flush(ctx, p.Environment+"-"+inv.Target); err != nil {
				return nil, err
			}
			out := Output{"message": "Cache purged for " + inv.Target}
			if p.DistributionID == "" {
				return out, nil
			}
			id, err := cdn.Invalidate(ctx, p.DistributionID, p.Paths)
			if err != nil {
				return nil, err
			}
			out["message"] = fmt.Sprintf("Cache purged for %s and CDN %s", inv.Target, p.DistributionID)
			out["invalidation_id"] = id
			return out, nil
		},
	}
}

type environmentParams struct {
	Environment string `json:"environment"`
}

func flushTokenCache(cache ports.CacheFlusher, defaultCluster string) Executor {
	return action[environmentParams]{
		id: FlushTokenCache,
		check: func(_ Invocation, p *environmentParams) error {
			envOrDefault(&p.Environment)
			return nil
		},
		run: func(ctx context.Context, inv Invocation, p environmentParams) (Output, error) {
			cluster := strings.TrimSpace(inv.Target)
			if cluster == "" {
				cluster = defaultCluster
			}
			if err := cache.Flush(ctx, p.Environment+"-"+cluster); err != nil {
				return nil, err
			}
			return Output{
				"message": fmt.Sprintf("Token cache flushed for %s. Signing keys will be re-fetched on next validation.", cluster),
			}, nil
		},
	}
}

type workloadParams struct {
	Namespace    string `json:"namespace"`
	DesiredCount *int32 `json:"desired_count"`
}

func checkWorkload(id, defaultNamespace string, inv Invocation, p *workloadParams) error {
	if err := requireTarget(id)(inv); err != nil {
		return err
	}
	if errs := validation.IsDNS1123Subdomain(inv.Target); len(errs) > 0 {
		return invalid(fmt.Sprintf("invalid workload name %q: %s", inv.Target, errs[0]))
	}
	if p.Namespace == "" {
		p.Namespace = defaultNamespace
	}
	if errs := validation.IsDNS1123Label(p.Namespace); len(errs) > 0 {
		return invalid(fmt.Sprintf("invalid namespace %q: %s", p.Namespace, errs[0]))
	}
	return nil
}

func restartPods(workloads ports.WorkloadController, defaultNamespace string) Executor {
	return action[workloadParams]{
		id: RestartPods,
		check: func(inv Invocation, p *workloadParams) error {
			if p.DesiredCount != nil {
				return invalid("desired_count is not accepted by restart-pods")
			}
			return checkWorkload(RestartPods, defaultNamespace, inv, p)
		},
		run: func(ctx context.Context, inv Invocation, p workloadParams) (Output, error) {
			if err := workloads.RolloutRestart(ctx, p.Namespace, inv.Target); err != nil {
				return nil, err
			}
			return Output{
				"message":   fmt.Sprintf("Rollout restart issued for %s in %s", inv.Target, p.Namespace),
				"namespace": p.Namespace,
			}, nil
		},
	}
}

func scaleService(workloads ports.WorkloadController, defaultNamespace string) Executor {
	return action[workloadParams]{
		id: ScaleService,
		check: func(inv Invocation, p *workloadParams) error {
			if p.DesiredCount == nil {
				return invalid("desired_count is required")
			}
			if *p.DesiredCount < 0 || *p.DesiredCount > maxReplicas {
				return invalid(fmt.Sprintf("desired_count must be between 0 and %d", maxReplicas))
			}
			return checkWorkload(ScaleService, defaultNamespace, inv, p)
		},
		run: func(ctx context.Context, inv Invocation, p workloadParams) (Output, error) {
			status, err := workloads.Scale(ctx, p.Namespace, inv.Target, *p.DesiredCount)
			if err != nil {
				return nil, err
			}
			return Output{
				"message":        fmt.Sprintf("Scaled %s to %d replicas (was %d)", inv.Target, status.Desired, status.Previous),
				"previous_count": status.Previous,
				"desired_count":  status.Desired,
			}, nil
		},
	}
}

type drainParams struct {
	InstanceIDs []string `json:"instance_ids"`
	Port        int      `json:"port"`
}

func drainTraffic(traffic ports.TrafficController) Executor {
	return action[drainParams]{
		id: DrainTraffic,
		check: func(inv Invocation, p *drainParams) error {
			if err := requireTarget(DrainTraffic)(inv); err != nil {
				return err
			}
			if len(p.InstanceIDs) == 0 {
				return invalid("instance_ids is required")
			}
			for _, id := range p.InstanceIDs {
				if strings.TrimSpace(id) == "" {
					return invalid("instance_ids must not contain blank entries")
				}
			}
			if p.Port == 0 {
				p.Port = 80
			}
			if p.Port < 1 || p.Port > 65535 {
				return invalid("port must be between 1 and 65535")
			}
			return nil
		},
		run: func(ctx context.Context, inv Invocation, p drainParams) (Output, error) {
			if err := traffic.Deregister(ctx, inv.Target, p.InstanceIDs, p.Port); err != nil {
				return nil, err
			}
			return Output{
				"message":          fmt.Sprintf("Deregistered %d targets from %s", len(p.InstanceIDs), inv.Target),
				"deregistered_ids": p.InstanceIDs,
			}, nil
		},
	}
}

type maintenanceParams struct {
	Environment string `json:"environment"`
	Enabled     *bool  `json:"enabled"`
}

func maintenanceMode(flags ports.FeatureFlags) Executor {
	return action[maintenanceParams]{
		id: MaintenanceMode,
		check: func(_ Invocation, p *maintenanceParams) error {
			envOrDefault(&p.Environment)
			if p.Enabled == nil {
				p.Enabled = boolPtr(true)
			}
			return nil
		},
		run: func(ctx context.Context, _ Invocation, p maintenanceParams) (Output, error) {
			if err := flags.SetFlag(ctx, p.Environment, "maintenance_mode", *p.Enabled); err != nil {
				return nil, err
			}
			return Output{
				"message":          fmt.Sprintf("Maintenance mode %s for %s", onOff(*p.Enabled, "enabled", "disabled"), p.Environment),
				"maintenance_mode": *p.Enabled,
			}, nil
		},
	}
}

type enrolmentParams struct {
	Environment string `json:"environment"`
	Paused      *bool  `json:"paused"`
}

func pauseEnrolments(flags ports.FeatureFlags) Executor {
	return action[enrolmentParams]{
		id: PauseEnrolments,
		check: func(_ Invocation, p *enrolmentParams) error {
			envOrDefault(&p.Environment)
			if p.Paused == nil {
				p.Paused = boolPtr(true)
			}
			return nil
		},
		run: func(ctx context.Context, _ Invocation, p enrolmentParams) (Output, error) {
			if err := flags.SetFlag(ctx, p.Environment, "enrolments_paused", *p.Paused); err != nil {
				return nil, err
			}
			return Output{
				"message":           fmt.Sprintf("Enrolments %s for %s", onOff(*p.Paused, "paused", "resumed"), p.Environment),
				"enrolments_paused": *p.Paused,
			}, nil
		},
	}
}

type blacklistParams struct {
	IPSetName string `json:"ip_set_name"`
}

// normalizeCIDR turns a bare address into a host prefix.
func normalizeCIDR(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "/") {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return "", invalid(fmt.Sprintf("invalid IP address %q", raw))
		}
		return netip.PrefixFrom(addr, addr.BitLen()).String(), nil
	}
	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		return "", invalid(fmt.Sprintf("invalid CIDR %q", raw))
	}
	return prefix.Masked().String(), nil
}

func blacklistIP(blocklist ports.IPBlocklist) Executor {
	return action[blacklistParams]{
		id: BlacklistIP,
		check: func(inv Invocation, p *blacklistParams) error {
			if err := requireTarget(BlacklistIP)(inv); err != nil {
				return err
			}
			if _, err := normalizeCIDR(inv.Target); err != nil {
				return err
			}
			if p.IPSetName == "" {
				p.IPSetName = defaultIPSet
			}
			return nil
		},
		run: func(ctx context.Context, inv Invocation, p blacklistParams) (Output, error) {
			cidr, _ := normalizeCIDR(inv.Target)
			added, total, err := blocklist.Block(ctx, p.IPSetName, cidr)
			if err != nil {
				return nil, err
			}
			if !added {
				return Output{"status": "noop", "message": cidr + " is already blocked"}, nil
			}
			return Output{
				"message":       fmt.Sprintf("Blocked %s in IP set %s", cidr, p.IPSetName),
				"total_blocked": total,
			}, nil
		},
	}
}

type failoverParams struct {
	Failover *bool `json:"failover"`
}

func failoverRegion(dns ports.DNSFailover) Executor {
	return action[failoverParams]{
		id: FailoverRegion,
		check: func(inv Invocation, p *failoverParams) error {
			if p.Failover == nil {
				p.Failover = boolPtr(true)
			}
			return requireTarget(FailoverRegion)(inv)
		},
		run: func(ctx context.Context, inv Invocation, p failoverParams) (Output, error) {
			hc, err := dns.SetInverted(ctx, inv.Target, *p.Failover)
			if err != nil {
				return nil, err
			}
			state := onOff(*p.Failover, "inverted (failover active)", "restored (failover cleared)")
			return Output{
				"message":           fmt.Sprintf("Health check %s %s", inv.Target, state),
				"reason":            inv.Reason,
				"health_check_fqdn": hc.FQDN,
				"inverted":          hc.Inverted,
			}, nil
		},
	}
}

type rotateParams struct {
	RotationDays int `json:"rotation_days"`
}

func rotateSecrets(secrets ports.SecretRotator) Executor {
	return action[rotateParams]{
		id: RotateSecrets,
		check: func(inv Invocation, p *rotateParams) error {
			if p.RotationDays == 0 {
				p.RotationDays = defaultRotationDays
			}
			if p.RotationDays < 1 || p.RotationDays > maxRotationDays {
				return invalid(fmt.Sprintf("rotation_days must be between 1 and %d", maxRotationDays))
			}
			return requireTarget(RotateSecrets)(inv)
		},
		run: func(ctx context.Context, inv Invocation, p rotateParams) (Output, error) {
			status, err := secrets.Rotate(ctx, inv.Target, p.RotationDays)
			if err != nil {
				return nil, err
			}
			return Output{
				"message":       "Rotation triggered for secret " + inv.Target,
				"version_id":    status.VersionID,
				"next_rotation": status.NextRotation,
			}, nil
		},
	}
}

type noParams struct{}

func revokeSessions(sessions ports.SessionRevoker) Executor {
	return action[noParams]{
		id: RevokeSessions,
		check: func(inv Invocation, _ *noParams) error {
			return requireTarget(RevokeSessions)(inv)
		},
		run: func(ctx context.Context, inv Invocation, _ noParams) (Output, error) {
			if err := sessions.GlobalSignOut(ctx, inv.Target); err != nil {
				return nil, err
			}
			return Output{"message": "All sessions revoked for user " + inv.Target}, nil
		},
	}
}

type idvParams struct {
	ParamName string `json:"param_name"`
}

func toggleIDVProvider(params ports.ParameterStore, defaultParam string) Executor {
	return action[idvParams]{
		id: ToggleIDVProvider,
		check: func(inv Invocation, p *idvParams) error {
			if p.ParamName == "" {
				p.ParamName = defaultParam
			}
			if !strings.HasPrefix(p.ParamName, "/") {
				return invalid("param_name must be an absolute parameter path")
			}
			return requireTarget(ToggleIDVProvider)(inv)
		},
		run: func(ctx context.Context, inv Invocation, p idvParams) (Output, error) {
			if err := params.Put(ctx, p.ParamName, inv.Target); err != nil {
				return nil, err
			}
			return Output{"message": "IDV provider switched to " + inv.Target}, nil
		},
	}
}

type exportParams struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	MaxRecords int    `json:"max_records"`

	from, to time.Time
}

// parseDate accepts an RFC 3339 timestamp or a plain YYYY-MM-DD date.
func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, invalid(fmt.Sprintf("%s must be RFC3339 or YYYY-MM-DD", field))
}

func exportAuditLog(exporter ports.AuditExporter) Executor {
	return action[exportParams]{
		id: ExportAuditLog,
		check: func(_ Invocation, p *exportParams) error {
			var err error
			if p.from, err = parseDate("start_date", p.StartDate); err != nil {
				return err
			}
			if p.to, err = parseDate("end_date", p.EndDate); err != nil {
				return err
			}
			if !p.from.IsZero() && !p.to.IsZero() && !p.from.Before(p.to) {
				return invalid("start_date must be before end_date")
			}
			switch {
			case p.MaxRecords == 0:
				p.MaxRecords = defaultExportRecords
			case p.MaxRecords < 1:
				p.MaxRecords = 1
			case p.MaxRecords > MaxExportRecords:
				p.MaxRecords = MaxExportRecords
			}
			return nil
		},
		run: func(ctx context.Context, _ Invocation, p exportParams) (Output, error) {
			res, err := exporter.Export(ctx, p.from, p.to, p.MaxRecords)
			if err != nil {
				return nil, err
			}
			msg := fmt.Sprintf("Exported %d audit records to %s", res.Count, res.Location)
			out := Output{"record_count": res.Count, "location": res.Location}
			if res.Truncated {
				msg += fmt.Sprintf(" (capped at %d records)", p.MaxRecords)
				out["truncated"] = true
			}
			out["message"] = msg
			return out, nil
		},
	}
}

func disableUser(sessions ports.SessionRevoker, users ports.UserDeactivator) Executor {
	return action[noParams]{
		id: DisableUser,
		check: func(inv Invocation, _ *noParams) error {
			if err := requireTarget(DisableUser)(inv); err != nil {
				return err
			}
			if _, err := domain.ParseEmail(inv.Target); err != nil {
				return invalid("target must be the user's email address")
			}
			return nil
		},
		run: func(ctx context.Context, inv Invocation, _ noParams) (Output, error) {
			email, _ := domain.ParseEmail(inv.Target)
			if err := sessions.DisableUser(ctx, email.String()); err != nil {
				return nil, err
			}
			if err := users.Deactivate(ctx, inv.Caller, email); err != nil {
				return nil, err
			}
			return Output{
				"message": fmt.Sprintf("User %s disabled. Sign-in blocked pending investigation.", email),
			}, nil
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func onOff(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
