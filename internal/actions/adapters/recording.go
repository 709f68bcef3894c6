package adapters

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"commandbridge/internal/actions/ports"
	"commandbridge/pkg/domain"
)

// Call is one downstream call captured by the Recorder.
type Call struct {
	Port   string         `json:"port"`
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

// Recorder stands in for every downstream port. It keeps just enough state
// (flags, IP sets, parameters, replica counts) to answer like the real
// systems, and records each call. Used in dry-run mode and in tests.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	flags    map[string]bool
	ipSets   map[string][]string
	params   map[string]string
	replicas map[string]int32
	seq      int
	now      func() time.Time

	// keyed by "port.method"
	failOn map[string]error
}

func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		flags:    map[string]bool{},
		ipSets:   map[string][]string{},
		params:   map[string]string{},
		replicas: map[string]int32{},
		failOn:   map[string]error{},
		now:      now,
	}
}

var (
	_ ports.LogReader          = (*Recorder)(nil)
	_ ports.CacheFlusher       = (*Recorder)(nil)
	_ ports.CDNInvalidator     = (*Recorder)(nil)
	_ ports.WorkloadController = (*Recorder)(nil)
	_ ports.TrafficController  = (*Recorder)(nil)
	_ ports.FeatureFlags       = (*Recorder)(nil)
	_ ports.IPBlocklist        = (*Recorder)(nil)
	_ ports.DNSFailover        = (*Recorder)(nil)
	_ ports.SecretRotator      = (*Recorder)(nil)
	_ ports.SessionRevoker     = (*Recorder)(nil)
	_ ports.ParameterStore     = (*Recorder)(nil)
	_ ports.UserDeactivator    = (*Recorder)(nil)
)

// FailWith makes every later call to port.method return err.
func (r *Recorder) FailWith(port, method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn[port+"."+method] = err
}

// Calls returns a copy of the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Flag reports a flag's last value.
func (r *Recorder) Flag(environment, flag string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.flags[environment+"/"+flag]
	return v, ok
}

// Param reports a parameter's last value.
func (r *Recorder) Param(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.params[name]
	return v, ok
}

// record must be called with mu held.
func (r *Recorder) record(port, method string, args map[string]any) error {
	r.calls = append(r.calls, Call{Port: port, Method: method, Args: args})
	return r.failOn[port+"."+method]
}

func (r *Recorder) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%06d", prefix, r.seq)
}

func (r *Recorder) FilterLogEvents(_ context.Context, q ports.LogQuery) ([]ports.LogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("logs", "FilterLogEvents", map[string]any{
		"group": q.Group, "pattern": q.Pattern, "limit": q.Limit,
	}); err != nil {
		return nil, err
	}
	return []ports.LogEvent{}, nil
}

func (r *Recorder) Flush(_ context.Context, cluster string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("cache", "Flush", map[string]any{"cluster": cluster})
}

func (r *Recorder) Invalidate(_ context.Context, distributionID string, paths []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("cdn", "Invalidate", map[string]any{
		"distribution_id": distributionID, "paths": slices.Clone(paths),
	}); err != nil {
		return "", err
	}
	return r.nextID("inv"), nil
}

func (r *Recorder) RolloutRestart(_ context.Context, namespace, deployment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("workload", "RolloutRestart", map[string]any{
		"namespace": namespace, "deployment": deployment,
	})
}

func (r *Recorder) Scale(_ context.Context, namespace, name string, replicas int32) (ports.ScaleStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("workload", "Scale", map[string]any{
		"namespace": namespace, "name": name, "replicas": replicas,
	}); err != nil {
		return ports.ScaleStatus{}, err
	}
	key := namespace + "/" + name
	previous, ok := r.replicas[key]
	if !ok {
		previous = 1
	}
	r.replicas[key] = replicas
	return ports.ScaleStatus{Previous: previous, Desired: replicas}, nil
}

func (r *Recorder) Deregister(_ context.Context, targetGroup string, instanceIDs []string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("traffic", "Deregister", map[string]any{
		"target_group": targetGroup, "instance_ids": slices.Clone(instanceIDs), "port": port,
	})
}

func (r *Recorder) SetFlag(_ context.Context, environment, flag string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("flags", "SetFlag", map[string]any{
		"environment": environment, "flag": flag, "enabled": enabled,
	}); err != nil {
		return err
	}
	r.flags[environment+"/"+flag] = enabled
	return nil
}

func (r *Recorder) Block(_ context.Context, set, cidr string) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("blocklist", "Block", map[string]any{"set": set, "cidr": cidr}); err != nil {
		return false, 0, err
	}
	if slices.Contains(r.ipSets[set], cidr) {
		return false, len(r.ipSets[set]), nil
	}
	r.ipSets[set] = append(r.ipSets[set], cidr)
	return true, len(r.ipSets[set]), nil
}

func (r *Recorder) SetInverted(_ context.Context, healthCheckID string, inverted bool) (ports.HealthCheck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("dns", "SetInverted", map[string]any{
		"health_check_id": healthCheckID, "inverted": inverted,
	}); err != nil {
		return ports.HealthCheck{}, err
	}
	return ports.HealthCheck{FQDN: healthCheckID + ".health.internal", Inverted: inverted}, nil
}

func (r *Recorder) Rotate(_ context.Context, secretID string, intervalDays int) (ports.SecretStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("secrets", "Rotate", map[string]any{
		"secret_id": secretID, "rotation_days": intervalDays,
	}); err != nil {
		return ports.SecretStatus{}, err
	}
	return ports.SecretStatus{
		VersionID:    r.nextID("ver"),
		NextRotation: r.now().UTC().AddDate(0, 0, intervalDays),
	}, nil
}

func (r *Recorder) GlobalSignOut(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("sessions", "GlobalSignOut", map[string]any{"username": username})
}

func (r *Recorder) DisableUser(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("sessions", "DisableUser", map[string]any{"username": username})
}

func (r *Recorder) Put(_ context.Context, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("params", "Put", map[string]any{"name": name, "value": value}); err != nil {
		return err
	}
	r.params[name] = value
	return nil
}

func (r *Recorder) Deactivate(_ context.Context, by domain.Email, email domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("users", "Deactivate", map[string]any{"by": by.String(), "email": email.String()})
}
