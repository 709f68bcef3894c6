// Package ports declares the narrow downstream calls operational actions
// make. Each executor depends on exactly one of these (disable-user on two),
// so an adapter can be swapped without touching dispatch.
package ports

import (
	"context"
	"time"

	"commandbridge/pkg/domain"
)

// LogQuery selects events from one log group.
type LogQuery struct {
	Group   string
	Start   time.Time
	End     time.Time
	Pattern string
	Limit   int
}

type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Stream    string    `json:"log_stream"`
}

// LogReader reads recent events from a log group.
type LogReader interface {
	FilterLogEvents(ctx context.Context, q LogQuery) ([]LogEvent, error)
}

// CacheFlusher empties a named cache cluster.
type CacheFlusher interface {
	Flush(ctx context.Context, cluster string) error
}

// CDNInvalidator invalidates paths on a distribution and returns the
// invalidation id.
type CDNInvalidator interface {
	Invalidate(ctx context.Context, distributionID string, paths []string) (string, error)
}

// ScaleStatus is a workload's replica count before and after a change.
type ScaleStatus struct {
	Previous int32 `json:"previous_count"`
	Desired  int32 `json:"desired_count"`
}

// WorkloadController drives container workloads.
type WorkloadController interface {
	RolloutRestart(ctx context.Context, namespace, deployment string) error
	Scale(ctx context.Context, namespace, name string, replicas int32) (ScaleStatus, error)
}

// TrafficController removes instances from a load-balancer target group.
type TrafficController interface {
	Deregister(ctx context.Context, targetGroup string, instanceIDs []string, port int) error
}

// FeatureFlags sets boolean flags per environment.
type FeatureFlags interface {
	SetFlag(ctx context.Context, environment, flag string, enabled bool) error
}

// IPBlocklist adds a CIDR to a named set. added is false when the CIDR was
// already present; total is the set size afterwards.
type IPBlocklist interface {
	Block(ctx context.Context, set, cidr string) (added bool, total int, err error)
}

type HealthCheck struct {
	FQDN     string `json:"fqdn"`
	Inverted bool   `json:"inverted"`
}

// DNSFailover flips a health check so DNS routes away from (or back to) a
// region.
type DNSFailover interface {
	SetInverted(ctx context.Context, healthCheckID string, inverted bool) (HealthCheck, error)
}

type SecretStatus struct {
	VersionID    string    `json:"version_id"`
	NextRotation time.Time `json:"next_rotation"`
}

// SecretRotator triggers rotation of a stored secret.
type SecretRotator interface {
	Rotate(ctx context.Context, secretID string, intervalDays int) (SecretStatus, error)
}

// SessionRevoker acts on the external identity pool.
type SessionRevoker interface {
	GlobalSignOut(ctx context.Context, username string) error
	DisableUser(ctx context.Context, username string) error
}

// ParameterStore writes a configuration parameter.
type ParameterStore interface {
	Put(ctx context.Context, name, value string) error
}

type ExportResult struct {
	Location  string `json:"location"`
	Count     int    `json:"record_count"`
	Truncated bool   `json:"truncated"`
}

// AuditExporter writes audit records in [from, to) to an export sink.
type AuditExporter interface {
	Export(ctx context.Context, from, to time.Time, maxRecords int) (ExportResult, error)
}

// UserDeactivator marks a portal user inactive.
type UserDeactivator interface {
	Deactivate(ctx context.Context, by domain.Email, email domain.Email) error
}
