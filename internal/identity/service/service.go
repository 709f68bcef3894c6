package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	activitymodels "commandbridge/internal/activity/models"
	auditmodels "commandbridge/internal/audit/models"
	"commandbridge/internal/identity/models"
	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/rbac"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/privacy"
	"commandbridge/pkg/platform/sentinel"
	"commandbridge/pkg/requestcontext"
)

// Store is the persistence contract for users.
type Store interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email domain.Email) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

// RoleCatalogue answers which roles exist and at what tier.
type RoleCatalogue interface {
	ValidRole(name domain.Role) bool
	Level(name domain.Role) int
	Roles() []rbac.Role
}

// AuditRecorder writes best-effort audit rows for admin operations.
type AuditRecorder interface {
	Record(ctx context.Context, rec *auditmodels.Record)
}

// ActivityRecorder queues server-side activity. It must never block.
type ActivityRecorder interface {
	Enqueue(ev activitymodels.Event) bool
}

// Admin audit action ids.
const (
	ActionCreateUser  = "admin-create-user"
	ActionDisableUser = "admin-disable-user"
	ActionEnableUser  = "admin-enable-user"
	ActionSetRole     = "admin-set-role"
)

// Service resolves callers and administers users.
type Service struct {
	users     Store
	roles     RoleCatalogue
	directory Directory
	audit     AuditRecorder
	activity  ActivityRecorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(users Store, roles RoleCatalogue, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.directory == nil {
		cfg.directory = NoopDirectory{}
	}
	return &Service{
		users:     users,
		roles:     roles,
		directory: cfg.directory,
		audit:     cfg.audit,
		activity:  cfg.activity,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
	}
}

// ResolveCaller maps a verified email to its role. Unknown, inactive, or
// mis-roled users resolve to a caller without a role. Only a store failure
// is an error.
func (s *Service) ResolveCaller(ctx context.Context, email domain.Email) (domain.Caller, error) {
	caller := domain.Caller{Email: email}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return caller, nil
		}
		return caller, dErrors.Wrap(err, dErrors.CodeUnavailable, "user store unavailable")
	}
	if !user.Active {
		return caller, nil
	}
	if !s.roles.ValidRole(user.Role) {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "user has unknown role",
				"user", privacy.MaskEmail(email.String()),
				"role", user.Role,
			)
		}
		return caller, nil
	}
	caller.Role = user.Role
	caller.Level = s.roles.Level(user.Role)
	return caller, nil
}

// Me returns the caller's own profile. Missing and inactive users are refused.
func (s *Service) Me(ctx context.Context, caller domain.Caller) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, caller.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeForbidden, "User not found or inactive")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read user")
	}
	if !user.Active {
		return nil, dErrors.New(dErrors.CodeForbidden, "User not found or inactive")
	}
	return user, nil
}

func (s *Service) List(ctx context.Context, caller domain.Caller) ([]*models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list users")
	}
	return users, nil
}

// CreateCommand carries a new user's attributes.
type CreateCommand struct {
	Email domain.Email
	Name  string
	Role  domain.Role
	Team  string
}

// Create adds a user to the directory and the store. A store failure rolls
// the directory entry back.
func (s *Service) Create(ctx context.Context, caller domain.Caller, cmd CreateCommand) (*models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := s.checkRole(cmd.Role); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, cmd.Email); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("User %s already exists", cmd.Email))
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read user")
	}

	if err := s.directory.Create(ctx, cmd.Email, cmd.Name); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("User %s already exists in the directory", cmd.Email))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create directory user")
	}

	now := requestcontext.Now(ctx)
	user := &models.User{
		Email:     cmd.Email,
		Name:      cmd.Name,
		Role:      cmd.Role,
		Team:      cmd.Team,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: caller.Email,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if rbErr := s.directory.Delete(ctx, cmd.Email); rbErr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "directory rollback failed",
				"error", rbErr,
				"user", privacy.MaskEmail(cmd.Email.String()),
			)
		}
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("User %s already exists", cmd.Email))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create user record")
	}

	s.recordAdmin(ctx, caller, ActionCreateUser, cmd.Email, map[string]any{
		"name": cmd.Name,
		"role": cmd.Role.String(),
		"team": cmd.Team,
	})
	return user, nil
}

// Disable deactivates a user. Administrators cannot disable themselves.
func (s *Service) Disable(ctx context.Context, caller domain.Caller, email domain.Email) (*models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if email.EqualFold(caller.Email) {
		return nil, dErrors.New(dErrors.CodeValidation, "Cannot disable your own account")
	}
	user, err := s.setActive(ctx, caller, email, false)
	if err != nil {
		return nil, err
	}
	if err := s.directory.Disable(ctx, email); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "directory disable failed", "error", err, "user", privacy.MaskEmail(email.String()))
	}
	s.recordAdmin(ctx, caller, ActionDisableUser, email, nil)
	return user, nil
}

// Enable reactivates a user and re-enables directory sign-in.
func (s *Service) Enable(ctx context.Context, caller domain.Caller, email domain.Email) (*models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := s.directory.Enable(ctx, email); err != nil && s.logger != nil {
		// The directory may not know users seeded straight into the store.
		s.logger.WarnContext(ctx, "directory enable failed", "error", err, "user", privacy.MaskEmail(email.String()))
	}
	user, err := s.setActive(ctx, caller, email, true)
	if err != nil {
		return nil, err
	}
	s.recordAdmin(ctx, caller, ActionEnableUser, email, nil)
	return user, nil
}

// SetRole changes another user's role.
func (s *Service) SetRole(ctx context.Context, caller domain.Caller, email domain.Email, role domain.Role) (*models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if email.EqualFold(caller.Email) {
		return nil, dErrors.New(dErrors.CodeValidation, "Cannot change your own role")
	}
	if err := s.checkRole(role); err != nil {
		return nil, err
	}
	user, err := s.find(ctx, email)
	if err != nil {
		return nil, err
	}
	oldRole := user.Role
	user.Role = role
	user.Touch(caller.Email, requestcontext.Now(ctx))
	if err := s.users.Update(ctx, user); err != nil {
		return nil, wrapUserErr(err, "failed to update user")
	}
	s.recordAdmin(ctx, caller, ActionSetRole, email, map[string]any{
		"old_role": oldRole.String(),
		"new_role": role.String(),
	})
	return user, nil
}

// Deactivate marks a user inactive on behalf of an operational action. It
// skips the admin checks; the caller has already been authorised for the
// action that invokes it.
func (s *Service) Deactivate(ctx context.Context, by domain.Email, email domain.Email) error {
	user, err := s.find(ctx, email)
	if err != nil {
		return err
	}
	if !user.Active {
		return nil
	}
	user.Active = false
	user.Touch(by, requestcontext.Now(ctx))
	if err := s.users.Update(ctx, user); err != nil {
		return wrapUserErr(err, "failed to update user")
	}
	return nil
}

func (s *Service) setActive(ctx context.Context, caller domain.Caller, email domain.Email, active bool) (*models.User, error) {
	user, err := s.find(ctx, email)
	if err != nil {
		return nil, err
	}
	user.Active = active
	user.Touch(caller.Email, requestcontext.Now(ctx))
	if err := s.users.Update(ctx, user); err != nil {
		return nil, wrapUserErr(err, "failed to update user")
	}
	return user, nil
}

func (s *Service) find(ctx context.Context, email domain.Email) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, wrapUserErr(err, "failed to read user")
	}
	return user, nil
}

func (s *Service) checkRole(role domain.Role) error {
	if s.roles.ValidRole(role) {
		return nil
	}
	names := make([]string, 0, 3)
	for _, r := range s.roles.Roles() {
		names = append(names, r.Name.String())
	}
	return dErrors.New(dErrors.CodeValidation, "Invalid role. Must be one of: "+strings.Join(names, ", "))
}

func (s *Service) recordAdmin(ctx context.Context, caller domain.Caller, action string, target domain.Email, detail map[string]any) {
	s.metrics.IncrementUserAdminOp(action)
	if s.audit != nil {
		s.audit.Record(ctx, &auditmodels.Record{
			UserEmail: caller.Email,
			ActionID:  domain.ActionID(action),
			Target:    target.String(),
			Result:    auditmodels.ResultSuccess,
			Detail:    detail,
		})
	}
	if s.activity != nil {
		s.activity.Enqueue(activitymodels.NewEvent(caller.Email, activitymodels.EventAdminAction,
			map[string]any{"action": action, "target": target.String()}, requestcontext.Now(ctx)))
	}
}

func requireAdmin(caller domain.Caller) error {
	if !rbac.CanAdminister(caller) {
		return dErrors.New(dErrors.CodeForbidden, "L3 admin access required")
	}
	return nil
}

func wrapUserErr(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "User not found")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, action)
}
