package handler

import (
	"strings"

	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/validation"
)

type CreateUserRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Name  string `json:"name" validate:"notblank,max=200"`
	Role  string `json:"role" validate:"required"`
	Team  string `json:"team" validate:"notblank,max=100"`
}

func (r *CreateUserRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
	r.Role = strings.TrimSpace(r.Role)
	r.Team = strings.TrimSpace(r.Team)
}

func (r *CreateUserRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Email == "" || r.Name == "" || r.Role == "" || r.Team == "" {
		return dErrors.New(dErrors.CodeValidation, "email, name, role, and team are required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if _, err := domain.ParseEmail(r.Email); err != nil {
		return err
	}
	return nil
}

type SetRoleRequest struct {
	Role string `json:"role"`
}

func (r *SetRoleRequest) Normalize() {
	if r == nil {
		return
	}
	r.Role = strings.TrimSpace(r.Role)
}

func (r *SetRoleRequest) Validate() error {
	if r == nil || r.Role == "" {
		return dErrors.New(dErrors.CodeValidation, "role is required in request body")
	}
	return nil
}
