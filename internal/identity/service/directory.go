package service

import (
	"context"

	"commandbridge/pkg/domain"
)

// Directory is the external identity pool that owns sign-in. The portal
// only mirrors account lifecycle into it.
type Directory interface {
	Create(ctx context.Context, email domain.Email, name string) error
	Delete(ctx context.Context, email domain.Email) error
	Enable(ctx context.Context, email domain.Email) error
	Disable(ctx context.Context, email domain.Email) error
}

// NoopDirectory is used when no identity pool is configured.
type NoopDirectory struct{}

func (NoopDirectory) Create(context.Context, domain.Email, string) error { return nil }
func (NoopDirectory) Delete(context.Context, domain.Email) error         { return nil }
func (NoopDirectory) Enable(context.Context, domain.Email) error         { return nil }
func (NoopDirectory) Disable(context.Context, domain.Email) error        { return nil }
