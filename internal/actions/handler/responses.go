package handler

import (
	"commandbridge/internal/actions/models"
	"commandbridge/internal/rbac"
)

type PermissionsResponse struct {
	Actions []rbac.ActionView `json:"actions"`
}

type PendingResponse struct {
	Requests []models.PendingRequest `json:"requests"`
	Count    int                     `json:"count"`
}
