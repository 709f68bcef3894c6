package handler

import "commandbridge/internal/activity/models"

type ActiveUsersResponse struct {
	ActiveUsers []models.ActiveUser `json:"active_users"`
}
