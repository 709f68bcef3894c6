package handler

import "commandbridge/internal/identity/models"

type ProfileResponse struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Team   string `json:"team"`
	Active bool   `json:"active"`
}

type UserListResponse struct {
	Users []*models.User `json:"users"`
}

type UserMutationResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
}

func toProfileResponse(u *models.User) *ProfileResponse {
	return &ProfileResponse{
		Email:  u.Email.String(),
		Name:   u.Name,
		Role:   u.Role.String(),
		Team:   u.Team,
		Active: u.Active,
	}
}
