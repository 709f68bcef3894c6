package handler

import "commandbridge/internal/kb/models"

type ArticleResponse struct {
	Article *models.Article `json:"article"`
	HTML    string          `json:"html,omitempty"`
}

type VersionsResponse struct {
	Versions []*models.Article `json:"versions"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
