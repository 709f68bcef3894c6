package handler

import (
	"strings"

	"commandbridge/internal/kb/models"
	dErrors "commandbridge/pkg/domain-errors"
	pkgstrings "commandbridge/pkg/platform/strings"
	"commandbridge/pkg/platform/validation"
	pkgvalidation "commandbridge/pkg/validation"
)

type CreateArticleRequest struct {
	Title    string   `json:"title" validate:"notblank,max=200"`
	Service  string   `json:"service" validate:"max=100"`
	Owner    string   `json:"owner" validate:"max=200"`
	Category string   `json:"category" validate:"max=100"`
	Tags     []string `json:"tags"`
	Content  string   `json:"content"`
}

func (r *CreateArticleRequest) Normalize() {
	if r == nil {
		return
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Service = strings.TrimSpace(r.Service)
	r.Owner = strings.TrimSpace(r.Owner)
	r.Category = strings.TrimSpace(r.Category)
	r.Tags = pkgstrings.DedupeAndTrimLower(r.Tags)
}

func (r *CreateArticleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if err := pkgvalidation.Validate(r); err != nil {
		return err
	}
	return validateBody(r.Tags, r.Content)
}

func (r *CreateArticleRequest) toDraft() models.Draft {
	return models.Draft{
		Title:    r.Title,
		Service:  r.Service,
		Owner:    r.Owner,
		Category: r.Category,
		Tags:     r.Tags,
		Content:  r.Content,
	}
}

// UpdateArticleRequest patches an article; omitted fields keep their value.
type UpdateArticleRequest struct {
	Title    *string  `json:"title" validate:"omitempty,max=200"`
	Service  *string  `json:"service" validate:"omitempty,max=100"`
	Owner    *string  `json:"owner" validate:"omitempty,max=200"`
	Category *string  `json:"category" validate:"omitempty,max=100"`
	Tags     []string `json:"tags"`
	Content  *string  `json:"content"`
}

func (r *UpdateArticleRequest) Normalize() {
	if r == nil {
		return
	}
	r.Title = pkgstrings.TrimSpacePtr(r.Title)
	r.Service = pkgstrings.TrimSpacePtr(r.Service)
	r.Owner = pkgstrings.TrimSpacePtr(r.Owner)
	r.Category = pkgstrings.TrimSpacePtr(r.Category)
	if r.Tags != nil {
		r.Tags = pkgstrings.DedupeAndTrimLower(r.Tags)
	}
}

func (r *UpdateArticleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Title == nil && r.Service == nil && r.Owner == nil && r.Category == nil && r.Tags == nil && r.Content == nil {
		return dErrors.New(dErrors.CodeValidation, "at least one field is required")
	}
	if err := pkgvalidation.Validate(r); err != nil {
		return err
	}
	content := ""
	if r.Content != nil {
		content = *r.Content
	}
	return validateBody(r.Tags, content)
}

func (r *UpdateArticleRequest) toPatch() models.Patch {
	return models.Patch{
		Title:    r.Title,
		Service:  r.Service,
		Owner:    r.Owner,
		Category: r.Category,
		Tags:     r.Tags,
		Content:  r.Content,
	}
}

func validateBody(tags []string, content string) error {
	if err := validation.CheckSliceCount("tags", len(tags), validation.MaxTags); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := validation.CheckStringLength("tag", tag, validation.MaxTagLength); err != nil {
			return err
		}
	}
	return validation.CheckStringLength("content", content, validation.MaxContentLength)
}
