package service

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"commandbridge/internal/kb/models"
	dErrors "commandbridge/pkg/domain-errors"
)

// newMarkdown builds the GFM renderer. Raw HTML in article bodies is omitted
// and dangerous link schemes are dropped because WithUnsafe is never set.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
}

// Render converts an article's markdown content to HTML.
func (s *Service) Render(a *models.Article) (string, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(a.Content), &buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to render article")
	}
	return buf.String(), nil
}
