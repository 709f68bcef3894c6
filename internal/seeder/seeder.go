package seeder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	identitymodels "commandbridge/internal/identity/models"
	kbmodels "commandbridge/internal/kb/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/sentinel"
	pkgstrings "commandbridge/pkg/platform/strings"
)

// seedActor is recorded as the author of seeded rows.
const seedActor domain.Email = "seed@commandbridge.local"

// UserStore defines methods for seeding users
type UserStore interface {
	Create(ctx context.Context, user *identitymodels.User) error
}

// ArticleStore defines methods for seeding knowledge-base articles
type ArticleStore interface {
	Create(ctx context.Context, a *kbmodels.Article) error
}

// Roles validates seeded role names.
type Roles interface {
	ValidRole(name domain.Role) bool
}

// Fixture is the YAML document the seeder loads.
type Fixture struct {
	Users    []UserFixture    `yaml:"users"`
	Articles []ArticleFixture `yaml:"articles"`
}

type UserFixture struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
	Team  string `yaml:"team"`
}

type ArticleFixture struct {
	Title    string   `yaml:"title"`
	Service  string   `yaml:"service"`
	Owner    string   `yaml:"owner"`
	Category string   `yaml:"category"`
	Tags     []string `yaml:"tags"`
	Content  string   `yaml:"content"`
}

// Result counts what a run created and what already existed.
type Result struct {
	UsersCreated    int
	UsersSkipped    int
	ArticlesCreated int
	ArticlesSkipped int
}

// Seeder populates the user and article stores. Re-running it is safe:
// rows that already exist are left untouched.
type Seeder struct {
	users    UserStore
	articles ArticleStore
	roles    Roles
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new seeder
func New(users UserStore, articles ArticleStore, roles Roles, logger *slog.Logger) *Seeder {
	return &Seeder{
		users:    users,
		articles: articles,
		roles:    roles,
		logger:   logger,
		now:      time.Now,
	}
}

// LoadFile reads a fixture from disk.
func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a fixture, rejecting unknown keys.
func Load(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return &fx, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &fx, nil
}

// Seed validates the whole fixture before writing anything, then creates
// users followed by articles.
func (s *Seeder) Seed(ctx context.Context, fx *Fixture) (Result, error) {
	users, err := s.buildUsers(fx.Users)
	if err != nil {
		return Result{}, err
	}
	articles, err := s.buildArticles(fx.Articles)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, u := range users {
		created, err := s.create(func() error { return s.users.Create(ctx, u) })
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		if created {
			res.UsersCreated++
		} else {
			res.UsersSkipped++
		}
	}
	for _, a := range articles {
		created, err := s.create(func() error { return s.articles.Create(ctx, a) })
		if err != nil {
			return res, fmt.Errorf("seed article %s: %w", a.ID, err)
		}
		if created {
			res.ArticlesCreated++
		} else {
			res.ArticlesSkipped++
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "seed data applied",
			"users_created", res.UsersCreated,
			"users_skipped", res.UsersSkipped,
			"articles_created", res.ArticlesCreated,
			"articles_skipped", res.ArticlesSkipped,
		)
	}
	return res, nil
}

func (s *Seeder) create(write func() error) (bool, error) {
	err := write()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return false, nil
	default:
		return false, err
	}
}

func (s *Seeder) buildUsers(in []UserFixture) ([]*identitymodels.User, error) {
	now := s.now()
	seen := make(map[domain.Email]bool, len(in))
	out := make([]*identitymodels.User, 0, len(in))
	for i, fx := range in {
		email, err := domain.ParseEmail(fx.Email)
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		if seen[email] {
			return nil, fmt.Errorf("users[%d]: duplicate email %s", i, email)
		}
		seen[email] = true
		role := domain.Role(strings.TrimSpace(fx.Role))
		if !s.roles.ValidRole(role) {
			return nil, fmt.Errorf("users[%d]: unknown role %q", i, fx.Role)
		}
		out = append(out, &identitymodels.User{
			Email:     email,
			Name:      strings.TrimSpace(fx.Name),
			Role:      role,
			Team:      strings.TrimSpace(fx.Team),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
			UpdatedBy: seedActor,
		})
	}
	return out, nil
}

func (s *Seeder) buildArticles(in []ArticleFixture) ([]*kbmodels.Article, error) {
	now := s.now()
	seen := make(map[string]bool, len(in))
	out := make([]*kbmodels.Article, 0, len(in))
	for i, fx := range in {
		title := strings.TrimSpace(fx.Title)
		slug := pkgstrings.Slugify(title)
		if slug == "" {
			return nil, fmt.Errorf("articles[%d]: title must contain letters or digits", i)
		}
		if seen[slug] {
			return nil, fmt.Errorf("articles[%d]: duplicate slug %s", i, slug)
		}
		seen[slug] = true
		tags := pkgstrings.DedupeAndTrimLower(fx.Tags)
		if tags == nil {
			tags = []string{}
		}
		out = append(out, &kbmodels.Article{
			ID:           domain.ArticleID(slug),
			Version:      1,
			Title:        title,
			Slug:         slug,
			Service:      strings.TrimSpace(fx.Service),
			Owner:        strings.TrimSpace(fx.Owner),
			Category:     strings.TrimSpace(fx.Category),
			Tags:         tags,
			Content:      fx.Content,
			LastReviewed: kbmodels.ReviewDate(now),
			CreatedAt:    now,
			CreatedBy:    seedActor,
			UpdatedAt:    now,
			UpdatedBy:    seedActor,
			IsLatest:     true,
		})
	}
	return out, nil
}
