// Package main applies a YAML fixture of users and knowledge-base articles to
// the Postgres database named by DATABASE_URL. Existing rows are skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	identitystore "commandbridge/internal/identity/store"
	kbstore "commandbridge/internal/kb/store"
	"commandbridge/internal/platform/config"
	"commandbridge/internal/platform/database"
	"commandbridge/internal/platform/logger"
	"commandbridge/internal/rbac"
	"commandbridge/internal/seeder"
	"commandbridge/migrations"
)

func main() {
	file := flag.String("file", "cmd/seed/demo.yaml", "YAML fixture to apply")
	timeout := flag.Duration("timeout", time.Minute, "Overall deadline")
	flag.Parse()

	if err := run(*file, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(file string, timeout time.Duration) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fx, err := seeder.LoadFile(file)
	if err != nil {
		return err
	}
	catalogue, err := rbac.Default()
	if cfg.CataloguePath != "" {
		catalogue, err = rbac.LoadFile(cfg.CataloguePath)
	}
	if err != nil {
		return err
	}

	pool, err := database.New(ctx, database.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close() //nolint:errcheck // process is exiting

	if _, err := pool.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	s := seeder.New(identitystore.NewPostgres(pool.DB()), kbstore.NewPostgres(pool.DB()), catalogue, log)
	res, err := s.Seed(ctx, fx)
	if err != nil {
		return err
	}
	fmt.Printf("users: %d created, %d skipped\narticles: %d created, %d skipped\n",
		res.UsersCreated, res.UsersSkipped, res.ArticlesCreated, res.ArticlesSkipped)
	return nil
}
