package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"surveyflow/internal/config"
)

// runGooseMigrations applies, rolls back or reports migrations.
// command is one of up, down or status.
func runGooseMigrations(cfg config.Config, command string) error {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Set goose dialect
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	// Check if directory exists
	if _, err := os.Stat(cfg.MigrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", cfg.MigrationsDir)
	}

	switch command {
	case "", "up":
		err = goose.Up(db, cfg.MigrationsDir)
	case "down":
		err = goose.Down(db, cfg.MigrationsDir)
	case "status":
		err = goose.Status(db, cfg.MigrationsDir)
	default:
		return fmt.Errorf("unknown migration command: %s (use up, down or status)", command)
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
