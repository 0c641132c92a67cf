package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/dukerupert/plansync/internal"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Usage: migrate [up|status]
func run(args []string) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "dev"
	}
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := internal.NewLogger(os.Stdout, env, logLevel)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	switch command {
	case "up":
		logger.Info("Running database migrations...")
		if err := internal.RunMigrations(db); err != nil {
			return err
		}
		logger.Info("Database migrations completed successfully")
	case "status":
		if err := internal.MigrationStatus(db); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q (want up or status)", command)
	}

	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
