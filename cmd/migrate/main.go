// Command migrate applies the verdict schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		databaseURL    string
		migrationsPath string
		command        string
	)

	flag.StringVar(&databaseURL, "database", "", "Database URL (or DATABASE_URL env)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal("Database URL is required. Use -database flag or DATABASE_URL environment variable")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		log.Fatalf("Failed to create migration instance: %v", err)
	}
	defer m.Close()

	if err := run(m, command, flag.Args()); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No migrations to run (database is up to date)")
			return nil
		}
		if err != nil {
			return err
		}
		log.Println("Migrations completed")
		return nil

	case "down":
		err := m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		log.Println("Rollback completed")
		return nil

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Printf("Current version: %d (dirty: %v)", version, dirty)
		return nil

	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force command requires a version number")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		log.Printf("Forced version to: %d", version)
		return nil

	default:
		return fmt.Errorf("unknown command: %s (use: up, down, version, force)", command)
	}
}
