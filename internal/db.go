package internal

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const defaultMigrationsPath = "file://files/migrations"

// NewDB opens the Postgres pointer database and applies pending migrations.
func NewDB(dsn, migrationsPath string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is not configured")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach db: %w", err)
	}
	if err := Migrate(db, migrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB, migrationsPath string) error {
	if migrationsPath == "" {
		migrationsPath = defaultMigrationsPath
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate: %w", err)
	}
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Debug().Msg("Database schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	log.Info().Msg("Database migrations applied")
	return nil
}
