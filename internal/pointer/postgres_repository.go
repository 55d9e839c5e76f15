package pointer

import (
	"context"
	"database/sql"
	"time"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT pointer FROM avatar_pointers WHERE owner_id = $1`,
		ownerID,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *PostgresRepository) Set(ctx context.Context, ownerID, value string) error {
	if value == "" {
		_, err := r.db.ExecContext(ctx, `DELETE FROM avatar_pointers WHERE owner_id = $1`, ownerID)
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO avatar_pointers (owner_id, pointer, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id) DO UPDATE SET pointer = EXCLUDED.pointer, updated_at = EXCLUDED.updated_at`,
		ownerID, value, time.Now().Unix(),
	)
	return err
}

func (r *PostgresRepository) DisplayName(ctx context.Context, ownerID string) (string, error) {
	var name sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT display_name FROM profiles WHERE owner_id = $1`,
		ownerID,
	).Scan(&name)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return name.String, nil
}
