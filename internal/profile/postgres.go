package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists matchmaking profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS matchmaking_profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		college TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		interests TEXT[] NOT NULL DEFAULT '{}',
		preferences TEXT[] NOT NULL DEFAULT '{}',
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO matchmaking_profiles (user_id, name, college, gender, interests, preferences, completed, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			college = EXCLUDED.college,
			gender = EXCLUDED.gender,
			interests = EXCLUDED.interests,
			preferences = EXCLUDED.preferences,
			completed = EXCLUDED.completed,
			updated_at = now()`,
		p.UserID, p.Name, p.College, p.Gender, p.Interests, p.Preferences, p.Completed,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, name, college, gender, interests, preferences, completed
		 FROM matchmaking_profiles WHERE user_id = $1`,
		userID,
	)

	var p Profile
	err := row.Scan(&p.UserID, &p.Name, &p.College, &p.Gender, &p.Interests, &p.Preferences, &p.Completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListCompleted(ctx context.Context, excludeUserID string) ([]Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, name, college, gender, interests, preferences, completed
		 FROM matchmaking_profiles
		 WHERE completed AND user_id <> $1
		 ORDER BY user_id`,
		excludeUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.UserID, &p.Name, &p.College, &p.Gender, &p.Interests, &p.Preferences, &p.Completed); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
