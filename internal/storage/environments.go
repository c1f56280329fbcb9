package storage

import (
	"context"
	"fmt"
)

const environmentColumns = `id, name, description, variables, default_headers, created_at, updated_at`

// CreateEnvironment inserts a new environment.
func (s *Storage) CreateEnvironment(ctx context.Context, env *Environment) error {
	vars, err := encodeJSON(nonNilMap(env.Variables))
	if err != nil {
		return err
	}
	headers, err := encodeJSON(nonNilStringMap(env.DefaultHeaders))
	if err != nil {
		return err
	}

	now := s.now()
	query := `
		INSERT INTO environments (name, description, variables, default_headers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, env.Name, env.Description, vars, headers, now, now).Scan(&env.ID); err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	env.CreatedAt, env.UpdatedAt = now, now
	return nil
}

// GetEnvironment retrieves an environment by id.
func (s *Storage) GetEnvironment(ctx context.Context, id int64) (*Environment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+environmentColumns+` FROM environments WHERE id = $1`, id)
	env, err := scanEnvironment(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("environment %d", id))
	}
	return env, nil
}

// GetEnvironmentByName retrieves an environment by its unique name.
func (s *Storage) GetEnvironmentByName(ctx context.Context, name string) (*Environment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+environmentColumns+` FROM environments WHERE name = $1`, name)
	env, err := scanEnvironment(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("environment %q", name))
	}
	return env, nil
}

// ListEnvironments retrieves all environments ordered by name.
func (s *Storage) ListEnvironments(ctx context.Context) ([]Environment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+environmentColumns+` FROM environments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query environments: %w", err)
	}
	defer rows.Close()

	var envs []Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, *env)
	}
	return envs, rows.Err()
}

// UpdateEnvironment overwrites the mutable fields of an environment.
func (s *Storage) UpdateEnvironment(ctx context.Context, env *Environment) error {
	vars, err := encodeJSON(nonNilMap(env.Variables))
	if err != nil {
		return err
	}
	headers, err := encodeJSON(nonNilStringMap(env.DefaultHeaders))
	if err != nil {
		return err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE environments
		SET name = $1, description = $2, variables = $3, default_headers = $4, updated_at = $5
		WHERE id = $6`,
		env.Name, env.Description, vars, headers, now, env.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update environment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %d: %w", env.ID, ErrNotFound)
	}
	env.UpdatedAt = now
	return nil
}

// DeleteEnvironment removes an environment.
func (s *Storage) DeleteEnvironment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM environments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %d: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*Environment, error) {
	var (
		env           Environment
		vars, headers []byte
	)
	if err := row.Scan(&env.ID, &env.Name, &env.Description, &vars, &headers, &env.CreatedAt, &env.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(vars, &env.Variables); err != nil {
		return nil, err
	}
	if err := decodeJSON(headers, &env.DefaultHeaders); err != nil {
		return nil, err
	}
	return &env, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
