package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/josepht96/scoutrun/internal/assertion"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "collection"
	}
	return slug
}

// isUniqueViolation reports whether err is a unique constraint failure in
// either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// CreateCollection inserts a collection, its environment links and any
// inline requests. A missing slug is generated from the name and made unique.
func (s *Storage) CreateCollection(ctx context.Context, c *Collection) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		slug := c.Slug
		if slug == "" {
			var err error
			if slug, err = uniqueSlug(ctx, tx, Slugify(c.Name)); err != nil {
				return err
			}
		}

		now := s.now()
		err := tx.QueryRowContext(ctx, `
			INSERT INTO collections (name, slug, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			c.Name, slug, c.Description, now, now,
		).Scan(&c.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("collection slug %q: %w", slug, ErrConflict)
			}
			return fmt.Errorf("failed to create collection: %w", err)
		}
		c.Slug = slug
		c.CreatedAt, c.UpdatedAt = now, now

		if err := linkEnvironments(ctx, tx, c.ID, c.EnvironmentIDs); err != nil {
			return err
		}
		for i := range c.Requests {
			c.Requests[i].CollectionID = c.ID
			if err := s.insertRequest(ctx, tx, &c.Requests[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// uniqueSlug returns base, or base-N for the smallest free N >= 2.
func uniqueSlug(ctx context.Context, q querier, base string) (string, error) {
	rows, err := q.QueryContext(ctx, `SELECT slug FROM collections WHERE slug = $1 OR slug LIKE $2`, base, base+"-%")
	if err != nil {
		return "", fmt.Errorf("failed to query slugs: %w", err)
	}
	taken := make(map[string]bool)
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			rows.Close()
			return "", fmt.Errorf("failed to scan slug: %w", err)
		}
		taken[slug] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	if !taken[base] {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

func linkEnvironments(ctx context.Context, q querier, collectionID int64, envIDs []int64) error {
	for _, envID := range dedupeIDs(envIDs) {
		_, err := q.ExecContext(ctx,
			`INSERT INTO collection_environments (collection_id, environment_id) VALUES ($1, $2)`,
			collectionID, envID,
		)
		if err != nil {
			return fmt.Errorf("failed to link environment %d: %w", envID, err)
		}
	}
	return nil
}

// UpdateCollection overwrites name and description and, when EnvironmentIDs
// is non-nil, the environment links. The slug is never rewritten.
func (s *Storage) UpdateCollection(ctx context.Context, c *Collection) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE collections SET name = $1, description = $2, updated_at = $3 WHERE id = $4`,
			c.Name, c.Description, now, c.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update collection: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("collection %d: %w", c.ID, ErrNotFound)
		}
		c.UpdatedAt = now

		if c.EnvironmentIDs != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM collection_environments WHERE collection_id = $1`, c.ID); err != nil {
				return fmt.Errorf("failed to unlink environments: %w", err)
			}
			if err := linkEnvironments(ctx, tx, c.ID, c.EnvironmentIDs); err != nil {
				return err
			}
		}

		return tx.QueryRowContext(ctx, `SELECT slug FROM collections WHERE id = $1`, c.ID).Scan(&c.Slug)
	})
}

// DeleteCollection removes a collection and its requests.
func (s *Storage) DeleteCollection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetCollection retrieves a collection with its environment ids and its
// requests ordered by (order, id).
func (s *Storage) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	return s.getCollection(ctx, `WHERE id = $1`, id, fmt.Sprintf("collection %d", id))
}

// GetCollectionBySlug retrieves a collection by slug.
func (s *Storage) GetCollectionBySlug(ctx context.Context, slug string) (*Collection, error) {
	return s.getCollection(ctx, `WHERE slug = $1`, slug, fmt.Sprintf("collection %q", slug))
}

func (s *Storage) getCollection(ctx context.Context, where string, arg any, what string) (*Collection, error) {
	var c Collection
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, description, created_at, updated_at FROM collections `+where, arg,
	).Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, what)
	}

	if c.EnvironmentIDs, err = s.collectionEnvironmentIDs(ctx, c.ID); err != nil {
		return nil, err
	}
	if c.Requests, err = s.ListRequests(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCollections retrieves all collections without their requests.
func (s *Storage) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug, description, created_at, updated_at FROM collections ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}

	var collections []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range collections {
		ids, err := s.collectionEnvironmentIDs(ctx, collections[i].ID)
		if err != nil {
			return nil, err
		}
		collections[i].EnvironmentIDs = ids
	}
	return collections, nil
}

func (s *Storage) collectionEnvironmentIDs(ctx context.Context, collectionID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT environment_id FROM collection_environments WHERE collection_id = $1 ORDER BY environment_id`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection environments: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan environment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const requestColumns = `id, collection_id, name, method, url, sort_order, timeout_ms, headers, query_params,
	body_type, body_json, body_form, body_raw, auth_type, auth_basic, auth_bearer, body_transforms,
	created_at, updated_at`

// CreateRequest inserts a request and its assertions.
func (s *Storage) CreateRequest(ctx context.Context, r *Request) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertRequest(ctx, tx, r)
	})
}

func (s *Storage) insertRequest(ctx context.Context, q querier, r *Request) error {
	applyRequestDefaults(r)
	cols, err := requestValues(r)
	if err != nil {
		return err
	}

	now := s.now()
	args := append([]any{r.CollectionID}, cols...)
	args = append(args, now, now)
	err = q.QueryRowContext(ctx, `
		INSERT INTO requests (collection_id, name, method, url, sort_order, timeout_ms, headers, query_params,
			body_type, body_json, body_form, body_raw, auth_type, auth_basic, auth_bearer, body_transforms,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`, args...,
	).Scan(&r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("request order %d in collection %d: %w", r.Order, r.CollectionID, ErrConflict)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return insertAssertions(ctx, q, r.ID, r.Assertions)
}

// UpdateRequest overwrites a request. Assertions follow the sync rule:
// nil leaves stored assertions unchanged, an empty slice clears them and a
// non-empty slice replaces them.
func (s *Storage) UpdateRequest(ctx context.Context, r *Request) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		applyRequestDefaults(r)
		cols, err := requestValues(r)
		if err != nil {
			return err
		}

		now := s.now()
		args := append(cols, now, r.ID)
		res, err := tx.ExecContext(ctx, `
			UPDATE requests SET name = $1, method = $2, url = $3, sort_order = $4, timeout_ms = $5,
				headers = $6, query_params = $7, body_type = $8, body_json = $9, body_form = $10,
				body_raw = $11, auth_type = $12, auth_basic = $13, auth_bearer = $14, body_transforms = $15,
				updated_at = $16
			WHERE id = $17`, args...,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("request order %d: %w", r.Order, ErrConflict)
			}
			return fmt.Errorf("failed to update request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("request %d: %w", r.ID, ErrNotFound)
		}
		r.UpdatedAt = now

		if r.Assertions == nil {
			r.Assertions, err = listAssertions(ctx, tx, `WHERE request_id = $1`, r.ID)
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assertions WHERE request_id = $1`, r.ID); err != nil {
			return fmt.Errorf("failed to clear assertions: %w", err)
		}
		return insertAssertions(ctx, tx, r.ID, r.Assertions)
	})
}

// DeleteRequest removes a request and its assertions.
func (s *Storage) DeleteRequest(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetRequest retrieves a request with its assertions.
func (s *Storage) GetRequest(ctx context.Context, id int64) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("request %d", id))
	}
	if r.Assertions, err = listAssertions(ctx, s.db, `WHERE request_id = $1`, id); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRequests retrieves the requests of a collection ordered by (order, id).
func (s *Storage) ListRequests(ctx context.Context, collectionID int64) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE collection_id = $1 ORDER BY sort_order, id`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	requests := []Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	all, err := listAssertions(ctx, s.db,
		`WHERE request_id IN (SELECT id FROM requests WHERE collection_id = $1)`, collectionID)
	if err != nil {
		return nil, err
	}
	byRequest := make(map[int64][]assertion.Assertion)
	for _, a := range all {
		byRequest[a.RequestID] = append(byRequest[a.RequestID], a)
	}
	for i := range requests {
		requests[i].Assertions = byRequest[requests[i].ID]
		if requests[i].Assertions == nil {
			requests[i].Assertions = []assertion.Assertion{}
		}
	}
	return requests, nil
}

func applyRequestDefaults(r *Request) {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.BodyType == "" {
		r.BodyType = BodyNone
	}
	if r.AuthType == "" {
		r.AuthType = AuthNone
	}
	if r.TimeoutMS <= 0 {
		r.TimeoutMS = DefaultTimeoutMS
	}
}

// requestValues renders the columns name..body_transforms in schema order.
func requestValues(r *Request) ([]any, error) {
	headers, err := encodeJSON(nonNilStringMap(r.Headers))
	if err != nil {
		return nil, err
	}
	params, err := encodeJSON(nonNilMap(r.QueryParams))
	if err != nil {
		return nil, err
	}
	bodyJSON, err := encodeJSON(r.BodyJSON)
	if err != nil {
		return nil, err
	}
	bodyForm, err := encodeJSON(nonNilStringMap(r.BodyForm))
	if err != nil {
		return nil, err
	}
	basic, err := encodeJSON(r.AuthBasic)
	if err != nil {
		return nil, err
	}
	var transforms *string
	if r.BodyTransforms != nil {
		enc, err := encodeJSON(r.BodyTransforms)
		if err != nil {
			return nil, err
		}
		transforms = &enc
	}
	return []any{
		r.Name, r.Method, r.URL, r.Order, r.TimeoutMS, headers, params,
		r.BodyType, bodyJSON, bodyForm, r.BodyRaw, r.AuthType, basic, r.AuthBearer, transforms,
	}, nil
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		r                                   Request
		headers, params, bodyJSON, bodyForm []byte
		basic, transforms                   []byte
	)
	err := row.Scan(&r.ID, &r.CollectionID, &r.Name, &r.Method, &r.URL, &r.Order, &r.TimeoutMS,
		&headers, &params, &r.BodyType, &bodyJSON, &bodyForm, &r.BodyRaw, &r.AuthType, &basic,
		&r.AuthBearer, &transforms, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{headers, &r.Headers},
		{params, &r.QueryParams},
		{bodyJSON, &r.BodyJSON},
		{bodyForm, &r.BodyForm},
		{basic, &r.AuthBasic},
		{transforms, &r.BodyTransforms},
	} {
		if err := decodeJSON(col.data, col.dst); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func insertAssertions(ctx context.Context, q querier, requestID int64, assertions []assertion.Assertion) error {
	for i := range assertions {
		a := &assertions[i]
		a.RequestID = requestID
		comparator := a.Comparator
		if comparator == "" {
			comparator = assertion.Equals
		}
		err := q.QueryRowContext(ctx, `
			INSERT INTO assertions (request_id, position, type, field, expected_value, comparator, allow_partial)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			requestID, i, a.Type, a.Field, a.ExpectedValue, comparator, a.AllowPartial,
		).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("failed to create assertion: %w", err)
		}
		a.Comparator = comparator
	}
	return nil
}

func listAssertions(ctx context.Context, q querier, where string, args ...any) ([]assertion.Assertion, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, request_id, type, field, expected_value, comparator, allow_partial
		FROM assertions `+where+`
		ORDER BY request_id, position, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assertions: %w", err)
	}
	defer rows.Close()

	list := []assertion.Assertion{}
	for rows.Next() {
		var a assertion.Assertion
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Type, &a.Field, &a.ExpectedValue, &a.Comparator, &a.AllowPartial); err != nil {
			return nil, fmt.Errorf("failed to scan assertion: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
