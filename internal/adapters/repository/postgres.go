package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"

	"github.com/okian/ratingmeter/internal/adapters/repository/migrations"
	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/submission"
)

// PostgresStore is a Store over PostgreSQL using the pgx database/sql driver.
type PostgresStore struct {
	db *sql.DB
	queries
}

// OpenPostgres connects to dsn, applies migrations and returns the store.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	cfg := defaultPostgresConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxLifetime(cfg.connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if cfg.migrate {
		if err := RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration error: %w", err)
		}
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, queries: queries{db: db}}
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// InTx runs fn inside a database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx submission.Tx) error) error {
	defer observeWrite(time.Now())
	return withTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, queries{db: tx})
	})
}

// Dump reads users, samples and ratings from one repeatable-read snapshot.
func (s *PostgresStore) Dump(ctx context.Context) (model.Dump, error) {
	defer observeRead(time.Now())
	var d model.Dump
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := withTx(ctx, s.db, opts, func(ctx context.Context, tx DBTX) error {
		q := queries{db: tx}
		var err error
		if d.Users, err = q.ListUsers(ctx); err != nil {
			return err
		}
		if d.Samples, err = q.ListSamples(ctx); err != nil {
			return err
		}
		d.Ratings, err = q.ListRatings(ctx)
		return err
	})
	if err != nil {
		return model.Dump{}, err
	}
	return d, nil
}

// DeleteSample removes the sample's ratings, withdraws their points and
// removes the sample, all in one transaction.
func (s *PostgresStore) DeleteSample(ctx context.Context, id string) ([]model.Rating, error) {
	defer observeWrite(time.Now())
	var removed []model.Rating
	err := withTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		q := queries{db: tx}
		var err error
		removed, err = q.deleteRatingsBySample(ctx, id)
		if err != nil {
			return err
		}
		withdraw := make(map[string]int)
		for _, r := range removed {
			withdraw[r.UserID] += r.PointsEarned
		}
		for userID, pts := range withdraw {
			if _, err := q.IncrementPoints(ctx, userID, -pts); err != nil {
				return err
			}
		}
		return q.deleteSample(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// queries implements the statements over either the pool or a transaction.
type queries struct {
	db DBTX
}

func (q queries) CreateUser(ctx context.Context, u model.User) error {
	if !u.Role.Valid() {
		return fmt.Errorf("role %q: %w", u.Role, model.ErrInvalidInput)
	}
	query :=
		`INSERT INTO users (id, username, role, points, created_at)
		 VALUES ($1, $2, $3, $4, $5)`

	if _, err := q.db.ExecContext(ctx, query, u.ID, u.Username, string(u.Role), u.Points, u.CreatedAt); err != nil {
		return dbError("create user", err)
	}
	return nil
}

const userColumns = `id, username, role, points, created_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &role, &u.Points, &u.CreatedAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

func (q queries) GetUser(ctx context.Context, id string) (model.User, error) {
	defer observeRead(time.Now())
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.User{}, dbError("get user "+id, err)
	}
	return u, nil
}

func (q queries) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	defer observeRead(time.Now())
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	u, err := scanUser(q.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return model.User{}, dbError("get user "+username, err)
	}
	return u, nil
}

func (q queries) DeleteUser(ctx context.Context, id string) error {
	defer observeWrite(time.Now())
	res, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return dbError("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("delete user", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (q queries) ListUsers(ctx context.Context) ([]model.User, error) {
	defer observeRead(time.Now())
	rows, err := q.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, dbError("list users", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbError("scan user", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list users", err)
	}
	return out, nil
}

// IncrementPoints applies delta in a single statement so concurrent
// increments never lose updates.
func (q queries) IncrementPoints(ctx context.Context, userID string, delta int) (int, error) {
	query :=
		`UPDATE users SET points = GREATEST(points + $2, 0)
		 WHERE id = $1
		 RETURNING points`

	var total int
	if err := q.db.QueryRowContext(ctx, query, userID, delta).Scan(&total); err != nil {
		return 0, dbError("increment points for "+userID, err)
	}
	return total, nil
}

func (q queries) CreateSample(ctx context.Context, s model.Sample) error {
	defer observeWrite(time.Now())
	query :=
		`INSERT INTO samples (id, name, description, canonical_rating, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	createdBy := sql.NullString{String: s.CreatedBy, Valid: s.CreatedBy != ""}
	if _, err := q.db.ExecContext(ctx, query, s.ID, s.Name, s.Description, s.CanonicalRating, createdBy, s.CreatedAt); err != nil {
		return dbError("create sample", err)
	}
	return nil
}

const sampleColumns = `id, name, description, canonical_rating, created_by, created_at`

func scanSample(row interface{ Scan(...any) error }) (model.Sample, error) {
	var s model.Sample
	var createdBy sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.CanonicalRating, &createdBy, &s.CreatedAt); err != nil {
		return model.Sample{}, err
	}
	s.CreatedBy = createdBy.String
	return s, nil
}

func (q queries) GetSample(ctx context.Context, id string) (model.Sample, error) {
	defer observeRead(time.Now())
	query := `SELECT ` + sampleColumns + ` FROM samples WHERE id = $1`

	s, err := scanSample(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.Sample{}, dbError("get sample "+id, err)
	}
	return s, nil
}

func (q queries) ListSamples(ctx context.Context) ([]model.Sample, error) {
	defer observeRead(time.Now())
	return q.listSamples(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY created_at DESC, id DESC`)
}

func (q queries) ListUnratedSamples(ctx context.Context, userID string) ([]model.Sample, error) {
	defer observeRead(time.Now())
	query :=
		`SELECT ` + sampleColumns + ` FROM samples s
		 WHERE NOT EXISTS (SELECT 1 FROM ratings r WHERE r.sample_id = s.id AND r.user_id = $1)
		 ORDER BY created_at DESC, id DESC`
	return q.listSamples(ctx, query, userID)
}

func (q queries) listSamples(ctx context.Context, query string, args ...any) ([]model.Sample, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("list samples", err)
	}
	defer rows.Close()

	var out []model.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, dbError("scan sample", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list samples", err)
	}
	return out, nil
}

func (q queries) deleteSample(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM samples WHERE id = $1`, id)
	if err != nil {
		return dbError("delete sample", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("delete sample", err)
	}
	if n == 0 {
		return fmt.Errorf("sample %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// InsertRating fails with ErrDuplicateRating when (user_id, sample_id) exists.
func (q queries) InsertRating(ctx context.Context, r model.Rating) error {
	query :=
		`INSERT INTO ratings (id, user_id, sample_id, value, points_earned, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, sample_id) DO NOTHING
		 RETURNING id`

	var id string
	err := q.db.QueryRowContext(ctx, query, r.ID, r.UserID, r.SampleID, r.Value, r.PointsEarned, r.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %s, sample %s: %w", r.UserID, r.SampleID, model.ErrDuplicateRating)
	}
	if err != nil {
		return dbError("insert rating", err)
	}
	return nil
}

const ratingColumns = `id, user_id, sample_id, value, points_earned, created_at`

func (q queries) ListRatings(ctx context.Context) ([]model.Rating, error) {
	defer observeRead(time.Now())
	return q.listRatings(ctx, `SELECT `+ratingColumns+` FROM ratings ORDER BY created_at DESC, id DESC`)
}

func (q queries) ListRatingsByUser(ctx context.Context, userID string) ([]model.Rating, error) {
	defer observeRead(time.Now())
	return q.listRatings(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (q queries) ListRatingsBySample(ctx context.Context, sampleID string) ([]model.Rating, error) {
	defer observeRead(time.Now())
	return q.listRatings(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE sample_id = $1 ORDER BY created_at DESC, id DESC`, sampleID)
}

func (q queries) deleteRatingsBySample(ctx context.Context, sampleID string) ([]model.Rating, error) {
	return q.listRatings(ctx, `DELETE FROM ratings WHERE sample_id = $1 RETURNING `+ratingColumns, sampleID)
}

func (q queries) listRatings(ctx context.Context, query string, args ...any) ([]model.Rating, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("list ratings", err)
	}
	defer rows.Close()

	var out []model.Rating
	for rows.Next() {
		var r model.Rating
		if err := rows.Scan(&r.ID, &r.UserID, &r.SampleID, &r.Value, &r.PointsEarned, &r.CreatedAt); err != nil {
			return nil, dbError("scan rating", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list ratings", err)
	}
	return out, nil
}

func (q queries) ListStandings(ctx context.Context) ([]model.Standing, error) {
	defer observeRead(time.Now())
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, username, role, points FROM users ORDER BY points DESC, username ASC`)
	if err != nil {
		return nil, dbError("list standings", err)
	}
	defer rows.Close()

	var out []model.Standing
	for rows.Next() {
		var st model.Standing
		var role string
		if err := rows.Scan(&st.UserID, &st.Username, &role, &st.Points); err != nil {
			return nil, dbError("scan standing", err)
		}
		st.Role = model.Role(role)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list standings", err)
	}
	return out, nil
}

func (q queries) Counts(ctx context.Context) (Counts, error) {
	query :=
		`SELECT
		   (SELECT count(*) FROM users WHERE role = 'player'),
		   (SELECT count(*) FROM users WHERE role = 'playmaker'),
		   (SELECT count(*) FROM samples),
		   (SELECT count(*) FROM ratings)`

	var c Counts
	if err := q.db.QueryRowContext(ctx, query).Scan(&c.Players, &c.Playmakers, &c.Samples, &c.Ratings); err != nil {
		return Counts{}, dbError("counts", err)
	}
	return c, nil
}
