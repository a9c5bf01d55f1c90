// Package sqlstore implements store.Store on a SQL row store. Production
// deployments run it on Postgres through the pgx stdlib driver; tests run the
// same code on SQLite. Per-token serialization comes from transactional
// UPDATE ... WHERE revoked = FALSE guards: the losing side of a concurrent
// rotate/revoke pair observes zero affected rows.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mwhern/tokenward/store"
	"github.com/mwhern/tokenward/store/sqlstore/migrations"
)

const tokenColumns = `token, jwt_id, user_id, expires_at, created_at, created_by_ip,
	device_info, revoked, revoked_at, revoked_by_ip, revocation_reason, replaced_by_token`

// Store is the SQL-backed refresh-token store.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle. The schema must already be in place;
// see [RunMigrations].
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres via the pgx stdlib driver and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := RunMigrations(ctx, db, "postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// RunMigrations applies the embedded goose migrations. dialect is a goose
// dialect name ("postgres", "sqlite3").
func RunMigrations(ctx context.Context, db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Create persists the token as Active.
func (s *Store) Create(ctx context.Context, token *store.RefreshToken) error {
	err := withTx(ctx, s.db, func(ctx context.Context, tx dbtx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM refresh_tokens WHERE token = $1`, token.Token).Scan(&one)
		if err == nil {
			return store.ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return insertToken(ctx, tx, token)
	})
	return wrapStoreErr(err)
}

// Get fetches a single row by token value.
func (s *Store) Get(ctx context.Context, token string) (*store.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1`, token)

	rt, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return rt, nil
}

// ActiveByUser returns the user's Active tokens ordered oldest first.
func (s *Store) ActiveByUser(ctx context.Context, userID string) ([]*store.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens
		 WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		 ORDER BY created_at ASC`,
		userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var active []*store.RefreshToken
	for rows.Next() {
		rt, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		active = append(active, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return active, nil
}

// CountActiveByUser returns the user's Active token count.
func (s *Store) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_tokens
		 WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2`,
		userID, time.Now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return count, nil
}

// Revoke transitions the token out of Active. The revoked = FALSE guard makes
// the update a compare-and-swap; the loser of a concurrent transition sees
// zero affected rows and re-reads the terminal state.
func (s *Store) Revoke(ctx context.Context, token string, rev store.Revocation) (bool, error) {
	already := false
	err := withTx(ctx, s.db, func(ctx context.Context, tx dbtx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens
			 SET revoked = TRUE, revoked_at = $1, revoked_by_ip = $2, revocation_reason = $3,
			     replaced_by_token = $4
			 WHERE token = $5 AND revoked = FALSE`,
			rev.At.UTC(), rev.IP, rev.Reason, nullString(rev.ReplacedByToken), token)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}

		var revoked bool
		err = tx.QueryRowContext(ctx,
			`SELECT revoked FROM refresh_tokens WHERE token = $1`, token).Scan(&revoked)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !revoked {
			return store.ErrConflict
		}
		already = true
		return nil
	})
	if err != nil {
		return false, wrapStoreErr(err)
	}
	return already, nil
}

// Rotate marks oldToken rotated and inserts next inside one transaction, so
// either both rows change or neither does. A concurrent rotate or revoke of
// oldToken wins the row and this call returns ErrConflict.
func (s *Store) Rotate(ctx context.Context, oldToken string, rev store.Revocation, next *store.RefreshToken) error {
	err := withTx(ctx, s.db, func(ctx context.Context, tx dbtx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens
			 SET revoked = TRUE, revoked_at = $1, revoked_by_ip = $2, revocation_reason = $3,
			     replaced_by_token = $4
			 WHERE token = $5 AND revoked = FALSE AND expires_at > $6`,
			rev.At.UTC(), rev.IP, rev.Reason, nullString(next.Token), oldToken, time.Now().UTC())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM refresh_tokens WHERE token = $1`, oldToken).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			if err != nil {
				return err
			}
			return store.ErrConflict
		}

		var one int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM refresh_tokens WHERE token = $1`, next.Token).Scan(&one)
		if err == nil {
			return store.ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return insertToken(ctx, tx, next)
	})
	return wrapStoreErr(err)
}

// RevokeAllForUser revokes every Active token of the user with a single
// statement, which is atomic with respect to concurrent Create calls.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, rev store.Revocation) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_at = $1, revoked_by_ip = $2, revocation_reason = $3
		 WHERE user_id = $4 AND revoked = FALSE AND expires_at > $5`,
		rev.At.UTC(), rev.IP, rev.Reason, userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return int(affected), nil
}

// DeleteExpiredBefore removes rows expired at or before cutoff.
func (s *Store) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return int(affected), nil
}

// Ping checks database availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func insertToken(ctx context.Context, tx dbtx, token *store.RefreshToken) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens
		 (token, jwt_id, user_id, expires_at, created_at, created_by_ip, device_info, revoked)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		token.Token, token.JWTID, token.UserID,
		token.ExpiresAt.UTC(), token.CreatedAt.UTC(),
		token.CreatedByIP, token.DeviceInfo)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*store.RefreshToken, error) {
	var (
		rt         store.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(
		&rt.Token, &rt.JWTID, &rt.UserID, &rt.ExpiresAt, &rt.CreatedAt, &rt.CreatedByIP,
		&rt.DeviceInfo, &rt.Revoked, &revokedAt, &rt.RevokedByIP, &rt.RevocationReason, &replacedBy,
	)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		rt.RevokedAt = revokedAt.Time
	}
	if replacedBy.Valid {
		rt.ReplacedByToken = replacedBy.String
	}
	return &rt, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func wrapStoreErr(err error) error {
	if err == nil ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
