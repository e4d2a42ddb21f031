package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"redeemworker/logger"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresLedger implements Ledger on Postgres. Uniqueness of codes and
// visited URLs is enforced by unique indexes, not application checks.
type PostgresLedger struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresLedger connects to databaseURL and runs the migrations.
func NewPostgresLedger(databaseURL string) (*PostgresLedger, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	l := &PostgresLedger{db: db, log: logger.ForStore()}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewPostgresLedgerFromDB wraps an existing connection (used by tests).
func NewPostgresLedgerFromDB(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db, log: logger.ForStore()}
}

func (l *PostgresLedger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS redeem_codes (
			id BIGSERIAL PRIMARY KEY,
			code VARCHAR(50) NOT NULL UNIQUE,
			game VARCHAR(20) NOT NULL,
			source_url VARCHAR(500),
			source_title VARCHAR(300),
			posted_at TIMESTAMP WITH TIME ZONE,
			is_valid BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS ix_redeem_codes_game ON redeem_codes (game)`,
		`CREATE TABLE IF NOT EXISTS scraped_articles (
			id BIGSERIAL PRIMARY KEY,
			url VARCHAR(500) NOT NULL UNIQUE,
			game VARCHAR(20) NOT NULL,
			title VARCHAR(300),
			codes_found INTEGER NOT NULL DEFAULT 0,
			scraped_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS ix_scraped_articles_game ON scraped_articles (game)`,
	}

	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

// Ping verifies the connection.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// baseURL strips the query string so differing parameters on the same
// article compare equal.
func baseURL(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

// IsVisited implements the relaxed prefix match: any stored marker whose
// URL-sans-query is a prefix of the candidate URL-sans-query counts.
// TODO: /b/100 also covers /b/1000; the match should require a separator
// or end-of-string after the stored prefix.
func (l *PostgresLedger) IsVisited(ctx context.Context, url string) (bool, error) {
	var visited bool
	err := l.db.GetContext(ctx, &visited,
		`SELECT EXISTS (
			SELECT 1 FROM scraped_articles
			WHERE $1 LIKE split_part(url, '?', 1) || '%'
		)`, baseURL(url))
	if err != nil {
		return false, fmt.Errorf("query visited: %w", err)
	}
	return visited, nil
}

// MarkVisited records the URL; a second call with the same URL is a no-op.
func (l *PostgresLedger) MarkVisited(ctx context.Context, url, game, title string, codesFound int) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO scraped_articles (url, game, title, codes_found)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (url) DO NOTHING`,
		url, game, title, codesFound)
	if err != nil {
		return false, fmt.Errorf("mark visited: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CodeExists reports whether the code was stored before.
func (l *PostgresLedger) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := l.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM redeem_codes WHERE code = $1)`, code)
	if err != nil {
		return false, fmt.Errorf("query code: %w", err)
	}
	return exists, nil
}

// SaveCode inserts the code; the unique index decides races, so two
// simultaneous saves of one code produce exactly one success.
func (l *PostgresLedger) SaveCode(ctx context.Context, code, game, sourceURL, sourceTitle string, postedAt *time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO redeem_codes (code, game, source_url, source_title, posted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		code, game, sourceURL, sourceTitle, postedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrCodeExists
		}
		return fmt.Errorf("save code: %w", err)
	}
	return nil
}

// MarkInvalid flips the validity flag; returns false for unknown codes.
func (l *PostgresLedger) MarkInvalid(ctx context.Context, code string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE redeem_codes SET is_valid = false WHERE code = $1`, code)
	if err != nil {
		return false, fmt.Errorf("mark invalid: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CodesByGame lists stored codes for one game, newest first.
func (l *PostgresLedger) CodesByGame(ctx context.Context, game string, validOnly bool) ([]StoredCode, error) {
	query := `SELECT id, code, game, COALESCE(source_url, '') AS source_url,
			COALESCE(source_title, '') AS source_title, posted_at, is_valid, created_at
		FROM redeem_codes WHERE game = $1`
	if validOnly {
		query += ` AND is_valid`
	}
	query += ` ORDER BY created_at DESC`

	var codes []StoredCode
	if err := l.db.SelectContext(ctx, &codes, query, game); err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	return codes, nil
}

// AllCodes lists every stored code grouped by game, newest first.
func (l *PostgresLedger) AllCodes(ctx context.Context) ([]StoredCode, error) {
	var codes []StoredCode
	err := l.db.SelectContext(ctx, &codes,
		`SELECT id, code, game, COALESCE(source_url, '') AS source_url,
			COALESCE(source_title, '') AS source_title, posted_at, is_valid, created_at
		 FROM redeem_codes ORDER BY game, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	return codes, nil
}

// Stats returns reporting counters.
func (l *PostgresLedger) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByGame: make(map[string]int)}

	err := l.db.GetContext(ctx, &stats.TotalCodes, `SELECT COUNT(*) FROM redeem_codes`)
	if err != nil {
		return stats, fmt.Errorf("count codes: %w", err)
	}
	err = l.db.GetContext(ctx, &stats.ValidCodes, `SELECT COUNT(*) FROM redeem_codes WHERE is_valid`)
	if err != nil {
		return stats, fmt.Errorf("count valid codes: %w", err)
	}
	err = l.db.GetContext(ctx, &stats.VisitedArticles, `SELECT COUNT(*) FROM scraped_articles`)
	if err != nil {
		return stats, fmt.Errorf("count visited: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `SELECT game, COUNT(*) FROM redeem_codes GROUP BY game`)
	if err != nil {
		return stats, fmt.Errorf("count by game: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var game string
		var count int
		if err := rows.Scan(&game, &count); err != nil {
			return stats, err
		}
		stats.ByGame[game] = count
	}
	return stats, rows.Err()
}

var _ Ledger = (*PostgresLedger)(nil)
