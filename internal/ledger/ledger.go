package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrCodeExists is returned by SaveCode when the code string was stored
// before, by any game. Callers treat it as an expected outcome.
var ErrCodeExists = errors.New("code already exists")

// StoredCode is a persisted redeem code. Code is globally unique: two games
// never mint the same string, so the first writer wins.
type StoredCode struct {
	ID          int64      `db:"id" json:"id"`
	Code        string     `db:"code" json:"code"`
	Game        string     `db:"game" json:"game"`
	SourceURL   string     `db:"source_url" json:"source_url"`
	SourceTitle string     `db:"source_title" json:"source_title"`
	PostedAt    *time.Time `db:"posted_at" json:"posted_at,omitempty"`
	IsValid     bool       `db:"is_valid" json:"is_valid"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Stats is the reporting read path; it never feeds back into crawling.
type Stats struct {
	TotalCodes      int            `json:"total_codes"`
	ValidCodes      int            `json:"valid_codes"`
	VisitedArticles int            `json:"visited_articles"`
	ByGame          map[string]int `json:"by_game"`
}

// Ledger records visited article URLs and accepted codes and answers
// membership queries. Implementations must enforce code uniqueness at the
// storage level so concurrent saves of the same code yield exactly one
// success.
type Ledger interface {
	// IsVisited reports whether url was processed before. The match is
	// relaxed: a stored URL without its query string that is a prefix of
	// the candidate URL without its query string counts as visited.
	IsVisited(ctx context.Context, url string) (bool, error)

	// MarkVisited records url as processed. Idempotent: returns false
	// without error when a marker for the exact URL already exists.
	MarkVisited(ctx context.Context, url, game, title string, codesFound int) (bool, error)

	// CodeExists reports whether code was stored before, by any game.
	CodeExists(ctx context.Context, code string) (bool, error)

	// SaveCode stores a new code; returns ErrCodeExists on a duplicate.
	SaveCode(ctx context.Context, code, game, sourceURL, sourceTitle string, postedAt *time.Time) error

	// MarkInvalid flips the manual validity flag of a stored code.
	MarkInvalid(ctx context.Context, code string) (bool, error)

	// CodesByGame lists stored codes for one game, newest first.
	CodesByGame(ctx context.Context, game string, validOnly bool) ([]StoredCode, error)

	// AllCodes lists every stored code grouped by game, newest first.
	AllCodes(ctx context.Context) ([]StoredCode, error)

	// Stats returns reporting counters.
	Stats(ctx context.Context) (Stats, error)
}
