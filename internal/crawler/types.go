package crawler

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// CodeResult is one accepted code with its provenance, handed to the
// orchestrator for storage and publishing.
type CodeResult struct {
	Code        string     `json:"code"`
	Game        string     `json:"game"`
	SourceURL   string     `json:"source_url"`
	SourceTitle string     `json:"source_title"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// Crawler crawls one source and returns the codes it found. Crawl is
// sequential per source; it never issues concurrent fetches against the
// same site.
type Crawler interface {
	Crawl(ctx context.Context) ([]CodeResult, error)
	GetName() string
	GetGame() string
}

// Limits bound one crawl invocation.
type Limits struct {
	MaxPages    int
	MaxArticles int
	MaxAgeDays  int
	SkipVisited bool
}

// DocumentFetcher fetches a URL and returns the parsed page.
type DocumentFetcher interface {
	Document(ctx context.Context, sourceKey, url string) (*goquery.Document, error)
}

// FeedRenderer renders a JavaScript feed and returns per-item raw text.
type FeedRenderer interface {
	FeedItems(ctx context.Context, sourceKey, url, itemSelector string) ([]string, error)
}

// VisitLedger is the slice of the dedup ledger the crawlers consume.
type VisitLedger interface {
	IsVisited(ctx context.Context, url string) (bool, error)
	MarkVisited(ctx context.Context, url, game, title string, codesFound int) (bool, error)
}

// Selectors configure how a listing page and its article pages are parsed.
type Selectors struct {
	// Entries matches the anchor elements of the listing, one per article.
	Entries string
	// EntryTitle and EntryTime are found inside an entry element.
	EntryTitle string
	EntryTime  string
	// ArticlePath filters entry hrefs; hrefs not containing it are ignored.
	ArticlePath string
	// Body and Comments select the text regions on the article page.
	Body     string
	Comments string
	// DateHead and DateSpan locate the labeled posted/modified dates.
	DateHead string
	DateSpan string
}

// listingEntry is one parsed row of a listing page.
type listingEntry struct {
	url      string
	title    string
	listedAt *time.Time
}
