package crawler

import (
	"redeemworker/internal/extractor"
	"redeemworker/internal/sites"
	crawlerrors "redeemworker/pkg/errors"
)

// DefaultListingSelectors matches the board layout the listing sources
// share: entry anchors with a title and a time column, labeled posted and
// modified dates on the article page, text in article and comment blocks.
var DefaultListingSelectors = Selectors{
	Entries:     "a.vrow.column",
	EntryTitle:  ".col-title",
	EntryTime:   ".col-time time",
	ArticlePath: "/b/",
	Body:        ".article-content",
	Comments:    ".comment-content",
	DateHead:    "span.head",
	DateSpan:    "span.date",
}

// DefaultFeedItemSelector matches one community post's text in the
// rendered feed.
const DefaultFeedItemSelector = "ytd-backstage-post-thread-renderer #content-text"

// Deps bundles everything a crawler needs besides its source.
type Deps struct {
	Fetcher   DocumentFetcher
	Renderer  FeedRenderer
	Ledger    VisitLedger
	Extractor *extractor.Extractor
	Snapshot  sites.Snapshot
	Limits    Limits
}

// New builds the crawler variant matching the source type.
func New(source sites.Source, deps Deps) (Crawler, error) {
	switch source.Type {
	case sites.TypeListing:
		if deps.Fetcher == nil {
			return nil, crawlerrors.NewConfiguration("listing source "+source.Name+" needs a fetcher", nil)
		}
		return NewListingCrawler(source, deps.Snapshot, DefaultListingSelectors,
			deps.Limits, deps.Fetcher, deps.Ledger, deps.Extractor), nil
	case sites.TypeFeed:
		if deps.Renderer == nil {
			return nil, crawlerrors.NewConfiguration("feed source "+source.Name+" needs a renderer", nil)
		}
		return NewFeedCrawler(source, DefaultFeedItemSelector,
			deps.Limits, deps.Renderer, deps.Ledger, deps.Extractor), nil
	default:
		return nil, crawlerrors.NewConfiguration("unknown source type "+string(source.Type)+" for "+source.Name, nil)
	}
}
