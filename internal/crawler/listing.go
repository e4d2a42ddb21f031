package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"redeemworker/internal/extractor"
	"redeemworker/internal/sites"
	"redeemworker/logger"

	"github.com/PuerkitoBio/goquery"
)

var (
	postedLabels   = []string{"작성일", "등록일", "Uploaded", "Posted"}
	modifiedLabels = []string{"수정일", "Modified"}
)

// ListingCrawler walks a paginated, date-stamped article index. Per page it
// filters entries by age and dedup ledger, fetches each remaining article,
// gates on keywords and runs the extractor over title and body.
type ListingCrawler struct {
	source    sites.Source
	snapshot  sites.Snapshot
	selectors Selectors
	limits    Limits

	fetcher DocumentFetcher
	ledger  VisitLedger
	ext     *extractor.Extractor
	log     *logger.Logger
}

// NewListingCrawler builds the listing variant for one source.
func NewListingCrawler(source sites.Source, snap sites.Snapshot, sel Selectors, limits Limits,
	fetcher DocumentFetcher, ledger VisitLedger, ext *extractor.Extractor) *ListingCrawler {
	return &ListingCrawler{
		source:    source,
		snapshot:  snap,
		selectors: sel,
		limits:    limits,
		fetcher:   fetcher,
		ledger:    ledger,
		ext:       ext,
		log:       logger.ForCrawler(source.Name),
	}
}

func (c *ListingCrawler) GetName() string { return c.source.Name }
func (c *ListingCrawler) GetGame() string { return c.source.Game }

// Crawl processes listing pages until an old entry appears, the article
// budget runs out or MaxPages is reached. A page that contains any old
// entry is the last page: older pages only get older.
func (c *ListingCrawler) Crawl(ctx context.Context) ([]CodeResult, error) {
	if c.source.URL == "" {
		return nil, fmt.Errorf("source %s has no search URL", c.source.Name)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -c.limits.MaxAgeDays)
	var results []CodeResult
	processed := 0

	for page := 1; page <= c.limits.MaxPages; page++ {
		if processed >= c.limits.MaxArticles {
			break
		}

		entries, foundOld, err := c.listPage(ctx, page, cutoff)
		if err != nil {
			// A failed listing fetch loses this page only.
			logger.LogError("crawler", err, "Listing page %d failed", page)
			continue
		}

		if len(entries) == 0 {
			if foundOld {
				break
			}
			// Sparse page, not expired content. Keep going.
			continue
		}

		for _, entry := range entries {
			if processed >= c.limits.MaxArticles {
				break
			}
			found, err := c.processArticle(ctx, entry, cutoff)
			if err != nil {
				logger.LogError("crawler", err, "Article %s failed", entry.url)
				continue
			}
			if found != nil {
				results = append(results, found...)
			}
			processed++
		}

		if foundOld {
			c.log.Info().Int("page", page).Msg("Old entry on page, stopping pagination")
			break
		}
	}

	c.log.Info().
		Int("articles", processed).
		Int("codes", len(results)).
		Msg("Listing crawl finished")
	return results, nil
}

// listPage fetches listing page n and returns the entries still worth
// visiting, plus whether the page contained any entry older than the
// cutoff. Old entries are excluded, already-visited entries are skipped
// silently.
func (c *ListingCrawler) listPage(ctx context.Context, page int, cutoff time.Time) ([]listingEntry, bool, error) {
	doc, err := c.fetcher.Document(ctx, c.source.Name, pageURL(c.source.URL, page))
	if err != nil {
		return nil, false, err
	}

	var entries []listingEntry
	foundOld := false

	doc.Find(c.selectors.Entries).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}

		title := strings.TrimSpace(sel.Find(c.selectors.EntryTitle).Text())
		listedAt := parseTimeElement(sel.Find(c.selectors.EntryTime).First())
		if listedAt == nil {
			listedAt = parseTimeElement(sel.Find("time").First())
		}

		// Missing date means unknown, and unknown is not old.
		if listedAt != nil && listedAt.Before(cutoff) {
			foundOld = true
			return
		}

		if c.selectors.ArticlePath != "" && !strings.Contains(href, c.selectors.ArticlePath) {
			return
		}

		entries = append(entries, listingEntry{
			url:      resolveURL(c.source.URL, href),
			title:    title,
			listedAt: listedAt,
		})
	})

	if c.limits.SkipVisited {
		fresh := entries[:0]
		for _, e := range entries {
			visited, err := c.ledger.IsVisited(ctx, e.url)
			if err != nil {
				logger.LogError("crawler", err, "Visited check failed for %s", e.url)
			}
			if !visited {
				fresh = append(fresh, e)
			}
		}
		entries = fresh
	}

	return entries, foundOld, nil
}

// processArticle fetches one article and extracts codes from it. Articles
// that turn out old or keyword-free are recorded as visited with zero
// codes so the next run skips them, and still consume the article budget.
func (c *ListingCrawler) processArticle(ctx context.Context, entry listingEntry, cutoff time.Time) ([]CodeResult, error) {
	doc, err := c.fetcher.Document(ctx, c.source.Name, entry.url)
	if err != nil {
		return nil, err
	}

	postedAt := findLabeledDate(doc, c.selectors, postedLabels)
	modifiedAt := findLabeledDate(doc, c.selectors, modifiedLabels)
	if postedAt == nil && modifiedAt == nil {
		// Any time element on the page beats no date at all.
		doc.Find("time").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			postedAt = parseTimeElement(sel)
			return postedAt == nil
		})
	}

	// Edits move content forward in time, so the freshest date decides.
	checkDate := modifiedAt
	if checkDate == nil {
		checkDate = postedAt
	}
	if checkDate != nil && checkDate.Before(cutoff) {
		c.markVisited(ctx, entry.url, entry.title, 0)
		return nil, nil
	}

	body := c.articleText(doc)
	if !c.snapshot.HasKeyword(entry.title) && !c.snapshot.HasKeyword(body) {
		c.log.Debug().Str("title", entry.title).Msg("No keyword, skipping extraction")
		c.markVisited(ctx, entry.url, entry.title, 0)
		return nil, nil
	}

	codes := unionCodes(c.ext.Extract(entry.title), c.ext.Extract(body))
	c.markVisited(ctx, entry.url, entry.title, len(codes))

	if len(codes) == 0 {
		return nil, nil
	}
	c.log.Info().
		Str("title", truncate(entry.title, 40)).
		Int("codes", len(codes)).
		Msg("Codes found")

	results := make([]CodeResult, 0, len(codes))
	for _, code := range codes {
		results = append(results, CodeResult{
			Code:        code,
			Game:        c.source.Game,
			SourceURL:   entry.url,
			SourceTitle: entry.title,
			PostedAt:    postedAt,
		})
	}
	return results, nil
}

// articleText gathers body and comment text. Hrefs carrying a code=
// parameter go in front of the prose so link-embedded codes survive even
// when the prose around them would not.
func (c *ListingCrawler) articleText(doc *goquery.Document) string {
	var parts []string

	appendRegion := func(sel *goquery.Selection) {
		sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			if href, _ := a.Attr("href"); strings.Contains(href, "code=") {
				parts = append(parts, href)
			}
		})
		if text := strings.TrimSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	}

	doc.Find(c.selectors.Body).Each(func(_ int, sel *goquery.Selection) {
		appendRegion(sel)
	})
	if c.selectors.Comments != "" {
		doc.Find(c.selectors.Comments).Each(func(_ int, sel *goquery.Selection) {
			appendRegion(sel)
		})
	}
	return strings.Join(parts, " ")
}

func (c *ListingCrawler) markVisited(ctx context.Context, url, title string, codesFound int) {
	if _, err := c.ledger.MarkVisited(ctx, url, c.source.Game, title, codesFound); err != nil {
		logger.LogError("crawler", err, "Failed to mark %s visited", url)
	}
}

// pageURL appends the page parameter beyond page 1.
func pageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sp=%d", base, sep, page)
}

func resolveURL(base, href string) string {
	refURL, err := url.Parse(href)
	if err != nil {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(refURL).String()
}

// findLabeledDate locates a labeled date such as 작성일 or 수정일: a head
// span whose text carries the label, followed by a time element, or a date
// span containing both.
func findLabeledDate(doc *goquery.Document, sel Selectors, labels []string) *time.Time {
	var found *time.Time

	doc.Find(sel.DateHead).EachWithBreak(func(_ int, head *goquery.Selection) bool {
		if !containsAny(head.Text(), labels) {
			return true
		}
		found = parseTimeElement(head.NextAllFiltered("time").First())
		if found == nil {
			found = parseTimeElement(head.Parent().Find("time").First())
		}
		return found == nil
	})
	if found != nil {
		return found
	}

	doc.Find(sel.DateSpan).EachWithBreak(func(_ int, span *goquery.Selection) bool {
		if !containsAny(span.Text(), labels) {
			return true
		}
		found = parseTimeElement(span.Find("time").First())
		return found == nil
	})
	return found
}

// parseTimeElement reads a time element, preferring the datetime attribute
// over the visible text.
func parseTimeElement(sel *goquery.Selection) *time.Time {
	if sel == nil || sel.Length() == 0 {
		return nil
	}

	if attr, ok := sel.Attr("datetime"); ok && attr != "" {
		s := strings.TrimSuffix(attr, "Z")
		if i := strings.IndexByte(s, '.'); i >= 0 {
			s = s[:i]
		}
		if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			return &t
		}
	}

	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", text); err == nil {
		return &t
	}
	if len(text) >= 10 {
		if t, err := time.Parse("2006-01-02", text[:10]); err == nil {
			return &t
		}
	}
	return nil
}

func containsAny(text string, subs []string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func unionCodes(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, code := range list {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
