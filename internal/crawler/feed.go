package crawler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"redeemworker/internal/extractor"
	"redeemworker/internal/sites"
	"redeemworker/logger"
)

// FeedCrawler reads a rendered post feed. Feed items carry no timestamps;
// multi-game feeds interleave games via inline bracketed tags instead, and
// the item's synthesized url#index marker stands in for a stable URL.
type FeedCrawler struct {
	source       sites.Source
	itemSelector string
	limits       Limits

	renderer FeedRenderer
	ledger   VisitLedger
	ext      *extractor.Extractor
	log      *logger.Logger
}

// NewFeedCrawler builds the feed variant for one source.
func NewFeedCrawler(source sites.Source, itemSelector string, limits Limits,
	renderer FeedRenderer, ledger VisitLedger, ext *extractor.Extractor) *FeedCrawler {
	return &FeedCrawler{
		source:       source,
		itemSelector: itemSelector,
		limits:       limits,
		renderer:     renderer,
		ledger:       ledger,
		ext:          ext,
		log:          logger.ForCrawler(source.Name),
	}
}

func (c *FeedCrawler) GetName() string { return c.source.Name }
func (c *FeedCrawler) GetGame() string { return c.source.Game }

// Crawl renders the feed and walks its items up to the article budget.
func (c *FeedCrawler) Crawl(ctx context.Context) ([]CodeResult, error) {
	if c.source.URL == "" {
		return nil, fmt.Errorf("source %s has no feed URL", c.source.Name)
	}

	items, err := c.renderer.FeedItems(ctx, c.source.Name, c.source.URL, c.itemSelector)
	if err != nil {
		return nil, err
	}
	c.log.Info().Int("items", len(items)).Msg("Feed items rendered")

	var results []CodeResult
	for i, item := range items {
		if i >= c.limits.MaxArticles {
			break
		}

		marker := fmt.Sprintf("%s#%d", c.source.URL, i)
		if c.limits.SkipVisited {
			visited, err := c.ledger.IsVisited(ctx, marker)
			if err != nil {
				logger.LogError("crawler", err, "Visited check failed for %s", marker)
			}
			if visited {
				continue
			}
		}

		found := c.parseItem(item)
		title := "Feed: " + truncate(firstLine(item), 50)
		if _, err := c.ledger.MarkVisited(ctx, marker, c.source.Game, title, len(found)); err != nil {
			logger.LogError("crawler", err, "Failed to mark %s visited", marker)
		}

		results = append(results, found...)
	}
	return results, nil
}

// parseItem extracts codes from one feed item. With tags present each
// tagged segment is attributed to its game; without tags a single-game
// source gets the whole text, a multi-game source drops the item because
// unattributed codes are worthless.
func (c *FeedCrawler) parseItem(item string) []CodeResult {
	title := "Feed: " + truncate(firstLine(item), 50)
	tags := c.source.GameTags()

	segments := segmentByTags(item, tags)
	if len(segments) == 0 {
		if c.source.IsMultiGame() {
			return nil
		}
		return c.codesFor(c.source.Game, item, title)
	}

	var results []CodeResult
	for _, seg := range segments {
		results = append(results, c.codesFor(seg.game, seg.text, title)...)
	}
	return results
}

func (c *FeedCrawler) codesFor(game, text, title string) []CodeResult {
	codes := c.ext.Extract(text)
	if len(codes) == 0 {
		return nil
	}
	c.log.Info().Str("game", game).Int("codes", len(codes)).Msg("Codes found in feed")

	results := make([]CodeResult, 0, len(codes))
	for _, code := range codes {
		results = append(results, CodeResult{
			Code:        code,
			Game:        game,
			SourceURL:   c.source.URL,
			SourceTitle: title,
		})
	}
	return results
}

type taggedSegment struct {
	game string
	text string
}

// segmentByTags carves the text between recognized game tags. Each segment
// starts right after its tag and runs to the next recognized tag or end of
// text. Text before the first tag has no attribution and is dropped.
func segmentByTags(text string, tags map[string]string) []taggedSegment {
	type hit struct {
		start, end int
		game       string
	}
	var hits []hit
	for tag, game := range tags {
		idx := strings.Index(text, tag)
		for idx >= 0 {
			hits = append(hits, hit{start: idx, end: idx + len(tag), game: game})
			next := strings.Index(text[idx+len(tag):], tag)
			if next < 0 {
				break
			}
			idx = idx + len(tag) + next
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	segments := make([]taggedSegment, 0, len(hits))
	for i, h := range hits {
		end := len(text)
		if i+1 < len(hits) {
			end = hits[i+1].start
		}
		segments = append(segments, taggedSegment{game: h.game, text: text[h.end:end]})
	}
	return segments
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
