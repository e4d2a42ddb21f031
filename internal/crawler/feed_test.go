package crawler

import (
	"context"
	"testing"

	"redeemworker/internal/extractor"
	"redeemworker/internal/sites"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedURL = "https://video.example.com/@official/community"

func feedSource(game string, tags map[string]string) sites.Source {
	return sites.Source{
		Game:    game,
		Type:    sites.TypeFeed,
		Name:    "official-feed",
		URL:     feedURL,
		Enabled: true,
		Options: sites.Options{
			ParseGameTags: len(tags) > 0,
			GameTags:      tags,
		},
	}
}

func newTestFeedCrawler(source sites.Source, renderer *mockRenderer, ledger *memLedger, limits Limits) *FeedCrawler {
	return NewFeedCrawler(source, DefaultFeedItemSelector, limits, renderer, ledger, extractor.New())
}

func TestFeedTagSegmentation(t *testing.T) {
	tags := map[string]string{"[원신]": "genshin", "[스타레일]": "starrail"}
	renderer := &mockRenderer{items: []string{
		"공지사항 INTROCODE2026XY 무시\n[원신] 쿠폰 GENSHINGIFT2026 배포 [스타레일] 보상 STARRAILGIFT99",
	}}
	ledger := newMemLedger()

	c := newTestFeedCrawler(feedSource(sites.MultiGame, tags), renderer, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byGame := make(map[string]string)
	for _, r := range results {
		byGame[r.Game] = r.Code
		assert.Equal(t, feedURL, r.SourceURL)
		assert.Nil(t, r.PostedAt)
	}
	assert.Equal(t, "GENSHINGIFT2026", byGame["genshin"])
	assert.Equal(t, "STARRAILGIFT99", byGame["starrail"])

	// Text before the first tag has no game, so its code is dropped.
	for _, r := range results {
		assert.NotEqual(t, "INTROCODE2026XY", r.Code)
	}

	rec, ok := ledger.visited[feedURL+"#0"]
	require.True(t, ok)
	assert.Equal(t, 2, rec.codesFound)
}

func TestFeedSingleGameFallback(t *testing.T) {
	renderer := &mockRenderer{items: []string{
		"새 쿠폰 나왔어요 GENSHINGIFT2026 빨리 쓰세요",
	}}
	ledger := newMemLedger()

	c := newTestFeedCrawler(feedSource("genshin", nil), renderer, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "genshin", results[0].Game)
	assert.Equal(t, "GENSHINGIFT2026", results[0].Code)
}

func TestFeedMultiGameWithoutTagsDropsItem(t *testing.T) {
	tags := map[string]string{"[원신]": "genshin"}
	renderer := &mockRenderer{items: []string{
		"태그 없는 포스트 GENSHINGIFT2026",
	}}
	ledger := newMemLedger()

	c := newTestFeedCrawler(feedSource(sites.MultiGame, tags), renderer, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)

	// The item is still marked so the next run skips it.
	rec, ok := ledger.visited[feedURL+"#0"]
	require.True(t, ok)
	assert.Zero(t, rec.codesFound)
}

func TestFeedSkipsVisitedMarkers(t *testing.T) {
	renderer := &mockRenderer{items: []string{
		"첫 포스트 GENSHINGIFT2026",
		"둘째 포스트 STARDUST2026WISH",
	}}
	ledger := newMemLedger()
	_, err := ledger.MarkVisited(context.Background(), feedURL+"#0", "genshin", "seen", 1)
	require.NoError(t, err)

	c := newTestFeedCrawler(feedSource("genshin", nil), renderer, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "STARDUST2026WISH", results[0].Code)
}

func TestFeedMaxArticlesBudget(t *testing.T) {
	renderer := &mockRenderer{items: []string{
		"하나 GENSHINGIFT2026",
		"둘 STARDUST2026WISH",
		"셋 REWARDCODE99X1",
	}}
	ledger := newMemLedger()

	limits := defaultLimits()
	limits.MaxArticles = 2
	c := newTestFeedCrawler(feedSource("genshin", nil), renderer, ledger, limits)
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)
	_, third := ledger.visited[feedURL+"#2"]
	assert.False(t, third)
}

func TestSegmentByTags(t *testing.T) {
	tags := map[string]string{"[A게임]": "a", "[B게임]": "b"}

	segs := segmentByTags("intro [A게임] one [B게임] two", tags)
	require.Len(t, segs, 2)
	assert.Equal(t, "a", segs[0].game)
	assert.Equal(t, " one ", segs[0].text)
	assert.Equal(t, "b", segs[1].game)
	assert.Equal(t, " two", segs[1].text)

	assert.Nil(t, segmentByTags("no tags here", tags))

	// Repeated tag yields one segment per occurrence.
	segs = segmentByTags("[A게임] x [A게임] y", tags)
	require.Len(t, segs, 2)
}
