package crawler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"redeemworker/internal/extractor"
	"redeemworker/internal/sites"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boardURL = "https://board.example.com/b/redeem?keyword=쿠폰"

func listingSource() sites.Source {
	return sites.Source{
		Game:    "genshin",
		Type:    sites.TypeListing,
		Name:    "board-redeem",
		URL:     boardURL,
		Enabled: true,
	}
}

func testSnapshot() sites.Snapshot {
	return sites.Snapshot{Version: 1, Keywords: sites.DefaultKeywords}
}

func defaultLimits() Limits {
	return Limits{MaxPages: 3, MaxArticles: 20, MaxAgeDays: 90, SkipVisited: true}
}

type listRow struct {
	href  string
	title string
	date  time.Time
}

func listingHTML(rows []listRow) string {
	var b strings.Builder
	b.WriteString("<html><body><div class='list-table'>")
	for _, r := range rows {
		fmt.Fprintf(&b,
			`<a class="vrow column" href="%s"><span class="vcol col-title">%s</span>`+
				`<span class="vcol col-time"><time datetime="%s">%s</time></span></a>`,
			r.href, r.title,
			r.date.Format("2006-01-02T15:04:05"), r.date.Format("2006-01-02"))
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func articleHTML(title, body, comment string, postedAt, modifiedAt *time.Time) string {
	var b strings.Builder
	b.WriteString("<html><body><div class='article-head'>")
	fmt.Fprintf(&b, "<h1>%s</h1>", title)
	if postedAt != nil {
		fmt.Fprintf(&b, `<span class="head">작성일</span><time datetime="%s">%s</time>`,
			postedAt.Format("2006-01-02T15:04:05"), postedAt.Format("2006-01-02"))
	}
	if modifiedAt != nil {
		fmt.Fprintf(&b, `<span class="head">수정일</span><time datetime="%s">%s</time>`,
			modifiedAt.Format("2006-01-02T15:04:05"), modifiedAt.Format("2006-01-02"))
	}
	b.WriteString("</div>")
	fmt.Fprintf(&b, `<div class="article-content">%s</div>`, body)
	if comment != "" {
		fmt.Fprintf(&b, `<div class="comment-content">%s</div>`, comment)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestListingCrawler(fetcher *mockFetcher, ledger *memLedger, limits Limits) *ListingCrawler {
	return NewListingCrawler(listingSource(), testSnapshot(), DefaultListingSelectors,
		limits, fetcher, ledger, extractor.New())
}

func TestListingCrawlExtractsCodes(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)

	fetcher.pages[boardURL] = listingHTML([]listRow{
		{href: "/b/redeem/101", title: "[리딤] 신규 쿠폰 GENSHINGIFT2026 배포", date: fresh},
	})
	fetcher.pages["https://board.example.com/b/redeem/101"] = articleHTML(
		"[리딤] 신규 쿠폰 GENSHINGIFT2026 배포",
		"본문에도 코드 있음: STARDUST2026WISH 사용 기한 주의",
		"", &fresh, nil)

	c := newTestListingCrawler(fetcher, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)

	var codes []string
	for _, r := range results {
		codes = append(codes, r.Code)
		assert.Equal(t, "genshin", r.Game)
		assert.Equal(t, "https://board.example.com/b/redeem/101", r.SourceURL)
		require.NotNil(t, r.PostedAt)
	}
	assert.ElementsMatch(t, []string{"GENSHINGIFT2026", "STARDUST2026WISH"}, codes)

	rec, ok := ledger.visited["https://board.example.com/b/redeem/101"]
	require.True(t, ok)
	assert.Equal(t, 2, rec.codesFound)
}

func TestListingStopsAfterPageWithOldEntry(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)
	old := time.Now().UTC().AddDate(0, 0, -200)

	var rows []listRow
	for i := 1; i <= 10; i++ {
		date := fresh
		if i >= 7 {
			date = old
		}
		rows = append(rows, listRow{
			href:  fmt.Sprintf("/b/redeem/%d", 200+i),
			title: fmt.Sprintf("쿠폰 안내 %d", i),
			date:  date,
		})
	}
	fetcher.pages[boardURL] = listingHTML(rows)
	for i := 1; i <= 6; i++ {
		url := fmt.Sprintf("https://board.example.com/b/redeem/%d", 200+i)
		fetcher.pages[url] = articleHTML("쿠폰 안내", "내용 없음", "", &fresh, nil)
	}

	c := newTestListingCrawler(fetcher, ledger, defaultLimits())
	_, err := c.Crawl(context.Background())
	require.NoError(t, err)

	// Fresh entries fetched, old ones excluded.
	for i := 1; i <= 6; i++ {
		url := fmt.Sprintf("https://board.example.com/b/redeem/%d", 200+i)
		assert.Equal(t, 1, fetcher.requestedCount(url), url)
	}
	for i := 7; i <= 10; i++ {
		url := fmt.Sprintf("https://board.example.com/b/redeem/%d", 200+i)
		assert.Zero(t, fetcher.requestedCount(url), url)
	}
	// Old pages only get older: page 2 never fetched.
	assert.Zero(t, fetcher.requestedCount(boardURL+"&p=2"))
}

func TestListingContinuesPastSparsePage(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)

	fetcher.pages[boardURL] = listingHTML(nil)
	fetcher.pages[boardURL+"&p=2"] = listingHTML([]listRow{
		{href: "/b/redeem/301", title: "리딤 코드", date: fresh},
	})
	fetcher.pages["https://board.example.com/b/redeem/301"] = articleHTML(
		"리딤 코드", "GENSHINGIFT2026", "", &fresh, nil)

	c := newTestListingCrawler(fetcher, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "GENSHINGIFT2026", results[0].Code)
}

func TestListingSkipsVisitedEntries(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)

	articleURL := "https://board.example.com/b/redeem/401"
	_, err := ledger.MarkVisited(context.Background(), articleURL, "genshin", "old run", 1)
	require.NoError(t, err)

	fetcher.pages[boardURL] = listingHTML([]listRow{
		{href: "/b/redeem/401", title: "쿠폰", date: fresh},
	})

	c := newTestListingCrawler(fetcher, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, fetcher.requestedCount(articleURL))
}

func TestListingKeywordGate(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)

	articleURL := "https://board.example.com/b/redeem/501"
	fetcher.pages[boardURL] = listingHTML([]listRow{
		{href: "/b/redeem/501", title: "잡담 글", date: fresh},
	})
	// Neither title nor body carries a keyword; the embedded string must
	// not be extracted.
	fetcher.pages[articleURL] = articleHTML("잡담 글", "그냥 일상 GENSHINGIFT2026 이야기", "", &fresh, nil)

	c := newTestListingCrawler(fetcher, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)

	rec, ok := ledger.visited[articleURL]
	require.True(t, ok)
	assert.Zero(t, rec.codesFound)
}

func TestListingDetailAgeRecheckPrefersModifiedDate(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)
	old := time.Now().UTC().AddDate(0, 0, -200)

	articleURL := "https://board.example.com/b/redeem/601"
	fetcher.pages[boardURL] = listingHTML([]listRow{
		{href: "/b/redeem/601", title: "쿠폰 글", date: fresh},
	})
	// List said fresh, but both posted and modified dates are old; the
	// modified date drives the re-check.
	fetcher.pages[articleURL] = articleHTML("쿠폰 글", "쿠폰 GENSHINGIFT2026", "", &old, &old)

	c := newTestListingCrawler(fetcher, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)

	rec, ok := ledger.visited[articleURL]
	require.True(t, ok)
	assert.Zero(t, rec.codesFound)
}

func TestListingCodeBearingHrefsExtracted(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)

	articleURL := "https://board.example.com/b/redeem/701"
	fetcher.pages[boardURL] = listingHTML([]listRow{
		{href: "/b/redeem/701", title: "쿠폰 링크 공유", date: fresh},
	})
	body := `여기서 받으세요 <a href="https://game.example.com/gift?code=AbC123xyZ9">링크</a>`
	fetcher.pages[articleURL] = articleHTML("쿠폰 링크 공유", body, "", &fresh, nil)

	c := newTestListingCrawler(fetcher, ledger, defaultLimits())
	results, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ABC123XYZ9", results[0].Code)
}

func TestListingMaxArticlesBudget(t *testing.T) {
	fetcher := newMockFetcher()
	ledger := newMemLedger()
	fresh := time.Now().UTC().Add(-24 * time.Hour)

	var rows []listRow
	for i := 1; i <= 5; i++ {
		url := fmt.Sprintf("/b/redeem/%d", 800+i)
		rows = append(rows, listRow{href: url, title: "쿠폰", date: fresh})
		fetcher.pages["https://board.example.com"+url] = articleHTML("쿠폰", "내용", "", &fresh, nil)
	}
	fetcher.pages[boardURL] = listingHTML(rows)

	limits := defaultLimits()
	limits.MaxArticles = 2
	c := newTestListingCrawler(fetcher, ledger, limits)
	_, err := c.Crawl(context.Background())
	require.NoError(t, err)

	detailFetches := 0
	for i := 1; i <= 5; i++ {
		detailFetches += fetcher.requestedCount(fmt.Sprintf("https://board.example.com/b/redeem/%d", 800+i))
	}
	assert.Equal(t, 2, detailFetches)
}

func TestPageURL(t *testing.T) {
	assert.Equal(t, boardURL, pageURL(boardURL, 1))
	assert.Equal(t, boardURL+"&p=2", pageURL(boardURL, 2))
	assert.Equal(t, "https://a.com/list?p=3", pageURL("https://a.com/list", 3))
}

func TestParseTimeElementFormats(t *testing.T) {
	doc := func(html string) *time.Time {
		d, err := newDoc(html)
		require.NoError(t, err)
		return parseTimeElement(d.Find("time").First())
	}

	got := doc(`<time datetime="2026-04-11T21:41:56.123Z">x</time>`)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 4, 11, 21, 41, 56, 0, time.UTC), *got)

	got = doc(`<time>2026-04-11 21:41:56</time>`)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 4, 11, 21, 41, 56, 0, time.UTC), *got)

	got = doc(`<time>2026-04-11</time>`)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, doc(`<time>어제</time>`))
}
