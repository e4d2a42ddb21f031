package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// mockFetcher serves canned HTML per URL and records every request.
type mockFetcher struct {
	pages     map[string]string
	requested []string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{pages: make(map[string]string)}
}

func newDoc(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (m *mockFetcher) Document(_ context.Context, _, url string) (*goquery.Document, error) {
	m.requested = append(m.requested, url)
	html, ok := m.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (m *mockFetcher) requestedCount(url string) int {
	n := 0
	for _, r := range m.requested {
		if r == url {
			n++
		}
	}
	return n
}

// mockRenderer returns canned feed items.
type mockRenderer struct {
	items []string
	err   error
	calls int
}

func (m *mockRenderer) FeedItems(_ context.Context, _, _, _ string) ([]string, error) {
	m.calls++
	return m.items, m.err
}

type visitRecord struct {
	game       string
	title      string
	codesFound int
}

// memLedger is an in-memory visit ledger with the same relaxed prefix
// match as the real store.
type memLedger struct {
	mu      sync.Mutex
	visited map[string]visitRecord
}

func newMemLedger() *memLedger {
	return &memLedger{visited: make(map[string]visitRecord)}
}

func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

func (m *memLedger) IsVisited(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidate := stripQuery(url)
	for stored := range m.visited {
		if strings.HasPrefix(candidate, stripQuery(stored)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) MarkVisited(_ context.Context, url, game, title string, codesFound int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visited[url]; ok {
		return false, nil
	}
	m.visited[url] = visitRecord{game: game, title: title, codesFound: codesFound}
	return true, nil
}
