package fetcher

import (
	"context"
	"strings"
	"time"

	"redeemworker/logger"
	crawlerrors "redeemworker/pkg/errors"

	"github.com/chromedp/chromedp"
)

const (
	renderTimeout = 60 * time.Second
	feedScrolls   = 3
	scrollPause   = time.Second
)

// Renderer drives a headless browser for feed sources that only exist
// after JavaScript rendering. One Renderer is created per crawl invocation
// and must be closed on every exit path; a leaked browser survives the
// process's next runs.
type Renderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	log         *logger.Logger
}

// NewRenderer starts a headless browser allocator.
func NewRenderer(ctx context.Context) *Renderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("lang", "ko-KR"),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Renderer{
		allocCtx:    allocCtx,
		allocCancel: cancel,
		log:         logger.For("renderer"),
	}
}

// Close tears the browser down. Safe to call multiple times via defer.
func (r *Renderer) Close() {
	r.allocCancel()
}

// FeedItems renders url, scrolls to load more posts and returns the raw
// text of each feed item, newest first as rendered.
func (r *Renderer) FeedItems(ctx context.Context, sourceKey, url string, itemSelector string) ([]string, error) {
	taskCtx, cancel := chromedp.NewContext(r.allocCtx)
	defer cancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, renderTimeout)
	defer timeoutCancel()

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	for i := 0; i < feedScrolls; i++ {
		tasks = append(tasks,
			chromedp.Evaluate(`window.scrollBy(0, 1000)`, nil),
			chromedp.Sleep(scrollPause),
		)
	}

	var texts []string
	tasks = append(tasks, chromedp.Evaluate(
		`Array.from(document.querySelectorAll(`+jsString(itemSelector)+`)).map(e => e.innerText)`,
		&texts,
	))

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, crawlerrors.NewRender(sourceKey, "render feed "+url, err)
	}

	var items []string
	for _, t := range texts {
		if s := strings.TrimSpace(t); s != "" {
			items = append(items, s)
		}
	}
	r.log.Debug().Str("source", sourceKey).Int("items", len(items)).Msg("Feed rendered")
	return items, nil
}

func jsString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
