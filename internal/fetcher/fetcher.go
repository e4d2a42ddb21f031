package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"redeemworker/logger"
	crawlerrors "redeemworker/pkg/errors"
	"redeemworker/services/cache"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	browser "github.com/EDDYCJY/fake-useragent"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultBlockTime = 500 * time.Second
)

var referers = []string{
	"https://www.google.com/",
	"https://www.naver.com/",
	"https://www.daum.net/",
}

// Fetcher retrieves pages through an anti-bot capable HTTP client, converts
// them to UTF-8 and parses them with goquery. A blocking delay is applied
// before every request; sources that answer with a rate-limit status are
// blocked in the cache for BlockTime.
type Fetcher struct {
	client    *resty.Client
	blocks    cache.BlockCache
	delay     time.Duration
	BlockTime time.Duration
	log       *logger.Logger
}

// New creates a fetcher. blocks may be nil, in which case rate-limit
// blocking is disabled (used by tests).
func New(blocks cache.BlockCache, delay time.Duration) *Fetcher {
	client := resty.New()
	client.SetTimeout(defaultTimeout)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	client.SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	client.SetHeader("Cache-Control", "no-cache")
	client.SetHeader("Upgrade-Insecure-Requests", "1")

	// cloudflare-bp rewrites the fingerprint-relevant headers so the
	// request passes the passive browser checks.
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	return &Fetcher{
		client:    client,
		blocks:    blocks,
		delay:     delay,
		BlockTime: defaultBlockTime,
		log:       logger.ForFetcher(),
	}
}

// Document fetches url and returns the parsed HTML document. sourceKey
// scopes the rate-limit block for the source being crawled.
func (f *Fetcher) Document(ctx context.Context, sourceKey, url string) (*goquery.Document, error) {
	body, err := f.fetch(ctx, sourceKey, url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, crawlerrors.NewParsing(sourceKey, "parse HTML", err)
	}
	return doc, nil
}

func (f *Fetcher) fetch(ctx context.Context, sourceKey, url string) (io.Reader, error) {
	blockKey := sourceKey + "_rate_limited"
	if f.blocks != nil && sourceKey != "" {
		if _, err := f.blocks.Get(blockKey); err == nil {
			return nil, crawlerrors.NewRateLimit(sourceKey, f.BlockTime)
		}
	}

	// Minimum spacing between outbound requests; correctness only needs
	// a floor, not exact timing.
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", browser.Chrome()).
		SetHeader("Referer", referers[rand.Intn(len(referers))]).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, crawlerrors.NewNetwork(sourceKey, fmt.Sprintf("fetch %s", url), err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() == 430:
		if f.blocks != nil && sourceKey != "" {
			if setErr := f.blocks.Set(blockKey, []byte(fmt.Sprintf("%d", int(f.BlockTime.Seconds()))), f.BlockTime); setErr != nil {
				f.log.Warn().Err(setErr).Str("source", sourceKey).Msg("Failed to set rate limit block")
			}
		}
		return nil, crawlerrors.NewRateLimit(sourceKey, f.BlockTime)
	case resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusServiceUnavailable:
		bodyBytes, _ := io.ReadAll(io.LimitReader(raw, 4096))
		if isChallengeBody(bodyBytes) {
			return nil, crawlerrors.NewAntiBot(sourceKey, fmt.Sprintf("challenge not passed for %s", url), nil)
		}
		return nil, crawlerrors.NewNetwork(sourceKey, fmt.Sprintf("fetch %s: status %d", url, resp.StatusCode()), nil)
	case resp.StatusCode() != http.StatusOK:
		return nil, crawlerrors.NewNetwork(sourceKey, fmt.Sprintf("fetch %s: status %d", url, resp.StatusCode()), nil)
	}

	bodyBytes, err := io.ReadAll(raw)
	if err != nil {
		return nil, crawlerrors.NewNetwork(sourceKey, "read response body", err)
	}

	return toUTF8(bodyBytes, resp.Header().Get("Content-Type"))
}

// toUTF8 converts the response body to UTF-8 based on the Content-Type
// header and the body itself. Korean boards still serve EUC-KR.
func toUTF8(body []byte, contentType string) (io.Reader, error) {
	encoding, name, _ := charset.DetermineEncoding(body, contentType)
	if strings.EqualFold(name, "utf-8") {
		return bytes.NewReader(body), nil
	}

	utf8Reader := encoding.NewDecoder().Reader(bytes.NewReader(body))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, utf8Reader); err != nil {
		return nil, fmt.Errorf("convert body to UTF-8: %w", err)
	}
	return &buf, nil
}

func isChallengeBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "challenge-platform") ||
		strings.Contains(lower, "just a moment")
}
