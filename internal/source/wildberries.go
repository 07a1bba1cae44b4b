package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/set-night/dealhunter/internal/domain"
)

const (
	KindWildberries = "wildberries"

	wbStoreName    = "Wildberries"
	wbSiteURL      = "https://www.wildberries.ru"
	wbCardAPIURL   = "https://card.wb.ru/cards/detail"
	wbImageURL     = "https://images.wbstatic.net/c516x688/%d-1.jpg"
	wbCardsPerCall = 100
	wbAttempts     = 3
	wbUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var wbDetailPath = regexp.MustCompile(`/catalog/(\d+)/detail\.aspx`)

// WildberriesFetcher walks catalogue pages for product ids and resolves them
// through the public card API. Each request is tried up to three times: a
// 429 waits throttleDelay times the attempt number, 5xx and transport
// errors wait retryDelay.
type WildberriesFetcher struct {
	client        *http.Client
	cardURL       string
	siteURL       string
	retryDelay    time.Duration
	throttleDelay time.Duration
	logger        *slog.Logger
}

func NewWildberriesFetcher(client *http.Client) *WildberriesFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WildberriesFetcher{
		client:        client,
		cardURL:       wbCardAPIURL,
		siteURL:       wbSiteURL,
		retryDelay:    5 * time.Second,
		throttleDelay: 10 * time.Second,
		logger:        slog.Default(),
	}
}

// WithRetryDelays overrides the waits between attempts.
func (w *WildberriesFetcher) WithRetryDelays(retry, throttle time.Duration) *WildberriesFetcher {
	w.retryDelay = retry
	w.throttleDelay = throttle
	return w
}

func (w *WildberriesFetcher) WithLogger(logger *slog.Logger) *WildberriesFetcher {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// WithEndpoints overrides the site and card API base URLs.
func (w *WildberriesFetcher) WithEndpoints(siteURL, cardURL string) *WildberriesFetcher {
	w.siteURL = strings.TrimRight(siteURL, "/")
	w.cardURL = cardURL
	return w
}

func (w *WildberriesFetcher) Kind() string { return KindWildberries }

// Fetch collects every category in turn. A category that still fails after
// retries is logged and skipped; the source fails only when none succeed.
func (w *WildberriesFetcher) Fetch(ctx context.Context, req Request) ([]domain.RawRecord, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no categories configured for source %s", req.SourceName)
	}

	var (
		records []domain.RawRecord
		errs    []error
	)
	for _, cat := range req.Categories {
		got, err := w.fetchCategory(ctx, cat, req.Limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Warn("wildberries category skipped", "source", req.SourceName, "category", cat.Name, "error", err)
			errs = append(errs, fmt.Errorf("category %s: %w", cat.Name, err))
			continue
		}
		records = append(records, got...)
	}
	if len(errs) == len(req.Categories) {
		return nil, errors.Join(errs...)
	}
	return records, nil
}

func (w *WildberriesFetcher) fetchCategory(ctx context.Context, cat Category, limit int) ([]domain.RawRecord, error) {
	ids, err := w.productIDs(ctx, cat.URL)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	var records []domain.RawRecord
	for start := 0; start < len(ids); start += wbCardsPerCall {
		end := min(start+wbCardsPerCall, len(ids))
		cards, err := w.cards(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, c := range cards {
			records = append(records, c.record(cat))
		}
	}
	return records, nil
}

func (w *WildberriesFetcher) productIDs(ctx context.Context, pageURL string) ([]int64, error) {
	if strings.HasPrefix(pageURL, "/") {
		pageURL = w.siteURL + pageURL
	}
	doc, err := w.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return extractProductIDs(doc), nil
}

// extractProductIDs collects ids from data attributes and detail links, in
// document order and without duplicates.
func extractProductIDs(doc *goquery.Document) []int64 {
	var ids []int64
	seen := map[int64]struct{}{}
	add := func(raw string) {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	doc.Find("[data-nm-id], [data-nm], [data-popup-nm]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"data-nm-id", "data-nm", "data-popup-nm"} {
			if v, ok := s.Attr(attr); ok {
				add(v)
			}
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if m := wbDetailPath.FindStringSubmatch(href); m != nil {
			add(m[1])
		}
	})
	return ids
}

func (w *WildberriesFetcher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	return retryGet(ctx, w, "catalogue", pageURL, func(body io.Reader) (*goquery.Document, error) {
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return nil, fmt.Errorf("parse catalogue: %w", err)
		}
		return doc, nil
	})
}

// retryGet performs a GET and decodes a 200 response. 429, 5xx and transport
// errors are retried; other statuses and decode errors are final.
func retryGet[T any](ctx context.Context, w *WildberriesFetcher, what, rawURL string, decode func(io.Reader) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		var zero T

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return zero, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("User-Agent", wbUserAgent)
		req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")

		resp, err := w.client.Do(req)
		if err != nil {
			return zero, fmt.Errorf("request %s: %w", what, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := &backoff.RetryAfterError{Duration: w.throttleDelay * time.Duration(attempt)}
			return zero, fmt.Errorf("%s returned %s: %w", what, resp.Status, wait)
		case resp.StatusCode >= http.StatusInternalServerError:
			return zero, fmt.Errorf("%s returned %s", what, resp.Status)
		case resp.StatusCode != http.StatusOK:
			return zero, backoff.Permanent(fmt.Errorf("%s returned %s", what, resp.Status))
		}

		v, err := decode(resp.Body)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		return v, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(w.retryDelay)),
		backoff.WithMaxTries(wbAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logger.Warn("wildberries request retry", "url", rawURL, "attempt", attempt, "wait", next, "error", err)
		}),
	)
}

type wbCard struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	SalePriceU int64   `json:"salePriceU"`
	PriceU     int64   `json:"priceU"`
	Rating     float64 `json:"rating"`
	Feedbacks  int     `json:"feedbacks"`
}

type wbCardResponse struct {
	Data struct {
		Products []wbCard `json:"products"`
	} `json:"data"`
}

func (w *WildberriesFetcher) cards(ctx context.Context, ids []int64) ([]wbCard, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	u, err := url.Parse(w.cardURL)
	if err != nil {
		return nil, fmt.Errorf("card api url: %w", err)
	}
	q := u.Query()
	q.Set("nm", strings.Join(parts, ";"))
	u.RawQuery = q.Encode()

	return retryGet(ctx, w, "card api", u.String(), func(body io.Reader) ([]wbCard, error) {
		var payload wbCardResponse
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode cards: %w", err)
		}
		return payload.Data.Products, nil
	})
}

// record maps a card onto the raw key names the normalizer understands.
// Card prices are in kopecks.
func (c wbCard) record(cat Category) domain.RawRecord {
	name := c.Name
	if c.Brand != "" && c.Name != "" {
		name = c.Brand + " / " + c.Name
	}
	return domain.RawRecord{
		"id":          strconv.FormatInt(c.ID, 10),
		"name":        name,
		"sale_price":  c.SalePriceU / 100,
		"old_price":   c.PriceU / 100,
		"rating":      c.Rating,
		"feedbacks":   c.Feedbacks,
		"marketplace": wbStoreName,
		"category":    cat.Name,
		"emoji":       cat.Emoji,
		"link":        fmt.Sprintf("%s/catalog/%d/detail.aspx", wbSiteURL, c.ID),
		"image":       fmt.Sprintf(wbImageURL, c.ID),
	}
}
