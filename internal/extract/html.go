package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"jobwatch/watcher-service/internal/model"
)

// Default selectors for career pages without per-source overrides.
var defaultSelectors = map[string]string{
	"item":     ".job, .opening, li.posting",
	"title":    ".job-title, h2, h3",
	"location": ".location",
}

// HTML scrapes a static career page with per-source CSS selectors.
// Pages without a stable id attribute produce postings with an empty
// ExternalID; the normalizer derives a low-confidence key for those.
type HTML struct {
	client *http.Client
}

// NewHTML constructs the extractor with a shared HTTP client.
func NewHTML(client *http.Client) *HTML {
	return &HTML{client: client}
}

func (h *HTML) Fetch(ctx context.Context, src model.Source) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, http.NoBody)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", "jobwatch/1.0 (+https://jobwatch.example)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("http GET: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, Transient(fmt.Errorf("career page returned %d", resp.StatusCode))
	default:
		return Result{}, Permanent(fmt.Errorf("career page returned %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("parse HTML: %w", err))
	}

	sel := func(name string) string {
		if s, ok := src.Selectors[name]; ok && s != "" {
			return s
		}
		return defaultSelectors[name]
	}

	var postings []model.RawPosting
	doc.Find(sel("item")).Each(func(_ int, item *goquery.Selection) {
		raw := model.RawPosting{
			Title:    strings.TrimSpace(item.Find(sel("title")).First().Text()),
			Location: strings.TrimSpace(item.Find(sel("location")).First().Text()),
			Company:  src.Name,
		}
		if id, ok := item.Attr("data-job-id"); ok {
			raw.ExternalID = id
		}
		if link := item.Find("a").First(); link.Length() > 0 {
			if href, ok := link.Attr("href"); ok {
				raw.URL = resolveHref(src.URL, href)
			}
		}
		if dept := sel("department"); dept != "" {
			raw.Department = strings.TrimSpace(item.Find(dept).First().Text())
		}
		postings = append(postings, raw)
	})

	if len(postings) == 0 {
		// A selector mismatch and an empty board look identical here.
		// Treat it as permanent so a broken selector surfaces on the
		// session record instead of expiring the whole board.
		return Result{}, Permanent(fmt.Errorf("no postings matched selector %q on %s", sel("item"), src.URL))
	}
	return Result{Postings: postings, Complete: true}, nil
}

func resolveHref(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := baseURL.Parse(href)
	if err != nil {
		return href
	}
	return ref.String()
}
