package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"jobwatch/watcher-service/internal/model"
)

// RSS fetches postings from an RSS/Atom job feed. Feeds are a single
// document, so a successful parse is always a complete listing.
type RSS struct {
	parser *gofeed.Parser
}

// NewRSS constructs the extractor. The feed parser reuses the shared
// HTTP client so the global timeout applies.
func NewRSS(client *http.Client) *RSS {
	parser := gofeed.NewParser()
	parser.Client = client
	return &RSS{parser: parser}
}

func (r *RSS) Fetch(ctx context.Context, src model.Source) (Result, error) {
	feed, err := r.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests {
				return Result{}, Transient(err)
			}
			return Result{}, Permanent(err)
		}
		if ctx.Err() != nil {
			return Result{}, Transient(err)
		}
		// gofeed only fails outside HTTP on undetectable/broken feed
		// documents, which re-fetching will not fix.
		return Result{}, Permanent(fmt.Errorf("parse feed %s: %w", src.URL, err))
	}

	postings := make([]model.RawPosting, 0, len(feed.Items))
	for _, item := range feed.Items {
		raw := model.RawPosting{
			ExternalID:  item.GUID,
			Description: item.Description,
			URL:         item.Link,
			Company:     src.Name,
			PostedAt:    item.PublishedParsed,
		}
		raw.Title, raw.Location = splitFeedTitle(item.Title)
		if len(item.Categories) > 0 {
			raw.Department = item.Categories[0]
		}
		postings = append(postings, raw)
	}
	return Result{Postings: postings, Complete: true}, nil
}

// splitFeedTitle handles the "Job Title - (Location)" convention used by
// several feed-based boards. Titles without the suffix pass through.
func splitFeedTitle(title string) (string, string) {
	if idx := strings.LastIndex(title, " - ("); idx >= 0 && strings.HasSuffix(title, ")") {
		return strings.TrimSpace(title[:idx]), strings.TrimSpace(strings.TrimSuffix(title[idx+len(" - ("):], ")"))
	}
	return title, ""
}
