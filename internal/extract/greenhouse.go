package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"jobwatch/watcher-service/internal/model"
)

const (
	greenhousePageSize = 100
	greenhouseMaxPages = 20
)

// Greenhouse fetches postings from a Greenhouse-style job board API.
// The board endpoint is paginated; an interrupted run returns the pages
// collected so far with Complete=false so the reconciler can refrain
// from expiring anything.
type Greenhouse struct {
	client *http.Client
}

// NewGreenhouse constructs the extractor with a shared HTTP client.
func NewGreenhouse(client *http.Client) *Greenhouse {
	return &Greenhouse{client: client}
}

// boardResponse mirrors the top-level board API JSON response.
type boardResponse struct {
	Jobs []boardJob `json:"jobs"`
}

// boardJob mirrors a single listing in the board API.
type boardJob struct {
	ID          json.Number     `json:"id"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	AbsoluteURL string          `json:"absolute_url"`
	UpdatedAt   string          `json:"updated_at"`
	Location    boardLocation   `json:"location"`
	Departments []boardCategory `json:"departments"`
	Metadata    []boardMetadata `json:"metadata"`
}

type boardLocation struct {
	Name string `json:"name"`
}

type boardCategory struct {
	Name string `json:"name"`
}

type boardMetadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Fetch pages through the board until a short page or greenhouseMaxPages.
// A page failure after at least one successful page yields a partial
// result instead of an error.
func (g *Greenhouse) Fetch(ctx context.Context, src model.Source) (Result, error) {
	var postings []model.RawPosting

	for page := 1; page <= greenhouseMaxPages; page++ {
		batch, err := g.fetchPage(ctx, src, page)
		if err != nil {
			if page > 1 {
				return Result{Postings: postings, Complete: false}, nil
			}
			return Result{}, err
		}
		postings = append(postings, batch...)
		if len(batch) < greenhousePageSize {
			return Result{Postings: postings, Complete: true}, nil
		}
	}

	// Pagination budget exhausted with full pages remaining: the listing
	// is not known to be complete.
	return Result{Postings: postings, Complete: false}, nil
}

func (g *Greenhouse) fetchPage(ctx context.Context, src model.Source, page int) ([]model.RawPosting, error) {
	params := url.Values{}
	params.Set("content", "true")
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(greenhousePageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("http GET: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, Permanent(fmt.Errorf("board returned 404 for %s", src.URL))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, Transient(fmt.Errorf("board returned %d", resp.StatusCode))
	default:
		return nil, Permanent(fmt.Errorf("board returned %d: %s", resp.StatusCode, string(body)))
	}

	var apiResp boardResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, Permanent(fmt.Errorf("json unmarshal: %w", err))
	}

	postings := make([]model.RawPosting, 0, len(apiResp.Jobs))
	for _, j := range apiResp.Jobs {
		raw := model.RawPosting{
			ExternalID:  j.ID.String(),
			Title:       j.Title,
			Description: j.Content,
			Location:    j.Location.Name,
			URL:         j.AbsoluteURL,
			Company:     src.Name,
		}
		if len(j.Departments) > 0 {
			raw.Department = j.Departments[0].Name
		}
		for _, md := range j.Metadata {
			switch md.Name {
			case "Department":
				if raw.Department == "" {
					raw.Department = md.Value
				}
			case "Employment Type":
				raw.EmploymentType = md.Value
			}
		}
		if t, err := time.Parse(time.RFC3339, j.UpdatedAt); err == nil {
			raw.PostedAt = &t
		}
		postings = append(postings, raw)
	}
	return postings, nil
}
