package extract_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobwatch/watcher-service/internal/extract"
	"jobwatch/watcher-service/internal/model"
)

const careersPage = `<html><body>
<ul>
  <li class="posting" data-job-id="eng-1">
    <h3>Backend Engineer</h3>
    <span class="location">Berlin</span>
    <a href="/jobs/eng-1">Apply</a>
  </li>
  <li class="posting">
    <h3>Data Engineer</h3>
    <span class="location">Munich</span>
    <a href="https://other.example/jobs/data">Apply</a>
  </li>
</ul>
</body></html>`

func htmlSource(url string) model.Source {
	return model.Source{ID: "src-html", Name: "Globex", Kind: "html", URL: url}
}

func TestHTML_DefaultSelectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, careersPage)
	}))
	defer srv.Close()

	res, err := extract.NewHTML(srv.Client()).Fetch(context.Background(), htmlSource(srv.URL))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Complete {
		t.Error("a parsed career page is a complete listing")
	}
	if len(res.Postings) != 2 {
		t.Fatalf("have %d postings, want 2", len(res.Postings))
	}

	first := res.Postings[0]
	if first.ExternalID != "eng-1" {
		t.Errorf("external id = %q, want data-job-id value", first.ExternalID)
	}
	if first.Title != "Backend Engineer" || first.Location != "Berlin" {
		t.Errorf("posting = %+v", first)
	}
	if first.URL != srv.URL+"/jobs/eng-1" {
		t.Errorf("url = %q, want relative href resolved against the page", first.URL)
	}

	second := res.Postings[1]
	if second.ExternalID != "" {
		t.Errorf("external id = %q, want empty for items without data-job-id", second.ExternalID)
	}
	if second.URL != "https://other.example/jobs/data" {
		t.Errorf("url = %q, want absolute href kept as-is", second.URL)
	}
}

func TestHTML_PerSourceSelectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="vacancy" data-job-id="v1">
			<span class="role">SRE</span><em class="city">Hamburg</em></div>`)
	}))
	defer srv.Close()

	src := htmlSource(srv.URL)
	src.Selectors = map[string]string{"item": ".vacancy", "title": ".role", "location": ".city"}

	res, err := extract.NewHTML(srv.Client()).Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Postings) != 1 || res.Postings[0].Title != "SRE" || res.Postings[0].Location != "Hamburg" {
		t.Errorf("postings = %+v", res.Postings)
	}
}

func TestHTML_NoMatchesIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>We are not hiring.</p></body></html>")
	}))
	defer srv.Close()

	_, err := extract.NewHTML(srv.Client()).Fetch(context.Background(), htmlSource(srv.URL))
	if err == nil || !extract.IsPermanent(err) {
		t.Errorf("err = %v, want permanent selector-mismatch error", err)
	}
}

func TestHTML_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := extract.NewHTML(srv.Client()).Fetch(context.Background(), htmlSource(srv.URL))
	if err == nil || extract.IsPermanent(err) {
		t.Errorf("err = %v, want transient", err)
	}
}
