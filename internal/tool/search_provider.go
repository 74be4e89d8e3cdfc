package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPSearchProvider is a SearchProvider backed by a JSON search API
// (e.g. a hosted SearXNG/Brave/Bing-compatible endpoint configured via
// Config.Provider). If the endpoint's results omit snippets, each hit's
// page is fetched and rendered to text as a fallback.
type HTTPSearchProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSearchProvider creates a search provider against endpoint,
// authenticating with apiKey if non-empty.
func NewHTTPSearchProvider(endpoint, apiKey string) *HTTPSearchProvider {
	return &HTTPSearchProvider{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: 20 * time.Second}}
}

// NoSearchProvider is the SearchProvider used when no search endpoint is
// configured: web_search calls fail with an explicit error rather than
// the registry going without the tool entirely.
type NoSearchProvider struct{}

func (NoSearchProvider) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	return nil, fmt.Errorf("web_search: no search provider configured")
}

type searchAPIResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

func (p *HTTPSearchProvider) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	u := fmt.Sprintf("%s?q=%s&limit=%d", p.endpoint, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("search_provider: decode response: %w", err)
	}

	hits := make([]SearchHit, 0, len(parsed.Results))
	for i, r := range parsed.Results {
		if i >= limit {
			break
		}
		snippet := r.Snippet
		if snippet == "" {
			if rendered, err := fetchRendered(ctx, p.client, r.URL); err == nil {
				if len(rendered) > 1000 {
					rendered = rendered[:1000]
				}
				snippet = rendered
			}
		}
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: snippet})
	}
	return hits, nil
}
