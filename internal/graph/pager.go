package graph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	httpMethodGet   = "GET"
	DefaultMaxPages = 200
)

type PaginationOptions struct {
	FollowNext bool
	Limit      int
	PageSize   int
	// MaxPages bounds the cost of a misbehaving cursor. Zero means DefaultMaxPages.
	MaxPages int
}

type PaginationResult struct {
	PagesFetched int    `json:"pages_fetched"`
	ItemsFetched int    `json:"items_fetched"`
	Next         string `json:"next,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
}

// FetchAll walks the cursor and returns every item in response order. Hitting
// the page ceiling is not an error; the result is marked Truncated.
func (c *Client) FetchAll(ctx context.Context, req Request, options PaginationOptions) ([]map[string]any, *PaginationResult, error) {
	items := make([]map[string]any, 0)
	result, err := c.FetchWithPagination(ctx, req, options, func(item map[string]any) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return items, result, nil
}

func (c *Client) FetchWithPagination(ctx context.Context, req Request, options PaginationOptions, onItem func(map[string]any) error) (*PaginationResult, error) {
	if req.Method == "" {
		req.Method = httpMethodGet
	}
	if strings.ToUpper(req.Method) != httpMethodGet {
		return nil, fmt.Errorf("pagination only supports GET requests")
	}
	query := make(map[string]string, len(req.Query)+1)
	for key, value := range req.Query {
		query[key] = value
	}
	req.Query = query
	if options.PageSize > 0 && req.Query["limit"] == "" {
		req.Query["limit"] = strconv.Itoa(options.PageSize)
	}
	maxPages := options.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	result := &PaginationResult{}
	current := req
	for {
		resp, err := c.Do(ctx, current)
		if err != nil {
			return nil, err
		}
		result.PagesFetched++

		items, next := readPage(resp.Body)
		for _, item := range items {
			if options.Limit > 0 && result.ItemsFetched >= options.Limit {
				return result, nil
			}
			result.ItemsFetched++
			if onItem == nil {
				continue
			}
			if err := onItem(item); err != nil {
				return nil, err
			}
		}

		result.Next = next
		switch {
		case !options.FollowNext || next == "":
			return result, nil
		case result.PagesFetched >= maxPages:
			result.Truncated = true
			return result, nil
		}
		current, err = nextPageRequest(next, current)
		if err != nil {
			return nil, err
		}
	}
}

// readPage splits a list response into its object items and the paging.next
// cursor URL. Non-object entries in data are skipped.
func readPage(payload map[string]any) ([]map[string]any, string) {
	var items []map[string]any
	if raw, ok := payload["data"].([]any); ok {
		items = make([]map[string]any, 0, len(raw))
		for _, entry := range raw {
			if item, ok := entry.(map[string]any); ok {
				items = append(items, item)
			}
		}
	}
	var next string
	if paging, ok := payload["paging"].(map[string]any); ok {
		next, _ = paging["next"].(string)
	}
	return items, next
}

// nextPageRequest turns a paging.next URL back into a Request. Credentials
// embedded in the URL are dropped and re-signed from previous.
func nextPageRequest(nextURL string, previous Request) (Request, error) {
	parsed, err := url.Parse(nextURL)
	if err != nil {
		return Request{}, fmt.Errorf("parse paging.next url %q: %w", nextURL, err)
	}
	version, rel, ok := strings.Cut(strings.TrimPrefix(parsed.Path, "/"), "/")
	if !ok || rel == "" {
		return Request{}, fmt.Errorf("invalid paging.next path %q", parsed.Path)
	}
	if previous.Version != "" {
		version = previous.Version
	}

	query := map[string]string{}
	for key, values := range parsed.Query() {
		if len(values) == 0 || key == "access_token" || key == "appsecret_proof" {
			continue
		}
		query[key] = values[len(values)-1]
	}
	return Request{
		Method:      httpMethodGet,
		Path:        rel,
		Version:     version,
		Query:       query,
		AccessToken: previous.AccessToken,
		AppSecret:   previous.AppSecret,
	}, nil
}
