// Package notion is a minimal REST client for the Notion API covering
// what ingestion needs: database queries, block trees, and rendering
// block trees to plain text.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kbchat/logger"
)

const maxBlockDepth = 4

// Client talks to the Notion REST API. All calls are paced by a
// configurable delay so a full database sync stays under the remote
// rate limit.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	version    string
	delay      time.Duration
	maxRetries int
	logger     *logger.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the underlying transport, used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDelay sets the inter-call pacing delay.
func WithDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithMaxRetries bounds retries on rate-limited calls.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func NewClient(baseURL, token, version string, log *logger.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	if version == "" {
		version = "2022-06-28"
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
		version:    version,
		delay:      350 * time.Millisecond,
		maxRetries: 3,
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryDatabase returns every non-archived page of a database,
// following pagination cursors. Filter, when non-empty, is passed
// through as the Notion filter object.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter map[string]interface{}) ([]Page, error) {
	var pages []Page
	cursor := ""

	for {
		body := map[string]interface{}{
			"page_size": 100,
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		if len(filter) > 0 {
			body["filter"] = filter
		}

		var resp queryResponse
		url := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, databaseID)
		if err := c.do(ctx, http.MethodPost, url, body, &resp); err != nil {
			return nil, fmt.Errorf("failed to query database %s: %w", databaseID, err)
		}

		for _, p := range resp.Results {
			if p.Archived {
				continue
			}
			pages = append(pages, p)
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return pages, nil
}

// GetDatabase fetches the database object, used to snapshot its
// property schema at registration time.
func (c *Client) GetDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	url := fmt.Sprintf("%s/v1/databases/%s", c.baseURL, databaseID)
	if err := c.do(ctx, http.MethodGet, url, nil, &db); err != nil {
		return nil, fmt.Errorf("failed to fetch database %s: %w", databaseID, err)
	}
	return &db, nil
}

// GetPage fetches a single page by ID.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	url := fmt.Sprintf("%s/v1/pages/%s", c.baseURL, pageID)
	if err := c.do(ctx, http.MethodGet, url, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch page %s: %w", pageID, err)
	}
	return &page, nil
}

// GetBlockTree fetches the full block tree under a page or block,
// recursing into blocks with children up to a fixed depth.
func (c *Client) GetBlockTree(ctx context.Context, blockID string) ([]Block, error) {
	return c.blockChildren(ctx, blockID, 0)
}

func (c *Client) blockChildren(ctx context.Context, blockID string, depth int) ([]Block, error) {
	var blocks []Block
	cursor := ""

	for {
		url := fmt.Sprintf("%s/v1/blocks/%s/children?page_size=100", c.baseURL, blockID)
		if cursor != "" {
			url += "&start_cursor=" + cursor
		}

		var resp blockChildrenResponse
		if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch children of block %s: %w", blockID, err)
		}

		blocks = append(blocks, resp.Results...)
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	if depth < maxBlockDepth {
		for i := range blocks {
			if !blocks[i].HasChildren || blocks[i].Type == "child_page" || blocks[i].Type == "child_database" {
				continue
			}
			children, err := c.blockChildren(ctx, blocks[i].ID, depth+1)
			if err != nil {
				c.logger.Warn("failed to fetch nested blocks", "block_id", blocks[i].ID, "error", err)
				continue
			}
			blocks[i].Children = children
		}
	}

	return blocks, nil
}

// FetchPageContent pulls a page's block tree and renders it to plain
// text together with its multimedia references.
func (c *Client) FetchPageContent(ctx context.Context, page *Page) (*PageContent, error) {
	blocks, err := c.GetBlockTree(ctx, page.ID)
	if err != nil {
		return nil, err
	}

	text, refs := RenderBlocks(blocks)
	return &PageContent{
		Title:     TitleOf(page.Properties),
		Text:      text,
		MediaRefs: refs,
	}, nil
}

func (c *Client) do(ctx context.Context, method, url string, body, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.pace(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", c.version)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			resp.Body.Close()
			c.logger.Warn("rate limited by notion, retrying", "url", url, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			raw, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return fmt.Errorf("request failed with status %d", resp.StatusCode)
			}
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(raw))
		}

		err = json.NewDecoder(resp.Body).Decode(result)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}

func (c *Client) pace(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
