package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/RishiKendai/codetrace/internal/logger"
	"github.com/RishiKendai/codetrace/internal/metrics"
	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/RishiKendai/codetrace/internal/retry"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultGitHubAPIURL = "https://api.github.com"
	githubAPIVersion    = "2022-11-28"
	snippetLength       = 500
	maxContentBytes     = 64 << 10
	maxErrorBodyBytes   = 4 << 10
)

// StatusError is a non-2xx answer from the GitHub API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github API error (status %d): %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

type GitHubOptions struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Policy            retry.Policy
	HTTPClient        *http.Client
}

// GitHubClient searches public code through the GitHub code search API.
// It is safe for concurrent use. Search requests share one rate limiter;
// file content requests fall under the general API quota and are not limited.
type GitHubClient struct {
	baseURL       string
	token         string
	httpClient    *http.Client
	searchLimiter *rate.Limiter
	policy     retry.Policy
	log        zerolog.Logger
}

func NewGitHubClient(opts GitHubOptions) *GitHubClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGitHubAPIURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Deadlines come from the per-attempt context.
		httpClient = &http.Client{}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &GitHubClient{
		baseURL:       baseURL,
		token:         opts.Token,
		httpClient:    httpClient,
		searchLimiter: rate.NewLimiter(limit, 1),
		policy:        opts.Policy,
		log:           logger.For("retrieval"),
	}
}

type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []searchItem `json:"items"`
}

type searchItem struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	URL        string `json:"url"`
	HTMLURL    string `json:"html_url"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	TextMatches []struct {
		Fragment string `json:"fragment"`
	} `json:"text_matches"`
}

// Search returns up to limit candidates for query, best match first.
// Failures are logged and yield an empty slice.
func (c *GitHubClient) Search(ctx context.Context, query, languageHint string, limit int) []models.MatchCandidate {
	matches := []models.MatchCandidate{}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return matches
	}

	items, err := c.searchCode(ctx, query, languageHint, limit)
	if err != nil {
		c.log.Error().Err(err).Str("query", query).Msg("GitHub search error")
		metrics.RetrievalMatches.Observe(0)
		return matches
	}

	for _, item := range items {
		if len(matches) == limit {
			break
		}
		matches = append(matches, models.MatchCandidate{
			RepositoryID: item.Repository.FullName,
			URL:          item.HTMLURL,
			Path:         item.Path,
			Snippet:      c.snippet(ctx, item),
		})
	}

	metrics.RetrievalMatches.Observe(float64(len(matches)))
	c.log.Debug().Str("query", query).Int("matches", len(matches)).Msg("GitHub search completed")
	return matches
}

func (c *GitHubClient) searchCode(ctx context.Context, query, languageHint string, limit int) ([]searchItem, error) {
	q := query
	if languageHint != "" {
		q = fmt.Sprintf("%s language:%s", query, languageHint)
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("per_page", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/search/code?%s", c.baseURL, params.Encode())

	var result searchResponse
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		body, err := c.get(ctx, c.searchLimiter, endpoint, "application/vnd.github.text-match+json", maxContentBytes*4)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return retry.Permanent(fmt.Errorf("failed to unmarshal search response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// snippet fetches the head of the matched file, falling back to the
// text-match fragments when the contents cannot be read.
func (c *GitHubClient) snippet(ctx context.Context, item searchItem) string {
	if item.URL != "" {
		var content []byte
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			body, err := c.get(ctx, nil, item.URL, "application/vnd.github.raw+json", maxContentBytes)
			if err != nil {
				return err
			}
			content = body
			return nil
		})
		if err == nil {
			return truncateRunes(string(content), snippetLength)
		}
		c.log.Warn().Err(err).Str("path", item.Path).Str("repository", item.Repository.FullName).
			Msg("Failed to fetch file contents, using text matches")
	}

	fragments := make([]string, 0, len(item.TextMatches))
	for _, tm := range item.TextMatches {
		if tm.Fragment != "" {
			fragments = append(fragments, tm.Fragment)
		}
	}
	return truncateRunes(strings.Join(fragments, "\n"), snippetLength)
}

// get waits on limiter, when given, before issuing the request.
func (c *GitHubClient) get(ctx context.Context, limiter *rate.Limiter, endpoint, accept string, maxBytes int64) ([]byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
