package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/trackforge/go-guard/logger"
)

// PracticePoints maps a problem difficulty to the points one solved problem
// of that difficulty is worth.
var PracticePoints = map[string]int{
	"Hard":   8,
	"Medium": 4,
	"Easy":   2,
	"Basic":  1,
}

const (
	pointsPerPost = 5
	pointsPerLike = 2
)

// ErrHandleNotFound means the scoring service answered and the handle does
// not exist. This is terminal: retrying the same handle cannot succeed.
var ErrHandleNotFound = errors.New("scoring: handle not found")

// ErrUnreachable means the scoring service could not be reached or answered
// garbage. This is retryable and should count toward the circuit breaker.
var ErrUnreachable = errors.New("scoring: upstream unreachable")

// Summary is the computed standing for one handle.
type Summary struct {
	Handle string `json:"handle"`
	Score  int    `json:"score"`
	Tier   string `json:"tier"`
	Solved int    `json:"solved"`
	Posts  int    `json:"posts"`
	Likes  int    `json:"likes"`
}

// Tier buckets a score into a named tier.
func Tier(score int) string {
	switch {
	case score >= 500:
		return "Diamond"
	case score >= 200:
		return "Gold"
	case score >= 50:
		return "Silver"
	default:
		return "Bronze"
	}
}

// Client fetches practice and community activity for a handle and computes
// its score. It knows nothing about caching or rate limiting; callers are
// expected to run Fetch behind a guard.
type Client struct {
	practiceURL  string
	communityURL string
	client       *http.Client
	logger       logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithBaseURLs overrides the practice and community endpoints, mainly for
// tests against a local server.
func WithBaseURLs(practice, community string) Option {
	return func(c *Client) {
		c.practiceURL = practice
		c.communityURL = community
	}
}

const (
	defaultPracticeURL  = "https://practiceapi.geeksforgeeks.org/api/v1/user/problems/submissions/"
	defaultCommunityURL = "https://communityapi.geeksforgeeks.org/post/user"
	defaultTimeout      = 10 * time.Second
)

// New returns a scoring client with a 10 second request timeout.
func New(log logger.Logger, opts ...Option) *Client {
	c := &Client{
		practiceURL:  defaultPracticeURL,
		communityURL: defaultCommunityURL,
		client:       &http.Client{Timeout: defaultTimeout},
		logger:       log.WithPrefix("[scoring]"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type practiceResponse struct {
	Status string                            `json:"status"`
	Result map[string]map[string]interface{} `json:"result"`
}

type communityResponse struct {
	Count   int `json:"count"`
	Results []struct {
		LikeCount int `json:"like_count"`
	} `json:"results"`
}

// Fetch computes the summary for handle. An unknown handle yields
// ErrHandleNotFound; a transport or decode problem yields ErrUnreachable.
func (c *Client) Fetch(ctx context.Context, handle string) (*Summary, error) {
	practice, err := c.fetchPractice(ctx, handle)
	if err != nil {
		return nil, err
	}
	community, err := c.fetchCommunity(ctx, handle)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Handle: handle}
	for level, points := range PracticePoints {
		solved := len(practice.Result[level])
		summary.Solved += solved
		summary.Score += solved * points
	}
	summary.Posts = community.Count
	for _, post := range community.Results {
		summary.Likes += post.LikeCount
	}
	summary.Score += summary.Posts*pointsPerPost + summary.Likes*pointsPerLike
	summary.Tier = Tier(summary.Score)

	c.logger.Debug("fetched %s: score=%d tier=%s", handle, summary.Score, summary.Tier)
	return summary, nil
}

func (c *Client) fetchPractice(ctx context.Context, handle string) (*practiceResponse, error) {
	body, err := json.Marshal(map[string]string{"handle": handle})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.practiceURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out practiceResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		// the service answered; a non-success status is its way of
		// saying the handle does not exist
		return nil, errors.Wrapf(ErrHandleNotFound, "handle %q", handle)
	}
	return &out, nil
}

func (c *Client) fetchCommunity(ctx context.Context, handle string) (*communityResponse, error) {
	u := fmt.Sprintf("%s/%s/?%s", c.communityURL, url.PathEscape(handle),
		url.Values{"fetch_type": {"posts"}, "page": {"1"}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out communityResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s %s", req.Method, req.URL), ErrUnreachable)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.Mark(errors.Newf("%s %s: status %d", req.Method, req.URL, resp.StatusCode), ErrUnreachable)
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "reading response"), ErrUnreachable)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return errors.Mark(errors.Wrap(err, "decoding response"), ErrUnreachable)
	}
	return nil
}
