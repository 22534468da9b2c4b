package orcid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"golang.org/x/time/rate"

	"github.com/wetneb/dissemin/internal/ident"
	"github.com/wetneb/dissemin/internal/resilience"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// RateLimit is the default request rate, below the public API quota.
	RateLimit = 10.0

	// WorksBatchSize is the number of put-codes fetched per bulk request.
	WorksBatchSize = 25

	mediaType = "application/orcid+json"
)

// APIURL returns the public API base URL of an instance.
func APIURL(instance string) string {
	return "https://pub." + instance + "/v2.1"
}

// WorkFetcher returns the full works of a profile by put-code.
type WorkFetcher interface {
	FetchWorks(ctx context.Context, p *Profile, putCodes []int64) ([]Work, error)
}

// Client reads profiles and works from the ORCID public API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
	logger     *slog.Logger

	instance   string
	baseURL    string
	sandboxURL string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithInstance selects the registry instance and its API URL.
func WithInstance(instance string) ClientOption {
	return func(c *Client) {
		c.instance = instance
		c.baseURL = APIURL(instance)
	}
}

// WithBaseURL overrides the API URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithSandboxURL overrides the API URL used for the sandbox fallback.
func WithSandboxURL(url string) ClientOption {
	return func(c *Client) {
		c.sandboxURL = strings.TrimRight(url, "/")
	}
}

// WithRateLimit sets the number of requests per second.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithExecutor sets the retry and circuit breaker policy.
func WithExecutor(e *resilience.Executor) ClientOption {
	return func(c *Client) {
		c.executor = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the production instance unless told
// otherwise.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(RateLimit), 1),
		instance:   ProductionInstance,
		baseURL:    APIURL(ProductionInstance),
		sandboxURL: APIURL(SandboxInstance),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.executor == nil {
		c.executor = resilience.NewExecutor(resilience.DefaultConfig(), c.logger)
	}
	return c
}

// Instance returns the registry instance the client reads from.
func (c *Client) Instance() string {
	return c.instance
}

// FetchProfile fetches the summary record of id. A production lookup that
// returns no identifier is retried on the sandbox.
func (c *Client) FetchProfile(ctx context.Context, id string) (*Profile, error) {
	orcid, ok := ident.ValidateORCID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidORCID, id)
	}

	p, err := c.fetchProfile(ctx, c.baseURL, orcid)
	if err == nil {
		p.Instance = c.instance
		return p, nil
	}
	if !errors.Is(err, ErrInvalidProfile) || c.instance != ProductionInstance {
		return nil, err
	}

	c.logger.Info("profile not found on production, trying sandbox", "orcid", orcid)
	p, err = c.fetchProfile(ctx, c.sandboxURL, orcid)
	if err != nil {
		if errors.Is(err, ErrInvalidProfile) {
			return nil, fmt.Errorf("%w: %s could not be found", ErrNotFound, orcid)
		}
		return nil, err
	}
	p.Instance = SandboxInstance
	return p, nil
}

func (c *Client) fetchProfile(ctx context.Context, base, orcid string) (*Profile, error) {
	body, err := c.get(ctx, base+"/"+orcid+"/")
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, orcid)
		}
		return nil, err
	}
	return ParseProfile(body)
}

// FetchWorks fetches full works in batches of WorksBatchSize. Works missing
// from a batch response are left out.
func (c *Client) FetchWorks(ctx context.Context, p *Profile, putCodes []int64) ([]Work, error) {
	base := c.baseURL
	if p.Instance == SandboxInstance && c.instance != SandboxInstance {
		base = c.sandboxURL
	}

	var works []Work
	for start := 0; start < len(putCodes); start += WorksBatchSize {
		end := min(start+WorksBatchSize, len(putCodes))
		codes := make([]string, 0, end-start)
		for _, pc := range putCodes[start:end] {
			codes = append(codes, strconv.FormatInt(pc, 10))
		}

		body, err := c.get(ctx, fmt.Sprintf("%s/%s/works/%s", base, p.ID, strings.Join(codes, ",")))
		if err != nil {
			return works, fmt.Errorf("fetching works of %s: %w", p.ID, err)
		}
		batch, err := parseBulk(body)
		if err != nil {
			return works, err
		}
		works = append(works, batch...)
	}
	return works, nil
}

// parseBulk reads the "bulk" array of a works response. Entries without a
// work (errors for deleted put-codes) are dropped.
func parseBulk(body []byte) ([]Work, error) {
	var resp struct {
		Bulk []struct {
			Work json.RawMessage `json:"work"`
		} `json:"bulk"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	works := make([]Work, 0, len(resp.Bulk))
	for _, item := range resp.Bulk {
		if len(item.Work) == 0 || string(item.Work) == "null" {
			continue
		}
		w, err := ParseJSONWork(item.Work)
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return works, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.executor.Execute(ctx, "orcid.get", func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", mediaType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetworkError, err)
		}
		defer resp.Body.Close()

		if err := checkHTTPErrors(resp, url); err != nil {
			return err
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)
		}
		return nil
	}, classify)
	return body, err
}

func checkHTTPErrors(resp *http.Response, url string) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, URL: url}
	}
	return nil
}

// classify retries throttling, network failures and server errors. Missing
// profiles do not count against the breaker.
func classify(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if IsRateLimited(err) || errors.Is(err, ErrNetworkError) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}
	return resilience.PermanentClassifier(err)
}
