package crossref

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sethgrid/pester"
	"golang.org/x/time/rate"

	"github.com/wetneb/dissemin/internal/ident"
)

const (
	// DefaultBaseURL is the Crossref REST API.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultTimeout bounds a single request; Crossref is sometimes slow.
	DefaultTimeout = 15 * time.Second

	// RateLimit is the default request rate.
	RateLimit = 10.0

	// BatchSize is the number of DOIs per filter query.
	BatchSize = 25

	citeprocType = "application/citeproc+json"
)

// MetadataSource resolves DOIs to citeproc metadata.
type MetadataSource interface {
	FetchByDOI(ctx context.Context, doi string) (*Metadata, error)
	FetchBatch(ctx context.Context, dois []string) ([]*Metadata, error)
}

// Client reads DOI metadata from the Crossref API, falling back to content
// negotiation on a DOI proxy for DOIs the API does not return.
type Client struct {
	http    *pester.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	baseURL  string
	proxyURL string
	mailto   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPester sets the retrying HTTP client.
func WithPester(pc *pester.Client) ClientOption {
	return func(c *Client) {
		c.http = pc
	}
}

// WithBaseURL overrides the API URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithProxyURL enables content negotiation through a DOI proxy.
func WithProxyURL(u string) ClientOption {
	return func(c *Client) {
		c.proxyURL = strings.TrimRight(u, "/")
	}
}

// WithMailto identifies the caller for the polite pool.
func WithMailto(mailto string) ClientOption {
	return func(c *Client) {
		c.mailto = mailto
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

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewPester returns a retrying HTTP client with exponential backoff.
func NewPester(maxRetries int, timeout time.Duration) *pester.Client {
	pc := pester.New()
	pc.Backoff = pester.ExponentialBackoff
	pc.MaxRetries = maxRetries
	pc.RetryOnHTTP429 = true
	pc.Timeout = timeout
	return pc
}

// NewClient creates a client for the public Crossref API.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		limiter: rate.NewLimiter(rate.Limit(RateLimit), 1),
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewPester(3, DefaultTimeout)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// FetchByDOI returns the metadata of one DOI, through the proxy when one is
// configured and from the works endpoint otherwise.
func (c *Client) FetchByDOI(ctx context.Context, doi string) (*Metadata, error) {
	clean := ident.CleanDOI(doi)
	if clean == "" {
		return nil, fmt.Errorf("%w: invalid DOI %q", ErrNotFound, doi)
	}

	if c.proxyURL != "" {
		body, err := c.get(ctx, c.proxyURL+"/"+clean, citeprocType)
		if err != nil {
			return nil, err
		}
		m, err := ParseMetadata(body)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnavailable, clean, err)
		}
		return m, nil
	}

	body, err := c.get(ctx, c.withMailto(c.baseURL+"/works/"+url.PathEscape(clean)), "application/json")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Message *Metadata `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Message == nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnavailable, clean, err)
	}
	return resp.Message, nil
}

// FetchBatch returns the metadata of dois, aligned with the input. DOIs the
// API does not know are resolved one by one through the proxy; those still
// missing are nil.
func (c *Client) FetchBatch(ctx context.Context, dois []string) ([]*Metadata, error) {
	results := make([]*Metadata, len(dois))
	for start := 0; start < len(dois); start += BatchSize {
		end := min(start+BatchSize, len(dois))
		found, err := c.fetchFiltered(ctx, dois[start:end])
		if err != nil {
			return results, err
		}
		for i := start; i < end; i++ {
			clean := ident.CleanDOI(dois[i])
			if m, ok := found[clean]; ok {
				results[i] = m
				continue
			}
			if c.proxyURL == "" || clean == "" {
				continue
			}
			m, err := c.FetchByDOI(ctx, clean)
			if err != nil {
				if !IsNotFound(err) {
					c.logger.Warn("DOI lookup failed", "doi", clean, "error", err)
				}
				continue
			}
			results[i] = m
		}
	}
	return results, nil
}

// fetchFiltered queries the works endpoint with a doi filter and indexes
// the items by cleaned DOI.
func (c *Client) fetchFiltered(ctx context.Context, dois []string) (map[string]*Metadata, error) {
	filters := make([]string, 0, len(dois))
	for _, d := range dois {
		if clean := ident.CleanDOI(d); clean != "" {
			filters = append(filters, "doi:"+clean)
		}
	}
	found := make(map[string]*Metadata, len(filters))
	if len(filters) == 0 {
		return found, nil
	}

	q := url.Values{}
	q.Set("filter", strings.Join(filters, ","))
	q.Set("rows", fmt.Sprint(len(filters)))
	body, err := c.get(ctx, c.withMailto(c.baseURL+"/works?"+q.Encode()), "application/json")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Message struct {
			Items []*Metadata `json:"items"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding batch: %v", ErrUnavailable, err)
	}
	for _, m := range resp.Message.Items {
		if m == nil {
			continue
		}
		if clean := ident.CleanDOI(m.DOI); clean != "" {
			found[clean] = m
		}
	}
	return found, nil
}

func (c *Client) withMailto(u string) string {
	if c.mailto == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "mailto=" + url.QueryEscape(c.mailto)
}

func (c *Client) get(ctx context.Context, u, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: u}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}
	return body, nil
}
