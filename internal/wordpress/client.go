package wordpress

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiRoot   = "/wp-json"
	namespace = "/wp/v2"

	defaultTimeout = 30 * time.Second
)

// Option overrides default settings on a Client.
type Option func(*Client)

// Client talks to the WordPress REST API of one site. A zero credential
// client operates in public mode and can only see published content.
type Client struct {
	baseURL    string
	authHeader string
	http       *http.Client
	insecure   bool
}

// WithBasicAuth sets the Authorization header from username and password.
// WordPress application passwords use the same Basic scheme.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		if username != "" && password != "" {
			creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
			c.authHeader = "Basic " + creds
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify() Option {
	return func(c *Client) { c.insecure = true }
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient returns a Client for the site at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.insecure {
		c.http.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return c
}

// Public returns a copy of the client with credentials stripped, for
// degrading to public-only access after an auth rejection.
func (c *Client) Public() *Client {
	cp := *c
	cp.authHeader = ""
	return &cp
}

// Authenticated reports whether the client sends credentials.
func (c *Client) Authenticated() bool { return c.authHeader != "" }

// SiteIndex is the discovery document served at /wp-json/.
type SiteIndex struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Routes      map[string]json.RawMessage `json:"routes"`
}

// DiscoverEndpoints fetches the REST index, which doubles as the
// connectivity and credential check.
func (c *Client) DiscoverEndpoints(ctx context.Context) (*SiteIndex, error) {
	body, err := c.get(ctx, apiRoot+"/", nil)
	if err != nil {
		return nil, err
	}
	var idx SiteIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("decode site index: %w", err)
	}
	return &idx, nil
}

// Settings fetches the site settings. Requires authentication on
// virtually every site.
func (c *Client) Settings(ctx context.Context) (Record, error) {
	body, err := c.get(ctx, apiRoot+namespace+"/settings", nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return rec, nil
}

// Collection returns the endpoint client for a built-in collection
// (posts, pages, media, categories, tags, comments, users).
func (c *Client) Collection(name string) *Endpoint {
	return &Endpoint{client: c, slug: name}
}

// CustomType returns the endpoint client for a custom post type by slug.
func (c *Client) CustomType(slug string) *Endpoint {
	return &Endpoint{client: c, slug: slug}
}

// Endpoint is the list/get client for one collection.
type Endpoint struct {
	client *Client
	slug   string
}

// Slug returns the collection slug this endpoint serves.
func (e *Endpoint) Slug() string { return e.slug }

// ListParams narrow a list call. Zero values are omitted from the query.
type ListParams struct {
	Page    int
	PerPage int
	Status  string
}

// List fetches one page of records.
func (e *Endpoint) List(ctx context.Context, p ListParams) ([]Record, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	body, err := e.client.get(ctx, apiRoot+namespace+"/"+e.slug, q)
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := json.Unmarshal(body, &recs); err != nil {
		return nil, fmt.Errorf("decode %s page: %w", e.slug, err)
	}
	return recs, nil
}

// Meta returns the per-record custom-field client for this collection.
func (e *Endpoint) Meta() *MetaClient {
	return &MetaClient{endpoint: e}
}

// MetaClient reads the registered custom fields of single records.
type MetaClient struct {
	endpoint *Endpoint
}

// GetAll fetches the meta map of one record. WordPress only exposes meta in
// the edit context, so this needs authentication.
func (m *MetaClient) GetAll(ctx context.Context, id int64) (map[string]any, error) {
	q := url.Values{}
	q.Set("context", "edit")
	path := fmt.Sprintf("%s%s/%s/%d", apiRoot, namespace, m.endpoint.slug, id)
	body, err := m.endpoint.client.get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	var rec struct {
		Meta map[string]any `json:"meta"`
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode %s meta: %w", m.endpoint.slug, err)
	}
	return rec.Meta, nil
}

// get performs a GET and maps error responses onto the package error
// taxonomy. Transport failures come back wrapped but un-classified; callers
// treat everything that is not a sentinel as a generic transient error.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classify(resp.StatusCode, body)
}

// classify maps a non-2xx response to the error taxonomy.
func classify(status int, body []byte) error {
	var wpErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &wpErr)

	switch {
	case status == http.StatusNotFound || wpErr.Code == "rest_no_route":
		return fmt.Errorf("%s: %w", nonEmpty(wpErr.Message, "no route"), ErrNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w", nonEmpty(wpErr.Message, "access refused"), ErrPermissionDenied)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", nonEmpty(wpErr.Message, "too many requests"), ErrRateLimited)
	default:
		return &APIError{StatusCode: status, Code: wpErr.Code, Message: wpErr.Message}
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
