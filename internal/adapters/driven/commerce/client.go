package commerce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

const (
	defaultAPIVersion = "2024-01"
	maxPageSize       = 250
	accessTokenHeader = "X-Shopify-Access-Token"
)

// Config contains configuration for the commerce API client.
type Config struct {
	// BaseURL overrides the per-tenant https://<shop_domain> origin.
	// Used for proxies and tests.
	BaseURL string

	// APIVersion is the dated REST API version.
	APIVersion string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// RequestsPerSecond and Burst shape the per-shop rate limiter.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries is how many times a 429, 5xx or network failure is retried.
	MaxRetries int

	// RetryInitialInterval is the first backoff delay. It doubles per retry.
	RetryInitialInterval time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		APIVersion:           defaultAPIVersion,
		Timeout:              30 * time.Second,
		RequestsPerSecond:    2,
		Burst:                4,
		MaxRetries:           4,
		RetryInitialInterval: 500 * time.Millisecond,
	}
}

// Client fetches paged entity lists from the commerce REST API.
// Each shop gets its own token bucket so one busy tenant cannot starve others.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a new commerce API client.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Source binds the client to one entity type.
func (c *Client) Source(entity domain.EntityType) driven.PageSource {
	return &entitySource{client: c, entity: entity}
}

// Verify interface compliance
var _ driven.PageSource = (*entitySource)(nil)

type entitySource struct {
	client *Client
	entity domain.EntityType
}

func (s *entitySource) FetchPage(ctx context.Context, tenant *domain.Tenant, req domain.PageRequest) (*domain.Page, error) {
	return s.client.FetchPage(ctx, tenant, s.entity, req)
}

// FetchPage retrieves one page of an entity list.
//
// A cursor continues a previous listing and carries its own filters, so it
// is sent alone. Without one the listing starts after SinceID.
func (c *Client) FetchPage(ctx context.Context, tenant *domain.Tenant, entity domain.EntityType, req domain.PageRequest) (*domain.Page, error) {
	if tenant.Credentials == nil || tenant.Credentials.AccessToken == "" {
		return nil, fmt.Errorf("%w: tenant %s has no access token", domain.ErrInvalidCredentials, tenant.ID)
	}

	endpoint, err := c.pageURL(tenant, entity, req)
	if err != nil {
		return nil, err
	}

	limiter := c.limiter(tenant.ShopDomain)
	op := func() (*domain.Page, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return c.get(ctx, endpoint, tenant.Credentials.AccessToken, entity)
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.cfg.MaxRetries > 0 {
		// WithMaxRetries treats zero as unlimited
		b = backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.cfg.RetryInitialInterval),
			backoff.WithMaxElapsedTime(0),
		), uint64(c.cfg.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("commerce request failed, retrying",
			"tenant_id", tenant.ID,
			"entity_type", entity,
			"wait", wait,
			"error", err)
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}

func (c *Client) pageURL(tenant *domain.Tenant, entity domain.EntityType, req domain.PageRequest) (string, error) {
	base := c.cfg.BaseURL
	if base == "" {
		if tenant.ShopDomain == "" {
			return "", fmt.Errorf("%w: tenant %s has no shop domain", domain.ErrInvalidInput, tenant.ID)
		}
		base = "https://" + tenant.ShopDomain
	}

	limit := req.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if req.Cursor != "" {
		q.Set("page_info", req.Cursor)
	} else {
		if req.SinceID > 0 {
			q.Set("since_id", strconv.FormatInt(req.SinceID, 10))
		}
		if entity == domain.EntityOrders {
			// Default listing hides closed and cancelled orders
			q.Set("status", "any")
		}
	}

	return fmt.Sprintf("%s/admin/api/%s/%s.json?%s", base, c.cfg.APIVersion, entity, q.Encode()), nil
}

func (c *Client) get(ctx context.Context, endpoint, token string, entity domain.EntityType) (*domain.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set(accessTokenHeader, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domain.ErrUpstream, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d", domain.ErrInvalidCredentials, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, truncate(body, 200)))
	}

	page, err := parsePage(body, string(entity))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if next := nextPageInfo(resp.Header.Values("Link")); next != "" {
		page.NextCursor = next
		page.HasMore = true
	}
	return page, nil
}

// parsePage extracts the records under the entity's root key
func parsePage(body []byte, root string) (*domain.Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not valid JSON", domain.ErrUpstream)
	}
	list := gjson.GetBytes(body, root)
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: response has no %q array", domain.ErrUpstream, root)
	}

	page := &domain.Page{}
	var bad error
	list.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id")
		if id.Type != gjson.Number || id.Int() <= 0 {
			bad = fmt.Errorf("%w: %s item without numeric id", domain.ErrUpstream, root)
			return false
		}
		page.Records = append(page.Records, domain.Record{
			ExternalID: id.Int(),
			Raw:        []byte(item.Raw),
		})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return page, nil
}

// nextPageInfo returns the page_info of the rel="next" link, if any.
//
//	Link: <https://shop/admin/api/2024-01/orders.json?limit=250&page_info=abc>; rel="next"
func nextPageInfo(headers []string) string {
	for _, header := range headers {
		for _, part := range strings.Split(header, ",") {
			segs := strings.Split(part, ";")
			if len(segs) < 2 {
				continue
			}
			isNext := false
			for _, param := range segs[1:] {
				if strings.TrimSpace(param) == `rel="next"` {
					isNext = true
				}
			}
			if !isNext {
				continue
			}
			raw := strings.Trim(strings.TrimSpace(segs[0]), "<>")
			u, err := url.Parse(raw)
			if err != nil {
				continue
			}
			return u.Query().Get("page_info")
		}
	}
	return ""
}

func (c *Client) limiter(shop string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[shop]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.Burst)
		c.limiters[shop] = l
	}
	return l
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
