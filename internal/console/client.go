// Package console is the client for the call-report API behind the gateway:
// a metadata probe, paginated call listings, and per-call conversation
// fetches, with bounded concurrent page fan-out.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skit-ai/callsample/internal/model"
	"github.com/skit-ai/callsample/internal/retry"
)

const (
	callsRoute = "/call_report/calls/"
	turnsRoute = "/call_report/calls/%s/"
)

// Tag filter values accepted by the listing route.
const (
	TagAll      = "all"
	TagReported = "reported"
	TagResolved = "resolved"
)

// DefaultIgnoredCallers are system-generated pings, never useful in samples.
var DefaultIgnoredCallers = []string{"ev-connect", "0000000000"}

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the API gateway.
	BaseURL string

	// Token is the bearer token sent on every request.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used. The client spans the whole
	// sampling run.
	HTTPClient *http.Client

	// PageConcurrency caps simultaneous page fetches. Defaults to 8.
	PageConcurrency int

	// PageRetries bounds attempts per page request. Defaults to 3.
	PageRetries int

	Logger *slog.Logger
}

// Client fetches call listings and conversations. All methods are safe for
// concurrent use.
type Client struct {
	baseURL     string
	token       string
	client      *http.Client
	concurrency int
	retries     int
	logger      *slog.Logger
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("console: BaseURL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("console: Token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	concurrency := cfg.PageConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	retries := cfg.PageRetries
	if retries <= 0 {
		retries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		client:      httpClient,
		concurrency: concurrency,
		retries:     retries,
		logger:      logger,
	}, nil
}

// TagFilter maps the reported/resolved flags onto the listing route's tab
// parameter. Asking for both means no preference, i.e. all calls.
func TagFilter(reported, resolved bool) string {
	switch {
	case reported && !resolved:
		return TagReported
	case resolved && !reported:
		return TagResolved
	default:
		return TagAll
	}
}

// Filter bundles the listing query constraints. Built once per sampling
// invocation and passed by value.
type Filter struct {
	Start             string
	End               string
	LangCode          string
	CallType          string
	IgnoredCallers    []string
	Reported          bool
	Resolved          bool
	CustomSearchKey   string
	CustomSearchValue string
	PageSize          int
}

func (f Filter) values() url.Values {
	v := url.Values{}
	v.Set("start", f.Start)
	v.Set("end", f.End)
	v.Set("lang_code", f.LangCode)
	v.Set("call_type", f.CallType)
	v.Set("tab", TagFilter(f.Reported, f.Resolved))
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 1
	}
	v.Set("page_size", strconv.Itoa(pageSize))
	callers := f.IgnoredCallers
	if callers == nil {
		callers = DefaultIgnoredCallers
	}
	for _, caller := range callers {
		v.Add("ignored_caller_numbers", caller)
	}
	if f.CustomSearchKey != "" {
		v.Set("custom_search_key", f.CustomSearchKey)
		v.Set("custom_search_value", f.CustomSearchValue)
	}
	return v
}

// Metadata describes the listing's current pagination state.
type Metadata struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// Metadata probes the listing with a single-item page to learn the current
// page position and totals.
func (c *Client) Metadata(ctx context.Context, f Filter) (Metadata, error) {
	f.PageSize = 1
	var meta Metadata
	if err := c.get(ctx, callsRoute, f.values(), &meta); err != nil {
		return Metadata{}, fmt.Errorf("console: metadata probe: %w", err)
	}
	if meta.Page == 0 {
		meta.Page = 1
	}
	return meta, nil
}

type pageResponse struct {
	Items []map[string]any `json:"items"`
}

type callResponse struct {
	Conversations []map[string]any `json:"conversations"`
}

// Page fetches one page of call items.
func (c *Client) Page(ctx context.Context, f Filter, page int) ([]map[string]any, error) {
	params := f.values()
	params.Set("page", strconv.Itoa(page))
	var resp pageResponse
	if err := c.get(ctx, callsRoute, params, &resp); err != nil {
		return nil, fmt.Errorf("console: page %d: %w", page, err)
	}
	return resp.Items, nil
}

// Conversations fetches the turn sub-records for one call.
func (c *Client) Conversations(ctx context.Context, callUUID string) ([]map[string]any, error) {
	var resp callResponse
	route := fmt.Sprintf(turnsRoute, url.PathEscape(callUUID))
	if err := c.get(ctx, route, nil, &resp); err != nil {
		return nil, fmt.Errorf("console: call %s: %w", callUUID, err)
	}
	return resp.Conversations, nil
}

// InflateCall attaches a call item's conversations and flattens them into
// raw turns. Conversations already present on the item are used as-is;
// otherwise a nested round trip fetches them. Conversations missing a uuid
// are skipped (integrity failure is recoverable at this level) and counted
// in skipped; the raw "uuid" and "conversations" keys never appear in the
// output.
func (c *Client) InflateCall(ctx context.Context, item map[string]any) (turns []model.RawTurn, skipped int, err error) {
	callUUID, _ := item["uuid"].(string)
	if callUUID == "" {
		c.logger.Warn("skipping call item without uuid")
		return nil, 1, nil
	}

	conversations, ok := item["conversations"].([]any)
	if !ok || len(conversations) == 0 {
		fetched, err := c.Conversations(ctx, callUUID)
		if err != nil {
			return nil, 0, err
		}
		conversations = make([]any, len(fetched))
		for i, conv := range fetched {
			conversations[i] = conv
		}
	}

	turns = make([]model.RawTurn, 0, len(conversations))
	for _, element := range conversations {
		conv, ok := element.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		raw, err := model.RawFromAPI(item, conv)
		if err != nil {
			var integrity *model.RecordIntegrityError
			if errors.As(err, &integrity) {
				c.logger.Warn("skipping conversation with integrity failure",
					"call_uuid", callUUID, "field", integrity.Field)
				skipped++
				continue
			}
			return nil, skipped, err
		}
		turns = append(turns, raw)
	}
	return turns, skipped, nil
}

// FetchPages fetches and inflates the planned pages concurrently through a
// bounded worker pool, invoking handle once per completed page with that
// page's turns and integrity-skip count. Handle calls are serialized by the
// errgroup semantics only per goroutine; callers must make handle safe for
// concurrent use. Page completion order is unordered: callers must not
// assume a global record order.
func (c *Client) FetchPages(ctx context.Context, f Filter, pages []int, handle func(page int, turns []model.RawTurn, skipped int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, page := range pages {
		g.Go(func() error {
			items, err := c.Page(ctx, f, page)
			if err != nil {
				return err
			}
			var turns []model.RawTurn
			skipped := 0
			for _, item := range items {
				inflated, dropped, err := c.InflateCall(ctx, item)
				if err != nil {
					return err
				}
				turns = append(turns, inflated...)
				skipped += dropped
			}
			return handle(page, turns, skipped)
		})
	}
	return g.Wait()
}

// FetchTurns gathers all planned pages and concatenates their turns in
// completion order, returning the total integrity-skip count alongside.
func (c *Client) FetchTurns(ctx context.Context, f Filter, pages []int) ([]model.RawTurn, int, error) {
	var (
		mu      sync.Mutex
		turns   []model.RawTurn
		skipped int
	)
	err := c.FetchPages(ctx, f, pages, func(_ int, pageTurns []model.RawTurn, pageSkipped int) error {
		mu.Lock()
		defer mu.Unlock()
		turns = append(turns, pageTurns...)
		skipped += pageSkipped
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return turns, skipped, nil
}

// get performs one GET with bearer auth and bounded retries on transient
// failures. Non-2xx responses other than 5xx propagate immediately.
func (c *Client) get(ctx context.Context, route string, params url.Values, out any) error {
	target := c.baseURL + route
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	policy := retry.Policy{
		MaxAttempts: c.retries,
		Delay:       2 * time.Second,
		Retryable:   transientHTTP,
		Logger:      c.logger,
	}
	return policy.Do(ctx, "GET "+route, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode/100 != 2 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &statusError{Code: resp.StatusCode, Body: string(body)}
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("console: unexpected status %d: %s", e.Code, e.Body)
}

func transientHTTP(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}
	return retry.ConnectionError(err)
}
