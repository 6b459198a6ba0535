// Package soda retrieves recently-updated rows from a Socrata dataset
// endpoint using offset pagination.
package soda

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-soda-watch/models"
	"github.com/aluiziolira/go-soda-watch/parser"
	"github.com/gocolly/colly/v2"
)

const (
	// DefaultTimeout bounds each page request.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "go-soda-watch/1.0"
	cutoffLayout     = "2006-01-02T15:04:05Z"
	updatedAtField   = ":updated_at"
)

// Client fetches pages from https://<domain>/resource/<dataset>.json. Pages
// are requested one at a time; a Client is not safe for concurrent fetches.
type Client struct {
	domain    string
	datasetID string
	appToken  string
	collector *colly.Collector
	now       func() time.Time
	Metrics   *Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.collector.SetRequestTimeout(d)
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every page request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.collector.UserAgent = ua
		}
	}
}

// WithAppToken sends a Socrata application token with every request.
func WithAppToken(token string) Option {
	return func(c *Client) {
		c.appToken = token
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.collector.WithTransport(rt)
	}
}

// WithClock replaces the time source used for the cutoff.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records request and row counters on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.Metrics = m
	}
}

// NewClient builds a client bound to one dataset on one host.
func NewClient(domain, datasetID string, opts ...Option) (*Client, error) {
	domain = strings.TrimSpace(domain)
	datasetID = strings.TrimSpace(datasetID)
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}
	if datasetID == "" {
		return nil, fmt.Errorf("dataset id cannot be empty")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(defaultUserAgent),
	)
	// 0 lifts colly's body size cap; pages are buffered whole.
	collector.MaxBodySize = 0
	// Statuses are checked in fetchPage; colly would reject any 2xx above 202.
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	collector.SetRequestTimeout(DefaultTimeout)

	c := &Client{
		domain:    domain,
		datasetID: datasetID,
		collector: collector,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ResourceURL is the dataset endpoint without query parameters.
func (c *Client) ResourceURL() string {
	u := url.URL{
		Scheme: "https",
		Host:   c.domain,
		Path:   "/resource/" + c.datasetID + ".json",
	}
	return u.String()
}

// Cutoff returns now minus lookbackHours in UTC, second precision, with a
// literal Z suffix.
func Cutoff(now time.Time, lookbackHours int) string {
	since := now.UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	return since.Truncate(time.Second).Format(cutoffLayout)
}

// PageQuery builds the SoQL parameters for one page.
func PageQuery(cutoff string, limit, offset int) url.Values {
	params := url.Values{}
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$offset", strconv.Itoa(offset))
	params.Set("$where", fmt.Sprintf("%s >= '%s'", updatedAtField, cutoff))
	params.Set("$order", updatedAtField+" ASC")
	return params
}

// FetchUpdatedSince returns every row updated within the last lookbackHours,
// reading at most maxPages pages of pageLimit rows. A short page ends the
// scan early. Any failed page fails the whole call and no rows are returned.
func (c *Client) FetchUpdatedSince(ctx context.Context, lookbackHours, pageLimit, maxPages int) ([]models.Row, error) {
	if lookbackHours <= 0 {
		return nil, fmt.Errorf("lookback hours must be positive")
	}
	if pageLimit <= 0 {
		return nil, fmt.Errorf("page limit must be positive")
	}
	if maxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive")
	}

	cutoff := Cutoff(c.now(), lookbackHours)
	all := make([]models.Row, 0)
	offset := 0

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		rows, err := c.fetchPage(PageQuery(cutoff, pageLimit, offset))
		if err != nil {
			c.Metrics.IncError(errorTypeLabel(err))
			slog.Error("page request failed",
				slog.String("dataset_id", c.datasetID),
				slog.Int("page", page),
				slog.Int("offset", offset),
				slog.Any("error", err),
			)
			return nil, err
		}

		all = append(all, rows...)
		slog.Debug("page fetched",
			slog.String("dataset_id", c.datasetID),
			slog.Int("page", page),
			slog.Int("offset", offset),
			slog.Int("rows", len(rows)),
		)

		if len(rows) < pageLimit {
			break
		}
		offset += pageLimit
	}

	return all, nil
}

func (c *Client) fetchPage(params url.Values) ([]models.Row, error) {
	target := c.ResourceURL() + "?" + params.Encode()

	// A clone shares the transport and timeout but carries its own callbacks.
	collector := c.collector.Clone()

	var (
		body   []byte
		status int
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		if c.appToken != "" {
			r.Headers.Set("X-App-Token", c.appToken)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	err := collector.Visit(target)
	c.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		c.Metrics.IncRequest("error")
		return nil, newHTTPError(target, status, err)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		c.Metrics.IncRequest("error")
		return nil, newHTTPError(target, status, nil)
	}
	c.Metrics.IncRequest("success")

	rows, err := parser.DecodePage(body)
	if err != nil {
		return nil, err
	}
	c.Metrics.AddPage(len(rows))
	return rows, nil
}
