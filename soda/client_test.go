package soda

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-soda-watch/models"
	"github.com/aluiziolira/go-soda-watch/parser"
	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const resourceURL = "https://data.texas.gov/resource/qh8x-rm8r.json"

var fixedNow = time.Date(2026, 2, 24, 12, 34, 56, 789_000_000, time.UTC)

type recordedCall struct {
	offset int
	limit  int
	where  string
	order  string
	header http.Header
}

type callRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (cr *callRecorder) record(req *http.Request) recordedCall {
	q := req.URL.Query()
	offset, _ := strconv.Atoi(q.Get("$offset"))
	limit, _ := strconv.Atoi(q.Get("$limit"))
	call := recordedCall{
		offset: offset,
		limit:  limit,
		where:  q.Get("$where"),
		order:  q.Get("$order"),
		header: req.Header.Clone(),
	}
	cr.mu.Lock()
	cr.calls = append(cr.calls, call)
	cr.mu.Unlock()
	return call
}

func (cr *callRecorder) offsets() []int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	out := make([]int, len(cr.calls))
	for i, c := range cr.calls {
		out[i] = c.offset
	}
	return out
}

func jsonResponse(status int, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

// idRows renders n rows with ids starting at first.
func idRows(first, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf(`{"id":%d}`, first+i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func newTestClient(t *testing.T, responder httpmock.Responder, opts ...Option) *Client {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", resourceURL, responder)

	opts = append([]Option{WithTransport(transport), WithClock(func() time.Time { return fixedNow })}, opts...)
	c, err := NewClient("data.texas.gov", "qh8x-rm8r", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func rowStrings(rows []models.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r)
	}
	return out
}

func TestResourceURL(t *testing.T) {
	c, err := NewClient("  data.texas.gov ", " qh8x-rm8r ")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := c.ResourceURL(); got != resourceURL {
		t.Fatalf("ResourceURL = %q, want %q", got, resourceURL)
	}
}

func TestNewClientRejectsEmptyIdentifiers(t *testing.T) {
	if _, err := NewClient("", "qh8x-rm8r"); err == nil {
		t.Fatalf("expected error for empty domain")
	}
	if _, err := NewClient("data.texas.gov", "  "); err == nil {
		t.Fatalf("expected error for empty dataset id")
	}
}

func TestCutoff(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		lookback int
		want     string
	}{
		{name: "drops sub-second precision", now: fixedNow, lookback: 24, want: "2026-02-23T12:34:56Z"},
		{name: "crosses month boundary", now: time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC), lookback: 2, want: "2026-02-28T23:00:00Z"},
		{name: "converts to utc", now: time.Date(2026, 2, 24, 6, 0, 0, 0, time.FixedZone("CST", -6*60*60)), lookback: 1, want: "2026-02-24T11:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cutoff(tt.now, tt.lookback); got != tt.want {
				t.Fatalf("Cutoff = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchSinglePageStopsWhenShort(t *testing.T) {
	rec := &callRecorder{}
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		rec.record(req)
		return jsonResponse(http.StatusOK, `[{"id":1},{"id":2}]`), nil
	}, WithAppToken("secret-token"))

	rows, err := c.FetchUpdatedSince(context.Background(), 24, 1000, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff([]string{`{"id":1}`, `{"id":2}`}, rowStrings(rows)); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(rec.calls))
	}

	call := rec.calls[0]
	if call.limit != 1000 || call.offset != 0 {
		t.Fatalf("limit/offset = %d/%d, want 1000/0", call.limit, call.offset)
	}
	if want := ":updated_at >= '2026-02-23T12:34:56Z'"; call.where != want {
		t.Fatalf("$where = %q, want %q", call.where, want)
	}
	if call.order != ":updated_at ASC" {
		t.Fatalf("$order = %q", call.order)
	}
	if got := call.header.Get("Accept"); got != "application/json" {
		t.Fatalf("Accept = %q", got)
	}
	if got := call.header.Get("X-App-Token"); got != "secret-token" {
		t.Fatalf("X-App-Token = %q", got)
	}
}

func TestFetchPaginatesAndIncrementsOffset(t *testing.T) {
	rec := &callRecorder{}
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		call := rec.record(req)
		switch call.offset {
		case 0:
			return jsonResponse(http.StatusOK, `[{"id":1},{"id":2}]`), nil
		case 2:
			return jsonResponse(http.StatusOK, `[{"id":3}]`), nil
		default:
			return jsonResponse(http.StatusOK, `[]`), nil
		}
	})

	rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff([]string{`{"id":1}`, `{"id":2}`, `{"id":3}`}, rowStrings(rows)); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 2}, rec.offsets()); diff != "" {
		t.Fatalf("offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchRespectsMaxPages(t *testing.T) {
	rec := &callRecorder{}
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		call := rec.record(req)
		return jsonResponse(http.StatusOK, idRows(call.offset+1, 2)), nil
	})

	rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("rows = %d, want 6", len(rows))
	}
	if diff := cmp.Diff([]int{0, 2, 4}, rec.offsets()); diff != "" {
		t.Fatalf("offsets mismatch (-want +got):\n%s", diff)
	}
	if got := string(rows[5]); got != `{"id":6}` {
		t.Fatalf("last row = %s, want id 6", got)
	}
}

func TestFetchEmptyPageAfterFullPages(t *testing.T) {
	rec := &callRecorder{}
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		call := rec.record(req)
		if call.offset >= 4 {
			return jsonResponse(http.StatusOK, `[]`), nil
		}
		return jsonResponse(http.StatusOK, idRows(call.offset+1, 2)), nil
	})

	rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if diff := cmp.Diff([]int{0, 2, 4}, rec.offsets()); diff != "" {
		t.Fatalf("offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchRaisesOnNonListJSON(t *testing.T) {
	c := newTestClient(t, httpmock.ResponderFromResponse(jsonResponse(http.StatusOK, `{"not":"a list"}`)))

	rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 1)
	var shapeErr parser.ErrUnexpectedShape
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected ErrUnexpectedShape, got %v", err)
	}
	if shapeErr.Shape != "object" {
		t.Fatalf("shape = %q, want object", shapeErr.Shape)
	}
	if rows != nil {
		t.Fatalf("rows = %v, want nil", rows)
	}
}

func TestFetchHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "server"},
		{status: http.StatusBadRequest, expected: "status"},
		{status: http.StatusNotModified, expected: "status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			c := newTestClient(t, httpmock.ResponderFromResponse(jsonResponse(tt.status, `{"error":true}`)))

			rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 1)
			var httpErr ErrHTTP
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected ErrHTTP, got %v", err)
			}
			if httpErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", httpErr.StatusCode, tt.status)
			}
			if httpErr.Kind != tt.expected {
				t.Fatalf("kind = %q, want %q", httpErr.Kind, tt.expected)
			}
			if rows != nil {
				t.Fatalf("rows = %v, want nil", rows)
			}
		})
	}
}

func TestFetchAcceptsAnySuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNonAuthoritativeInfo, http.StatusPartialContent} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			c := newTestClient(t, httpmock.ResponderFromResponse(jsonResponse(status, `[{"id":1}]`)))

			rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 1)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if diff := cmp.Diff([]string{`{"id":1}`}, rowStrings(rows)); diff != "" {
				t.Fatalf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchRequestTimeout(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}, WithTimeout(100*time.Millisecond))

	start := time.Now()
	rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 1)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("fetch took %v, timeout not applied", elapsed)
	}
	var httpErr ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected ErrHTTP, got %v", err)
	}
	if httpErr.Kind != "timeout" {
		t.Fatalf("kind = %q, want timeout (err %v)", httpErr.Kind, err)
	}
	if rows != nil {
		t.Fatalf("rows = %v, want nil", rows)
	}
}

func TestFetchFailureOnLaterPageDiscardsEarlierRows(t *testing.T) {
	rec := &callRecorder{}
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		call := rec.record(req)
		if call.offset == 0 {
			return jsonResponse(http.StatusOK, idRows(1, 2)), nil
		}
		return jsonResponse(http.StatusBadGateway, ""), nil
	})

	rows, err := c.FetchUpdatedSince(context.Background(), 24, 2, 3)
	var httpErr ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected ErrHTTP, got %v", err)
	}
	if rows != nil {
		t.Fatalf("rows = %v, want nil", rows)
	}
	if diff := cmp.Diff([]int{0, 2}, rec.offsets()); diff != "" {
		t.Fatalf("offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchTransportErrorClassified(t *testing.T) {
	c := newTestClient(t, httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	_, err := c.FetchUpdatedSince(context.Background(), 24, 2, 1)
	var httpErr ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected ErrHTTP, got %v", err)
	}
	if httpErr.Kind != "connection" {
		t.Fatalf("kind = %q, want connection", httpErr.Kind)
	}
}

func TestFetchStopsWhenContextCancelled(t *testing.T) {
	rec := &callRecorder{}
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		rec.record(req)
		return jsonResponse(http.StatusOK, `[]`), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.FetchUpdatedSince(ctx, 24, 2, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(rec.calls))
	}
}

func TestFetchRejectsNonPositiveArguments(t *testing.T) {
	c := newTestClient(t, httpmock.ResponderFromResponse(jsonResponse(http.StatusOK, `[]`)))

	for _, args := range [][3]int{{0, 10, 1}, {24, 0, 1}, {24, 10, 0}} {
		if _, err := c.FetchUpdatedSince(context.Background(), args[0], args[1], args[2]); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}

func TestFetchRecordsMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("$offset") == "0" {
			return jsonResponse(http.StatusOK, idRows(1, 2)), nil
		}
		return jsonResponse(http.StatusOK, idRows(3, 1)), nil
	}, WithMetrics(m))

	if _, err := c.FetchUpdatedSince(context.Background(), 24, 2, 5); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if got := testutil.ToFloat64(m.RowsFetchedTotal); got != 3 {
		t.Fatalf("rows fetched = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PagesTotal); got != 2 {
		t.Fatalf("pages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("successful requests = %v, want 2", got)
	}
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "shape", err: parser.ErrUnexpectedShape{Shape: "object"}, expected: "shape"},
		{name: "timeout", err: newHTTPError("u", 0, context.DeadlineExceeded), expected: "timeout"},
		{name: "net timeout", err: newHTTPError("u", 0, &net.DNSError{IsTimeout: true}), expected: "timeout"},
		{name: "other", err: newHTTPError("u", 0, errors.New("boom")), expected: "other"},
		{name: "wrapped", err: fmt.Errorf("page: %w", newHTTPError("u", http.StatusNotFound, nil)), expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.expected {
				t.Fatalf("errorTypeLabel(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}
