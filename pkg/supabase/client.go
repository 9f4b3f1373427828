package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the hosted data service's table API over HTTP.
// Rows are owned by the remote service; this client only shapes requests.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// APIError represents a data service error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a table API client with the given access key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// From starts a query against one table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

type filter struct {
	column string
	value  string
}

// QueryBuilder accumulates filters and modifiers for a single table call.
type QueryBuilder struct {
	client     *Client
	table      string
	selectCols string
	filters    []filter
	order      string
	limit      int
}

// Select sets the column list, including nested-relation expansions.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.selectCols = columns
	return q
}

// Eq filters column = value.
func (q *QueryBuilder) Eq(column, value string) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "eq." + value})
	return q
}

// Gte filters column >= value.
func (q *QueryBuilder) Gte(column, value string) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "gte." + value})
	return q
}

// Lte filters column <= value.
func (q *QueryBuilder) Lte(column, value string) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "lte." + value})
	return q
}

// NotIn filters column not in the given set.
func (q *QueryBuilder) NotIn(column string, values []string) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "not.in.(" + strings.Join(values, ",") + ")"})
	return q
}

// Order sorts results by column; desc controls direction.
func (q *QueryBuilder) Order(column string, desc bool) *QueryBuilder {
	dir := "asc"
	if desc {
		dir = "desc"
	}
	q.order = column + "." + dir
	return q
}

// Limit caps the number of returned rows.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Execute runs a select and decodes the row array into out.
func (q *QueryBuilder) Execute(ctx context.Context, out any) error {
	return q.do(ctx, http.MethodGet, nil, "", out)
}

// Insert adds rows (single object or array) and echoes the created rows into out.
func (q *QueryBuilder) Insert(ctx context.Context, payload, out any) error {
	return q.do(ctx, http.MethodPost, payload, "return=representation", out)
}

// Upsert inserts rows, merging on primary key when a row id already exists.
func (q *QueryBuilder) Upsert(ctx context.Context, payload, out any) error {
	return q.do(ctx, http.MethodPost, payload, "resolution=merge-duplicates,return=representation", out)
}

// Update applies a partial update to all rows matching the filters.
func (q *QueryBuilder) Update(ctx context.Context, payload, out any) error {
	return q.do(ctx, http.MethodPatch, payload, "return=representation", out)
}

// Delete removes all rows matching the filters and echoes them into out,
// so callers can distinguish "nothing matched" from success.
func (q *QueryBuilder) Delete(ctx context.Context, out any) error {
	return q.do(ctx, http.MethodDelete, nil, "return=representation", out)
}

func (q *QueryBuilder) do(ctx context.Context, method string, payload any, prefer string, out any) error {
	endpoint := q.client.baseURL + "/rest/v1/" + q.table
	params := url.Values{}
	if q.selectCols != "" {
		params.Set("select", q.selectCols)
	}
	for _, f := range q.filters {
		params.Add(f.column, f.value)
	}
	if q.order != "" {
		params.Set("order", q.order)
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", q.client.apiKey)
	req.Header.Set("Authorization", "Bearer "+q.client.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := q.client.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: errResp.Code}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", q.table, err)
	}
	return nil
}
