// Package rest implements the connector for the central REST aggregator.
//
// Every call is a JSON POST of {branch_code, from, to[, from_time, to_time]}
// to the per-kind path. A 200 response carries the rows under "rows", "data"
// or "list".
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nucleus/fluxion/internal/connector"
	"github.com/nucleus/fluxion/internal/core"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05"
)

// rowKeys are the response fields that may hold the row array, in order.
var rowKeys = []string{"rows", "data", "list"}

func init() {
	connector.Register(core.ProtocolREST, func(desc core.ConnectionDescriptor, creds connector.Credentials) (connector.Connector, error) {
		return New(desc, creds)
	})
}

// Connector reads rows from the aggregator.
type Connector struct {
	client     *Client
	paths      map[core.DataKind]string
	countPaths map[core.DataKind]string
	timeRange  bool
}

// New builds a connector for desc, resolving its bearer token.
func New(desc core.ConnectionDescriptor, creds connector.Credentials) (*Connector, error) {
	if creds == nil {
		creds = connector.NoCredentials{}
	}
	token := ""
	if desc.CredentialRef != "" {
		t, err := creds.Resolve(desc.CredentialRef)
		if err != nil {
			return nil, fmt.Errorf("resolve credential %s: %w", desc.CredentialRef, err)
		}
		token = t
	}
	client := NewClient(ClientConfig{
		BaseURL:        desc.BaseURL,
		Token:          token,
		ConnectTimeout: desc.ConnectTimeout,
		CallTimeout:    desc.CallTimeout,
		RateLimit:      desc.RateLimit,
	})
	return NewWithClient(client, desc), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *Client, desc core.ConnectionDescriptor) *Connector {
	return &Connector{
		client:     client,
		paths:      desc.Paths,
		countPaths: desc.CountPaths,
		timeRange:  desc.ExtraTimeRange,
	}
}

// Close is a no-op; idle connections are reclaimed by the transport.
func (c *Connector) Close() error {
	return nil
}

// Extract fetches the rows of kind inside r.
func (c *Connector) Extract(ctx context.Context, loc core.SourceLocation, kind core.DataKind, r core.TimeRange) ([]core.RawRow, error) {
	path, ok := c.paths[kind]
	if !ok {
		return nil, fmt.Errorf("no path configured for %s", kind)
	}
	resp, err := c.client.Post(ctx, path, c.body(loc, r))
	if err != nil {
		return nil, err
	}
	return decodeRows(resp.Body)
}

// Count posts to the kind's count path, falling back to fetching the range
// and counting rows when the aggregator offers no count endpoint.
func (c *Connector) Count(ctx context.Context, loc core.SourceLocation, kind core.DataKind, r core.TimeRange) (int64, error) {
	path, ok := c.countPaths[kind]
	if !ok || path == "" {
		rows, err := c.Extract(ctx, loc, kind, r)
		if err != nil {
			return 0, err
		}
		return int64(len(rows)), nil
	}

	resp, err := c.client.Post(ctx, path, c.body(loc, r))
	if err != nil {
		return 0, err
	}
	var payload struct {
		Count *json.Number `json:"count"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, core.SchemaError("count", err)
	}
	if payload.Count == nil {
		return 0, core.SchemaError("count", errors.New("response has no count field"))
	}
	n, err := payload.Count.Int64()
	if err != nil {
		return 0, core.SchemaError("count", err)
	}
	return n, nil
}

// requestBody is the aggregator's query shape. Dates are inclusive local
// calendar days; times narrow the first and last day.
type requestBody struct {
	BranchCode string `json:"branch_code"`
	From       string `json:"from"`
	To         string `json:"to"`
	FromTime   string `json:"from_time,omitempty"`
	ToTime     string `json:"to_time,omitempty"`
}

// body maps the half-open range r onto the aggregator's inclusive filter.
// The aggregator stores times at whole seconds, so to_time is the last second
// of r and [12:00:00, ...) follows [..., 11:59:59] with nothing between them.
// Ranges must start and end on whole seconds; planner.Split keeps them so.
func (c *Connector) body(loc core.SourceLocation, r core.TimeRange) requestBody {
	tz := loc.Location()
	from := r.From.In(tz)
	last := r.To.Add(-time.Second).In(tz)

	code := loc.Code
	if code == "" {
		code = loc.ID
	}
	body := requestBody{
		BranchCode: code,
		From:       from.Format(dateLayout),
		To:         last.Format(dateLayout),
	}
	if c.timeRange || !dayAligned(r, tz) {
		body.FromTime = from.Format(clockLayout)
		body.ToTime = last.Format(clockLayout)
	}
	return body
}

func dayAligned(r core.TimeRange, tz *time.Location) bool {
	return core.DayRange(r.From, tz).From.Equal(r.From) && core.DayRange(r.To, tz).From.Equal(r.To)
}

// decodeRows extracts the row array from a response body.
func decodeRows(body []byte) ([]core.RawRow, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]json.RawMessage
	if err := dec.Decode(&payload); err != nil {
		return nil, core.SchemaError("body", fmt.Errorf("malformed response: %w", err))
	}

	for _, key := range rowKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var items []map[string]any
		inner := json.NewDecoder(bytes.NewReader(raw))
		inner.UseNumber()
		if err := inner.Decode(&items); err != nil {
			return nil, core.SchemaError(key, fmt.Errorf("expected an array of objects: %w", err))
		}
		rows := make([]core.RawRow, 0, len(items))
		for _, item := range items {
			if item == nil {
				return nil, core.SchemaError(key, errors.New("null row"))
			}
			rows = append(rows, core.RawRow{Source: core.SourceREST, Fields: item})
		}
		return rows, nil
	}
	return nil, core.SchemaError("rows", errors.New("response has no rows, data or list field"))
}
