// Package rpc reads the registry through the data service's remote procedure endpoint.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/core/observability"
)

// Remote procedure names.
const (
	FnRegionData         = "region_data"
	FnGraveyardsPerOkrug = "graveyards_per_okrug"
	FnTopNames           = "top_names"
	FnTopLastnames       = "top_lastnames"
	FnPersonsPerOkrug    = "persons_per_okrug"
	FnGenderDist         = "gender_dist"
)

const upstreamName = "dataservice"

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	apiKey   string
	timeout  time.Duration
	startNow func() time.Time // for tests
}

// New builds a client for base, e.g. https://project.example.co. A zero timeout
// leaves deadlines to the caller's context and the http client.
func New(logger *slog.Logger, client *http.Client, base, apiKey string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse data service url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("data service url %q: scheme and host required", base)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:   logger,
		client:   client,
		baseURL:  u,
		apiKey:   apiKey,
		timeout:  timeout,
		startNow: time.Now,
	}, nil
}

func (c *Client) rpcURL(fn string) string {
	u := *c.baseURL
	u.Path = u.Path + "/rest/v1/rpc/" + fn
	return u.String()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// call posts args to the named procedure and decodes the JSON result into out.
func (c *Client) call(ctx context.Context, fn string, args any, out any) (err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if args == nil {
		args = struct{}{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%s: encode args: %w", fn, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL(fn), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", fn, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	start := c.startNow()
	defer func() {
		observability.ObserveUpstream(upstreamName, fn, err, time.Since(start).Seconds())
	}()

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", fn, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("%s: upstream status %d: %s", fn, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", fn, err)
	}
	c.logger.DebugContext(ctx, "rpc done", "fn", fn, "status", resp.StatusCode,
		"duration", time.Since(start).String())
	return nil
}

// districtArgs sends the id as a number when it is numeric, as the procedures declare it.
func districtArgs(districtID model.ID) map[string]any {
	if n, ok := districtID.Int64(); ok {
		return map[string]any{"okrugid": n}
	}
	return map[string]any{"okrugid": districtID.String()}
}

func (c *Client) FetchRegionHierarchy(ctx context.Context) ([]model.RegionRecord, error) {
	var out []model.RegionRecord
	if err := c.call(ctx, FnRegionData, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchGraveyardsForDistrict(ctx context.Context, districtID model.ID) ([]model.Graveyard, error) {
	var out []model.Graveyard
	if err := c.call(ctx, FnGraveyardsPerOkrug, districtArgs(districtID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchTopNames(ctx context.Context, districtID model.ID) ([]model.NameStat, error) {
	return c.nameStats(ctx, FnTopNames, districtID)
}

func (c *Client) FetchTopLastnames(ctx context.Context, districtID model.ID) ([]model.NameStat, error) {
	return c.nameStats(ctx, FnTopLastnames, districtID)
}

// nameRow accepts the surname procedure's lastname column as the name.
type nameRow struct {
	Name     string  `json:"name"`
	Lastname string  `json:"lastname"`
	Percent  float64 `json:"percent"`
	Total    int64   `json:"total"`
}

func (c *Client) nameStats(ctx context.Context, fn string, districtID model.ID) ([]model.NameStat, error) {
	var rows []nameRow
	if err := c.call(ctx, fn, districtArgs(districtID), &rows); err != nil {
		return nil, err
	}
	out := make([]model.NameStat, 0, len(rows))
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = r.Lastname
		}
		out = append(out, model.NameStat{Name: name, Percent: r.Percent, Total: r.Total})
	}
	return out, nil
}

func (c *Client) FetchPersonsPerDistrict(ctx context.Context) ([]model.DistrictPersons, error) {
	var out []model.DistrictPersons
	if err := c.call(ctx, FnPersonsPerOkrug, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchGenderDistribution(ctx context.Context) ([]model.GenderStat, error) {
	var out []model.GenderStat
	if err := c.call(ctx, FnGenderDist, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks that the REST root answers. Any status below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	u := *c.baseURL
	u.Path = u.Path + "/rest/v1/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build ping: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ping: upstream status %d", resp.StatusCode)
	}
	return nil
}
