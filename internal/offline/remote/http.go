package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/motogarage/garage/internal/offline/schema"
)

const (
	defaultBaseURL   = "127.0.0.1:8080"
	defaultUserAgent = "garage/0.1"
	defaultTimeout   = 10 * time.Second

	// MinAPIVersion is the oldest backend API this client can sync with.
	MinAPIVersion = "v1.0.0"
)

// HTTPGateway talks to the backend REST API. Collections live under
// /api/<kind>s; records travel as flat JSON objects with an "id" key.
type HTTPGateway struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

// Ensure HTTPGateway implements Gateway at compile time.
var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway builds a gateway for the backend at baseURL ("host:port" or
// a full URL). A zero timeout selects the default. The timeout bounds every
// call, so a stuck request can never wedge a sync cycle.
func NewHTTPGateway(baseURL string, timeout time.Duration) (*HTTPGateway, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPGateway{
		baseURL: base,
		http: &http.Client{
			Timeout: timeout,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns the normalized backend URL.
func (g *HTTPGateway) BaseURL() string {
	return g.baseURL.String()
}

// Collection implements Gateway.
func (g *HTTPGateway) Collection(kind schema.Kind) Collection {
	return &httpCollection{gw: g, path: "/api/" + kind.Plural()}
}

type versionResponse struct {
	Version string `json:"version"`
}

// CheckVersion fetches /api/version and verifies the backend speaks at least
// MinAPIVersion. It returns the reported version.
func (g *HTTPGateway) CheckVersion(ctx context.Context) (string, error) {
	var payload versionResponse
	if err := g.do(ctx, http.MethodGet, "/api/version", nil, &payload); err != nil {
		return "", err
	}
	v := strings.TrimSpace(payload.Version)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return payload.Version, fmt.Errorf("%w: invalid version %q", ErrIncompatibleVersion, payload.Version)
	}
	if semver.Compare(v, MinAPIVersion) < 0 {
		return v, fmt.Errorf("%w: %s < %s", ErrIncompatibleVersion, v, MinAPIVersion)
	}
	return v, nil
}

type httpCollection struct {
	gw   *HTTPGateway
	path string
}

func (c *httpCollection) GetAll(ctx context.Context) ([]schema.Record, error) {
	var records []schema.Record
	if err := c.gw.do(ctx, http.MethodGet, c.path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *httpCollection) Create(ctx context.Context, fields map[string]any) (schema.Record, error) {
	var rec schema.Record
	if err := c.gw.do(ctx, http.MethodPost, c.path, fields, &rec); err != nil {
		return schema.Record{}, err
	}
	if rec.ID == "" {
		return schema.Record{}, fmt.Errorf("create %s: response carries no id", c.path)
	}
	return rec, nil
}

func (c *httpCollection) Update(ctx context.Context, id string, fields map[string]any) (schema.Record, error) {
	var rec schema.Record
	if err := c.gw.do(ctx, http.MethodPut, c.itemPath(id), fields, &rec); err != nil {
		return schema.Record{}, err
	}
	if rec.ID == "" {
		// 204 or an empty body: echo what was sent.
		rec = schema.NewRecord(id, fields)
	}
	return rec, nil
}

func (c *httpCollection) Delete(ctx context.Context, id string) error {
	err := c.gw.do(ctx, http.MethodDelete, c.itemPath(id), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *httpCollection) itemPath(id string) string {
	return c.path + "/" + id
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body, dest any) error {
	rel := &url.URL{Path: path}
	return g.doURL(ctx, method, rel, body, dest)
}

func (g *HTTPGateway) doURL(ctx context.Context, method string, rel *url.URL, body, dest any) error {
	reqURL := g.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: rel.Path, Code: resp.StatusCode}
	}
	if dest == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse remote url %q: %w", raw, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
