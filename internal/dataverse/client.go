package dataverse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAPIVersion is the Web API version used when none is configured.
const DefaultAPIVersion = "v9.2"

// Client talks to one Dataverse environment.
type Client struct {
	// BaseURL is the environment URL without a trailing slash,
	// e.g. https://org.crm.dynamics.com.
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client

	// Tokens supplies the bearer token for every request.
	Tokens oauth2.TokenSource

	// SolutionName, when set, is sent as MSCRM.SolutionUniqueName so that
	// created components land in that solution.
	SolutionName string
}

// NewClient returns a client for baseURL with a 60 second timeout.
func NewClient(baseURL string, tokens oauth2.TokenSource) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIVersion: DefaultAPIVersion,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Tokens:     tokens,
	}
}

// APIURL returns the absolute Web API URL of path.
func (c *Client) APIURL(path string) string {
	version := c.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	return c.BaseURL + "/api/data/" + version + "/" + strings.TrimPrefix(path, "/")
}

// request describes one Web API call. path is relative to the API root
// unless it is already absolute (as @odata.nextLink values are).
type request struct {
	method string
	path   string
	body   any
	prefer string
}

// response carries what callers need from a successful call.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes req and decodes a JSON body into result when result is non-nil.
func (c *Client) do(ctx context.Context, req request, result any) (*response, error) {
	var reqBody io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	fullURL := req.path
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = c.APIURL(req.path)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.setHeaders(httpReq, req.prefer); err != nil {
		return nil, err
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	start := time.Now()
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	slog.Debug("dataverse request",
		"method", req.method,
		"url", fullURL,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp, respBytes)
	}

	if result != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: respBytes}, nil
}

func (c *Client) setHeaders(req *http.Request, prefer string) error {
	if c.Tokens == nil {
		return errors.New("dataverse: no token source configured")
	}
	tok, err := c.Tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to acquire token: %w", err)
	}
	tok.SetAuthHeader(req)

	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if c.SolutionName != "" {
		req.Header.Set("MSCRM.SolutionUniqueName", c.SolutionName)
	}
	return nil
}

// create POSTs body to path and returns the GUID from the OData-EntityId header.
func (c *Client) create(ctx context.Context, path string, body any) (string, error) {
	resp, err := c.do(ctx, request{method: http.MethodPost, path: path, body: body}, nil)
	if err != nil {
		return "", err
	}
	return EntityIDFromHeader(resp.header.Get(HeaderEntityID)), nil
}

func (c *Client) patch(ctx context.Context, path string, body any) error {
	_, err := c.do(ctx, request{method: http.MethodPatch, path: path, body: body}, nil)
	return err
}

func (c *Client) delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: path}, nil)
	return err
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	_, err := c.do(ctx, request{method: http.MethodGet, path: path}, result)
	return err
}
