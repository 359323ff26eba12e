package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/recovery"
)

const userAgent = "mcpx"

// Client talks to the e14z registry API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the client's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(cl *Client) {
		cl.log = log
	}
}

// NewClient creates a registry client against baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPackage fetches and validates the descriptor for slug.
func (c *Client) GetPackage(ctx context.Context, slug string) (*Descriptor, error) {
	if slug == "" {
		return nil, fmt.Errorf("empty package slug")
	}

	reqURL := fmt.Sprintf("%s/api/mcp/%s", c.baseURL, url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.log.WithField("slug", slug).Debug("fetching package descriptor")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, recovery.NewError(recovery.CategoryNetwork, "fetching descriptor", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recovery.NewError(recovery.CategoryNetwork, "reading registry response", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("MCP not found: %s", slug)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, recovery.Errorf(recovery.CategoryNetwork,
			"registry returned status %d for %s", resp.StatusCode, slug)
	}

	var env struct {
		MCP   json.RawMessage `json:"mcp"`
		Error string          `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing registry response: %w", err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("MCP not found: %s", env.Error)
	}
	if len(env.MCP) == 0 {
		return nil, fmt.Errorf("registry response missing mcp object for %s", slug)
	}

	// Validate the generic decoding before trusting the typed one.
	raw, err := jsonschema.UnmarshalJSON(bytes.NewReader(env.MCP))
	if err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}
	if err := validateDescriptor(raw); err != nil {
		return nil, err
	}

	var desc Descriptor
	if err := json.Unmarshal(env.MCP, &desc); err != nil {
		return nil, fmt.Errorf("decoding descriptor: %w", err)
	}
	return &desc, nil
}
