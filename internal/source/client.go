package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/planvista/pfa-server/internal/config"
	"github.com/planvista/pfa-server/internal/httpclient"
)

// Client fetches bounded pages of equipment-cost records from the EAM API
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/planvista/pfa-server/internal/source Client
type Client interface {
	// Validate verifies the endpoint is reachable and speaks a supported API version
	Validate(ctx context.Context) error

	// FetchPage retrieves one page of records for the given query
	FetchPage(ctx context.Context, query PageQuery) (*Page, error)
}

// eamClient is the HTTP implementation of Client
type eamClient struct {
	httpClient httpclient.Client
	endpoint   string
	pageSize   int
	minVersion string
}

// NewClient creates an EAM API client from the source configuration
func NewClient(cfg *config.SourceConfig) Client {
	return NewClientWithHTTP(cfg, httpclient.NewDefaultClient(cfg.GetFetchTimeout()))
}

// NewClientWithHTTP creates an EAM API client with an injected HTTP client
func NewClientWithHTTP(cfg *config.SourceConfig, httpClient httpclient.Client) Client {
	return &eamClient{
		httpClient: httpClient,
		endpoint:   trimTrailingSlash(cfg.Endpoint),
		pageSize:   cfg.GetPageSize(),
		minVersion: cfg.MinAPIVersion,
	}
}

// Validate verifies the endpoint by fetching /api/v1/info and checking the
// reported API version against the configured minimum.
func (c *eamClient) Validate(ctx context.Context) error {
	infoURL := c.endpoint + "/api/v1/info"

	data, err := c.httpClient.Get(ctx, infoURL)
	if err != nil {
		return fmt.Errorf("failed to fetch /api/v1/info: %w", err)
	}

	var info InfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to parse /api/v1/info response: %w", err)
	}

	if info.APIVersion == "" {
		return fmt.Errorf("/api/v1/info missing 'apiVersion' field")
	}

	if c.minVersion == "" {
		return nil
	}

	reported, err := semver.NewVersion(info.APIVersion)
	if err != nil {
		return fmt.Errorf("/api/v1/info reports unparseable version %q: %w", info.APIVersion, err)
	}
	minimum, err := semver.NewVersion(c.minVersion)
	if err != nil {
		return fmt.Errorf("configured minimum API version %q is invalid: %w", c.minVersion, err)
	}

	if reported.LessThan(minimum) {
		return fmt.Errorf("EAM API version %s is older than required minimum %s", info.APIVersion, c.minVersion)
	}

	return nil
}

// FetchPage retrieves one page of the assets feed
func (c *eamClient) FetchPage(ctx context.Context, query PageQuery) (*Page, error) {
	if query.OrgCode == "" {
		return nil, fmt.Errorf("organization code is required")
	}
	if query.Offset < 0 {
		return nil, fmt.Errorf("offset must not be negative, got %d", query.Offset)
	}

	pageURL := c.buildAssetsURL(query)

	startTime := time.Now()
	data, err := c.httpClient.Get(ctx, pageURL)
	if err != nil {
		slog.Error("EAM page fetch failed",
			"org", query.OrgCode,
			"offset", query.Offset,
			"duration", time.Since(startTime).String(),
			"error", err)
		return nil, fmt.Errorf("failed to fetch page at offset %d: %w", query.Offset, err)
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to parse page at offset %d: %w", query.Offset, err)
	}

	slog.Debug("EAM page fetched",
		"org", query.OrgCode,
		"offset", query.Offset,
		"records", len(page.Records),
		"total", page.Total,
		"duration", time.Since(startTime).String())

	return &page, nil
}

// buildAssetsURL builds the paginated assets feed URL for a query
func (c *eamClient) buildAssetsURL(query PageQuery) string {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(query.Offset))
	params.Set("limit", strconv.Itoa(c.pageSize))
	if query.UpdatedSince != nil {
		params.Set("updatedSince", query.UpdatedSince.UTC().Format(time.RFC3339))
	}

	return fmt.Sprintf("%s/api/v1/orgs/%s/assets?%s",
		c.endpoint, url.PathEscape(query.OrgCode), params.Encode())
}

func trimTrailingSlash(endpoint string) string {
	if len(endpoint) > 0 && endpoint[len(endpoint)-1] == '/' {
		return endpoint[:len(endpoint)-1]
	}
	return endpoint
}
