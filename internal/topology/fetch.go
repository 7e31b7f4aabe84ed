package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenSource provides access tokens scoped to a building and group
type TokenSource interface {
	AccessToken(ctx context.Context, buildingID, groupID string) (string, error)
}

// HTTPFetcher fetches building topology from the elevator cloud REST API
type HTTPFetcher struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *logrus.Entry
}

// NewHTTPFetcher creates a topology fetcher against the given API base URL
func NewHTTPFetcher(baseURL string, tokens TokenSource, logger *logrus.Entry) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// FetchTopology retrieves the topology snapshot for one building group
func (f *HTTPFetcher) FetchTopology(ctx context.Context, buildingID, groupID string) (*BuildingTopology, error) {
	token, err := f.tokens.AccessToken(ctx, buildingID, groupID)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/buildings/%s?groupId=%s", f.baseURL, buildingID, groupID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create topology request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("topology request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("topology endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var topo BuildingTopology
	if err := json.Unmarshal(body, &topo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topology: %w", err)
	}
	if topo.BuildingID == "" {
		topo.BuildingID = buildingID
	}

	f.logger.WithFields(logrus.Fields{
		"building_id": buildingID,
		"group_id":    groupID,
	}).Debug("Topology fetched")

	return &topo, nil
}
