package topology

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fetcher retrieves a building's topology from the elevator cloud
type Fetcher interface {
	FetchTopology(ctx context.Context, buildingID, groupID string) (*BuildingTopology, error)
}

// Cache is a process-lifetime topology cache keyed by building and group.
// Snapshots are immutable; a stale entry persists until process restart.
type Cache struct {
	fetcher Fetcher
	logger  *logrus.Entry

	mu         sync.RWMutex
	topologies map[string]*BuildingTopology
	mappings   map[string]*FloorMapping
}

// NewCache creates a topology cache backed by the given fetcher
func NewCache(fetcher Fetcher, logger *logrus.Entry) *Cache {
	return &Cache{
		fetcher:    fetcher,
		logger:     logger,
		topologies: make(map[string]*BuildingTopology),
		mappings:   make(map[string]*FloorMapping),
	}
}

func cacheKey(buildingID, groupID string) string {
	return fmt.Sprintf("%s|%s", buildingID, groupID)
}

// Topology returns the cached topology for a building/group, fetching it on
// first use. Fetch errors propagate to the caller.
func (c *Cache) Topology(ctx context.Context, buildingID, groupID string) (*BuildingTopology, error) {
	key := cacheKey(buildingID, groupID)

	c.mu.RLock()
	topo, ok := c.topologies[key]
	c.mu.RUnlock()
	if ok {
		return topo, nil
	}

	topo, err := c.fetcher.FetchTopology(ctx, buildingID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch topology for %s: %w", key, err)
	}

	c.mu.Lock()
	// Last write wins; entries are immutable value replacements
	c.topologies[key] = topo
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"building_id": buildingID,
		"group_id":    groupID,
		"groups":      len(topo.Groups),
	}).Info("Building topology cached")

	return topo, nil
}

// Mapping returns the memoized floor/area mapping for a building/group,
// building it from the cached topology on first use.
func (c *Cache) Mapping(ctx context.Context, buildingID, groupID string) (*FloorMapping, error) {
	key := cacheKey(buildingID, groupID)

	c.mu.RLock()
	mapping, ok := c.mappings[key]
	c.mu.RUnlock()
	if ok {
		return mapping, nil
	}

	topo, err := c.Topology(ctx, buildingID, groupID)
	if err != nil {
		return nil, err
	}

	mapping = BuildFloorMapping(topo, groupID)

	c.mu.Lock()
	c.mappings[key] = mapping
	c.mu.Unlock()

	return mapping, nil
}
