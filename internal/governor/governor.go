package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRateLimited indicates the device exceeded its call budget for the window
var ErrRateLimited = errors.New("device rate limited")

// JourneyKey identifies a requested trip for idempotency purposes. It
// deliberately omits the lift number: two calls for the same journey on
// different lifts share one cached response.
type JourneyKey struct {
	DeviceUUID string
	BuildingID string
	GroupID    string
	FromFloor  int
	ToFloor    int
}

// String renders the journey cache key
func (k JourneyKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", k.DeviceUUID, k.BuildingID, k.GroupID, k.FromFloor, k.ToFloor)
}

// Store persists rate-limit windows and idempotency entries
type Store interface {
	// CountCall increments and returns the device's call count within the
	// current window. The window resets once it has fully elapsed.
	CountCall(ctx context.Context, deviceUUID string, window time.Duration) (int, error)
	// CachedResponse returns the non-expired cached response for a journey
	CachedResponse(ctx context.Context, key string) ([]byte, bool, error)
	// StoreResponse caches a journey response until the TTL elapses
	StoreResponse(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// Config holds the governor limits
type Config struct {
	Window         time.Duration
	MaxCalls       int
	IdempotencyTTL time.Duration
}

// Governor gates the call flow: idempotent replays are answered from cache
// before the rate limiter is consulted, and rate-limited calls send nothing.
type Governor struct {
	store  Store
	config Config
	logger *logrus.Entry
}

// New creates a call governor over the given store
func New(store Store, config Config, logger *logrus.Entry) *Governor {
	return &Governor{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Admit decides whether a call may proceed. The returned cached response is
// non-nil for an idempotent replay; ErrRateLimited rejects the call.
func (g *Governor) Admit(ctx context.Context, key JourneyKey) ([]byte, error) {
	cached, ok, err := g.store.CachedResponse(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if ok {
		g.logger.WithField("journey", key.String()).Info("Replaying cached call response")
		return cached, nil
	}

	count, err := g.store.CountCall(ctx, key.DeviceUUID, g.config.Window)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if count > g.config.MaxCalls {
		g.logger.WithFields(logrus.Fields{
			"device_uuid": key.DeviceUUID,
			"count":       count,
			"max":         g.config.MaxCalls,
		}).Warn("Call rejected by rate limiter")
		return nil, ErrRateLimited
	}

	return nil, nil
}

// Record caches a successful call response for the journey's TTL
func (g *Governor) Record(ctx context.Context, key JourneyKey, response []byte) error {
	return g.store.StoreResponse(ctx, key.String(), response, g.config.IdempotencyTTL)
}
