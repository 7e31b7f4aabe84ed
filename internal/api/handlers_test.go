package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lift-robot-bridge/internal/auth"
	"lift-robot-bridge/internal/config"
	"lift-robot-bridge/internal/elevator"
	"lift-robot-bridge/internal/governor"
	"lift-robot-bridge/internal/topology"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

type stubFetcher struct{}

func (stubFetcher) FetchTopology(context.Context, string, string) (*topology.BuildingTopology, error) {
	return &topology.BuildingTopology{
		BuildingID: "building:99",
		Groups: []topology.Group{
			{
				GroupID: "1",
				Lifts: []topology.Lift{
					{LiftID: 7, Floors: []topology.LiftFloor{{GroupFloorID: 1}, {GroupFloorID: 8}}},
				},
			},
		},
	}, nil
}

type stubTokens struct{}

func (stubTokens) AccessToken(context.Context, string, string) (string, error) {
	return "test-token", nil
}

func testServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.AppName = "robots"
	cfg.AppSecret = "app-secret"
	cfg.DeviceSecret = "device-secret"
	if mutate != nil {
		mutate(cfg)
	}

	topoCache := topology.NewCache(stubFetcher{}, testLogger())
	gov := governor.New(governor.NewMemoryStore(), governor.Config{
		Window:         cfg.RateLimitWindow(),
		MaxCalls:       cfg.RateLimitMaxCalls,
		IdempotencyTTL: cfg.IdempotencyTTL(),
	}, testLogger())

	service := elevator.NewService(cfg, testLogger(), stubTokens{}, topoCache, gov, nil)

	return NewServer(cfg, testLogger(), service)
}

func postJSON(t *testing.T, server *Server, path string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

// signBody fills in ts, check and sign the way a robot client does
func signBody(body map[string]interface{}) map[string]interface{} {
	ts := time.Now().Unix()
	body["appname"] = "robots"
	body["ts"] = ts

	deviceUUID, _ := body["deviceUuid"].(string)
	body["check"] = auth.GenerateCheck(deviceUUID, ts, "device-secret")
	body["sign"] = auth.GenerateSign(body, "robots", "app-secret", ts)
	return body
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLockEndpointWithValidSignature(t *testing.T) {
	server := testServer(t, nil)

	rec := postJSON(t, server, "/openapi/v5/lift/lock", signBody(map[string]interface{}{
		"placeId":    "99",
		"liftNo":     7,
		"locked":     1,
		"deviceUuid": "robot-1",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["errcode"])
	assert.Equal(t, "SUCCESS", body["errmsg"])
}

func TestRejectsTamperedSignature(t *testing.T) {
	server := testServer(t, nil)

	payload := signBody(map[string]interface{}{
		"placeId":    "99",
		"liftNo":     7,
		"locked":     1,
		"deviceUuid": "robot-1",
	})
	payload["liftNo"] = 8

	rec := postJSON(t, server, "/openapi/v5/lift/lock", payload)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["errcode"])
	assert.Equal(t, "FAILURE", body["errmsg"])
}

func TestRejectsUnsignedRequest(t *testing.T) {
	server := testServer(t, nil)

	rec := postJSON(t, server, "/openapi/v5/lift/lock", map[string]interface{}{
		"placeId": "99",
		"liftNo":  7,
		"locked":  1,
	})

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["errcode"])
}

func TestDisabledSignCheckSkipsVerification(t *testing.T) {
	server := testServer(t, func(cfg *config.Config) {
		cfg.DisableSignCheck = true
	})

	rec := postJSON(t, server, "/openapi/v5/lift/lock", map[string]interface{}{
		"placeId": "99",
		"liftNo":  7,
		"locked":  1,
	})

	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["errcode"])
}

func TestLockRejectsInvalidLockedValue(t *testing.T) {
	server := testServer(t, func(cfg *config.Config) {
		cfg.DisableSignCheck = true
	})

	rec := postJSON(t, server, "/openapi/v5/lift/lock", map[string]interface{}{
		"placeId": "99",
		"liftNo":  7,
		"locked":  2,
	})

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["errcode"])
	assert.Equal(t, "FAILED", body["errmsg"])
}

func TestListEndpoint(t *testing.T) {
	server := testServer(t, func(cfg *config.Config) {
		cfg.DisableSignCheck = true
	})

	rec := postJSON(t, server, "/openapi/v5/lift/list", map[string]interface{}{
		"placeId": "99",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp elevator.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result, 1)
	assert.Equal(t, 7, resp.Result[0].LiftNo)
	assert.Equal(t, "1,8", resp.Result[0].AccessibleFloors)
	assert.Equal(t, "11", resp.Result[0].BindingStatus)
}

func TestMalformedBody(t *testing.T) {
	server := testServer(t, func(cfg *config.Config) {
		cfg.DisableSignCheck = true
	})

	req := httptest.NewRequest(http.MethodPost, "/openapi/v5/lift/list", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["errcode"])
	assert.Equal(t, "FAILED", body["errmsg"])
}

func TestWrongMethodRejected(t *testing.T) {
	server := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/openapi/v5/lift/list", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
