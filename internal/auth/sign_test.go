package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestGenerateCheck(t *testing.T) {
	got := GenerateCheck("robot-1", 1700000000, "device-secret")
	want := md5Hex("robot-1|1700000000|device-secret")
	assert.Equal(t, want, got)
}

func TestGenerateSign(t *testing.T) {
	payload := map[string]interface{}{
		"placeId":    "building:99",
		"liftNo":     float64(7),
		"deviceUuid": "robot-1",
		"note":       "",
		"sign":       "ignored",
		"check":      "ignored",
		"ts":         float64(1700000000),
		"appname":    "ignored",
	}

	got := GenerateSign(payload, "robots", "app-secret", 1700000000)

	// Sorted payload keys, empty strings and signature fields excluded
	want := md5Hex("deviceUuid:robot-1|liftNo:7|placeId:building:99|appname:robots|secret:app-secret|ts:1700000000")
	assert.Equal(t, want, got)
}

func TestGenerateSignFloatRendering(t *testing.T) {
	// JSON numbers decode to float64; integral values must not grow a decimal
	// point or the signature never matches the client's.
	payload := map[string]interface{}{"liftNo": float64(12)}
	got := GenerateSign(payload, "robots", "app-secret", 1)
	want := md5Hex("liftNo:12|appname:robots|secret:app-secret|ts:1")
	assert.Equal(t, want, got)
}

func signedPayload(t *testing.T, v *Verifier, fields map[string]interface{}) map[string]interface{} {
	t.Helper()

	ts := int64(1700000000)
	payload := map[string]interface{}{
		"appname":    "robots",
		"deviceUuid": "robot-1",
		"ts":         float64(ts),
	}
	for k, val := range fields {
		payload[k] = val
	}
	payload["check"] = GenerateCheck("robot-1", ts, "device-secret")
	payload["sign"] = GenerateSign(payload, "robots", "app-secret", ts)
	return payload
}

func TestVerifyRequest(t *testing.T) {
	v := NewVerifier("robots", "app-secret", "device-secret")

	payload := signedPayload(t, v, map[string]interface{}{
		"placeId": "building:99",
		"liftNo":  float64(7),
	})

	require.NoError(t, v.VerifyRequest(payload))
}

func TestVerifyRequestRejections(t *testing.T) {
	v := NewVerifier("robots", "app-secret", "device-secret")

	tests := []struct {
		name   string
		mutate func(p map[string]interface{})
	}{
		{"missing sign", func(p map[string]interface{}) { delete(p, "sign") }},
		{"missing check", func(p map[string]interface{}) { delete(p, "check") }},
		{"wrong appname", func(p map[string]interface{}) { p["appname"] = "intruder" }},
		{"tampered field", func(p map[string]interface{}) { p["liftNo"] = float64(8) }},
		{"tampered sign", func(p map[string]interface{}) { p["sign"] = md5Hex("forged") }},
		{"tampered check", func(p map[string]interface{}) { p["check"] = md5Hex("forged") }},
		{"missing ts", func(p map[string]interface{}) { delete(p, "ts") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := signedPayload(t, v, map[string]interface{}{
				"placeId": "building:99",
				"liftNo":  float64(7),
			})
			tt.mutate(payload)
			assert.Error(t, v.VerifyRequest(payload))
		})
	}
}

func TestVerifyRequestUnconfiguredSecrets(t *testing.T) {
	v := NewVerifier("robots", "", "")

	err := v.VerifyRequest(map[string]interface{}{
		"sign": "x", "check": "x", "appname": "robots",
		"deviceUuid": "robot-1", "ts": float64(1),
	})
	assert.Error(t, err)
}

func TestFormatSignValue(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{"abc", "abc"},
		{float64(7), "7"},
		{float64(7.5), "7.5"},
		{12, "12"},
		{int64(13), "13"},
		{true, "true"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.value), func(t *testing.T) {
			assert.Equal(t, tt.want, formatSignValue(tt.value))
		})
	}
}
