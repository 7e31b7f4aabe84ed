package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// Verifier validates the sign/check pair carried by inbound robot requests
type Verifier struct {
	appName      string
	appSecret    string
	deviceSecret string
}

// NewVerifier creates a verifier with the configured application and device secrets
func NewVerifier(appName, appSecret, deviceSecret string) *Verifier {
	return &Verifier{
		appName:      appName,
		appSecret:    appSecret,
		deviceSecret: deviceSecret,
	}
}

// GenerateCheck computes the device check digest: md5(deviceUuid|ts|deviceSecret)
func GenerateCheck(deviceUUID string, ts int64, deviceSecret string) string {
	payload := fmt.Sprintf("%s|%d|%s", deviceUUID, ts, deviceSecret)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// GenerateSign computes the request signature over the sorted payload fields.
// The sign, ts, appname, secret and check fields and empty string values are
// excluded; remaining key:value pairs are sorted, then appname, secret and ts
// are appended and the joined string is md5 hashed.
func GenerateSign(payload map[string]interface{}, appName, appSecret string, ts int64) string {
	keys := make([]string, 0, len(payload))
	for key, value := range payload {
		switch key {
		case "sign", "ts", "appname", "secret", "check":
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	kvs := make([]string, 0, len(keys)+3)
	for _, key := range keys {
		kvs = append(kvs, key+":"+formatSignValue(payload[key]))
	}
	kvs = append(kvs, "appname:"+appName)
	kvs = append(kvs, "secret:"+appSecret)
	kvs = append(kvs, "ts:"+strconv.FormatInt(ts, 10))

	signPayload := ""
	for i, kv := range kvs {
		if i > 0 {
			signPayload += "|"
		}
		signPayload += kv
	}

	sum := md5.Sum([]byte(signPayload))
	return hex.EncodeToString(sum[:])
}

// VerifyRequest validates the sign and check fields of a decoded request body
func (v *Verifier) VerifyRequest(payload map[string]interface{}) error {
	sign, _ := payload["sign"].(string)
	check, _ := payload["check"].(string)
	appName, _ := payload["appname"].(string)
	deviceUUID, _ := payload["deviceUuid"].(string)
	ts := signValueInt64(payload["ts"])

	if sign == "" || check == "" || appName == "" || deviceUUID == "" || ts == 0 {
		return fmt.Errorf("missing signature fields")
	}
	if v.appSecret == "" || v.deviceSecret == "" {
		return fmt.Errorf("signing secrets not configured")
	}
	if appName != v.appName {
		return fmt.Errorf("appname %q is not allowed", appName)
	}

	expectedCheck := GenerateCheck(deviceUUID, ts, v.deviceSecret)
	expectedSign := GenerateSign(payload, appName, v.appSecret, ts)

	if subtle.ConstantTimeCompare([]byte(check), []byte(expectedCheck)) != 1 {
		return fmt.Errorf("check validation failed")
	}
	if subtle.ConstantTimeCompare([]byte(sign), []byte(expectedSign)) != 1 {
		return fmt.Errorf("sign validation failed")
	}

	return nil
}

// formatSignValue renders a payload value the way the signing clients do:
// integers without a decimal point, everything else via Sprintf.
func formatSignValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// signValueInt64 coerces a JSON-decoded numeric field to int64
func signValueInt64(value interface{}) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
