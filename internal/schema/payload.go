package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// userIDAliases is the fixed lookup order for the user identifier.
// Setup requests send it top-level, the Kite session response nests it under data.
var userIDAliases = [][]string{
	{"user_id"},
	{"data", "user_id"},
	{"userId"},
	{"data", "userId"},
	{"user", "user_id"},
	{"client_id"},
}

// UserIDAliases lists the identifier lookup paths in priority order, dotted
func UserIDAliases() []string {
	out := make([]string, len(userIDAliases))
	for i, path := range userIDAliases {
		out[i] = strings.Join(path, ".")
	}
	return out
}

// sensitiveKeys never make it into user_data
var sensitiveKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"public_token":  true,
	"enctoken":      true,
	"api_key":       true,
	"api_secret":    true,
	"checksum":      true,
}

// kiteTimeLayout is how Kite reports expiry, in IST
const kiteTimeLayout = "2006-01-02 15:04:05"

var ist = time.FixedZone("IST", 5*60*60+30*60)

// Payload holds the session fields extracted from an inbound OAuth payload
type Payload struct {
	UserID         string
	ConfigID       string
	BrokerName     string
	APIKey         string
	APISecret      string
	AccessToken    string
	CsrfState      string
	TokenExpiresAt *time.Time
	ExpiresIn      time.Duration
	UserData       json.RawMessage
}

// ParsePayload extracts session fields from an arbitrary JSON object
func ParsePayload(payload map[string]any) Payload {
	p := Payload{
		ConfigID:    lookupAny(payload, "config_id"),
		BrokerName:  lookupAny(payload, "broker_name", "broker"),
		APIKey:      lookupAny(payload, "api_key"),
		APISecret:   lookupAny(payload, "api_secret"),
		AccessToken: lookupAny(payload, "access_token"),
		CsrfState:   lookupAny(payload, "csrf_state", "state"),
	}

	for _, path := range userIDAliases {
		if v := lookup(payload, path...); v != "" {
			p.UserID = v
			break
		}
	}

	if raw := lookupAny(payload, "expires_at", "token_expires_at"); raw != "" {
		if t, ok := parseTime(raw); ok {
			p.TokenExpiresAt = &t
		}
	}
	if raw := lookupAny(payload, "expires_in"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			p.ExpiresIn = time.Duration(secs * float64(time.Second))
		}
	}

	if data, ok := payload["data"].(map[string]any); ok {
		p.UserData = userData(data)
	} else if data, ok := payload["user_data"].(map[string]any); ok {
		p.UserData = userData(data)
	}

	return p
}

// lookupAny tries each key top-level, then under the data wrapper
func lookupAny(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := lookup(payload, key); v != "" {
			return v
		}
		if v := lookup(payload, "data", key); v != "" {
			return v
		}
	}
	return ""
}

func lookup(payload map[string]any, path ...string) string {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[key]
		if !ok {
			return ""
		}
	}
	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case nil:
		return ""
	case map[string]any, []any, bool:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func parseTime(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.ParseInLocation(kiteTimeLayout, raw, ist); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func userData(data map[string]any) json.RawMessage {
	clean := make(map[string]any, len(data))
	for k, v := range data {
		if sensitiveKeys[k] {
			continue
		}
		clean[k] = v
	}
	if len(clean) == 0 {
		return nil
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil
	}
	return raw
}
