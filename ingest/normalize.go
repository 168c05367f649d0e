package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"warden/core"
	"warden/util"
)

const maxFieldLength = 4096

// Field lookup order for Okta System Log records and flat key=value records
var (
	userPaths      = []string{"actor.alternateId", "user", "actor"}
	ipPaths        = []string{"client.ipAddress", "request.ipChain.0.ip", "ip"}
	countryPaths   = []string{"client.geographicalContext.country", "request.ipChain.0.geographicalContext.country", "country"}
	outcomePaths   = []string{"outcome.result", "result"}
	timestampPaths = []string{"published", "eventTime", "time", "timestamp"}
	eventTypePaths = []string{"eventType", "type"}
	messagePaths   = []string{"displayMessage", "message", "msg"}
)

var (
	epochMillis  = regexp.MustCompile(`^\d{13}$`)
	epochSeconds = regexp.MustCompile(`^\d{10}$`)
)

// isoLayouts are tried in order for string timestamps
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Normalize maps a raw provider record onto a core.Event.
// Fields that cannot be found are left empty.
func Normalize(raw map[string]interface{}) core.Event {
	evt := core.Event{
		EventType: firstString(raw, eventTypePaths),
		Message:   firstString(raw, messagePaths),
		User:      firstString(raw, userPaths),
		IP:        firstString(raw, ipPaths),
		Country:   firstString(raw, countryPaths),
		Outcome:   core.ParseOutcome(firstString(raw, outcomePaths)),
		Raw:       raw,
	}
	for _, p := range timestampPaths {
		v, ok := deepGet(raw, p)
		if !ok {
			continue
		}
		if ts, ok := ParseTimestamp(v); ok {
			evt.Timestamp = ts
		}
		break
	}
	return evt
}

// ParseTimestamp accepts epoch milliseconds (13 digits), epoch seconds (10 digits)
// and ISO-8601 strings with or without a zone. Zoneless times are UTC.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case nil:
		return time.Time{}, false
	}

	s := strings.TrimSpace(scalarString(v))
	if s == "" {
		return time.Time{}, false
	}

	switch {
	case epochMillis.MatchString(s):
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	case epochSeconds.MatchString(s):
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(sec, 0).UTC(), true
	}

	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// deepGet resolves a dotted path with numeric list indices.
// At each level a literal dotted key wins, so flat key=value records resolve too.
func deepGet(obj interface{}, path string) (interface{}, bool) {
	cur := obj
	rest := path
	for rest != "" {
		if m, ok := cur.(map[string]interface{}); ok {
			if v, ok := m[rest]; ok && v != nil {
				return v, true
			}
		}

		part := rest
		if i := strings.IndexByte(rest, '.'); i >= 0 {
			part, rest = rest[:i], rest[i+1:]
		} else {
			rest = ""
		}

		switch node := cur.(type) {
		case map[string]interface{}:
			cur = node[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// firstString returns the first non-empty scalar found along paths
func firstString(raw map[string]interface{}, paths []string) string {
	for _, p := range paths {
		v, ok := deepGet(raw, p)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(scalarString(v)); s != "" {
			return util.Truncate(s, maxFieldLength)
		}
	}
	return ""
}

// scalarString renders strings and numbers; containers render empty
func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
