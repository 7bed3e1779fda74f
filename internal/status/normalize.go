package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// Normalize decodes a raw status payload into events.
//
// Accepted shapes:
//   - [["name","email","label","timestamp"], ...] (tuples of 1 to 4 entries)
//   - [{"name":..,"email":..,"label":..,"timestamp":..}, ...]
//   - ["label", ...] and a bare "label"
//   - {"status": <any of the above>}, {"events": [...]}, {"values": [...]}
//
// Anything else (null, garbage, numbers) yields no events.
func Normalize(raw []byte) []approval.StatusEvent {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil
	}
	return normalizeValue(decoded, 0)
}

// maxDepth bounds wrapper-object recursion.
const maxDepth = 4

func normalizeValue(v any, depth int) []approval.StatusEvent {
	if depth > maxDepth {
		return nil
	}
	switch val := v.(type) {
	case string:
		if label := strings.TrimSpace(val); label != "" {
			return []approval.StatusEvent{{Label: label}}
		}
		return nil
	case []any:
		var events []approval.StatusEvent
		for _, item := range val {
			if ev, ok := normalizeItem(item); ok {
				events = append(events, ev)
			}
		}
		return events
	case map[string]any:
		for _, key := range []string{"events", "values"} {
			if inner, ok := val[key]; ok {
				return normalizeValue(inner, depth+1)
			}
		}
		if inner, ok := val["status"]; ok && !hasRecipient(val) {
			return normalizeValue(inner, depth+1)
		}
		if ev, ok := eventFromObject(val); ok {
			return []approval.StatusEvent{ev}
		}
		return nil
	default:
		return nil
	}
}

func normalizeItem(item any) (approval.StatusEvent, bool) {
	switch val := item.(type) {
	case string:
		label := strings.TrimSpace(val)
		return approval.StatusEvent{Label: label}, label != ""
	case []any:
		return eventFromTuple(val)
	case map[string]any:
		return eventFromObject(val)
	default:
		return approval.StatusEvent{}, false
	}
}

// eventFromTuple reads [name, email, label, timestamp]. Shorter tuples drop
// fields from the front: [email, label] and [label].
func eventFromTuple(tuple []any) (approval.StatusEvent, bool) {
	fields := make([]string, len(tuple))
	for i, f := range tuple {
		fields[i] = scalarString(f)
	}

	var ev approval.StatusEvent
	switch {
	case len(fields) >= 3:
		ev.RecipientName = fields[0]
		ev.RecipientEmail = fields[1]
		ev.Label = fields[2]
		if len(fields) >= 4 {
			ev.Timestamp = parseTimestamp(tuple[3])
		}
	case len(fields) == 2:
		ev.RecipientEmail = fields[0]
		ev.Label = fields[1]
	case len(fields) == 1:
		ev.Label = fields[0]
	default:
		return ev, false
	}
	return ev, ev.Label != "" || ev.RecipientEmail != "" || ev.RecipientName != ""
}

func eventFromObject(obj map[string]any) (approval.StatusEvent, bool) {
	ev := approval.StatusEvent{
		RecipientName:  firstString(obj, "name", "recipient_name", "recipientName", "recipient"),
		RecipientEmail: firstString(obj, "email", "recipient_email", "recipientEmail"),
		Label:          firstString(obj, "label", "status", "state"),
	}
	for _, key := range []string{"timestamp", "time", "date", "updated_at"} {
		if ts, ok := obj[key]; ok {
			ev.Timestamp = parseTimestamp(ts)
			break
		}
	}
	return ev, ev.Label != "" || ev.RecipientEmail != "" || ev.RecipientName != ""
}

func hasRecipient(obj map[string]any) bool {
	return firstString(obj, "name", "recipient_name", "recipientName", "recipient",
		"email", "recipient_email", "recipientEmail") != ""
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return ""
	}
}

// parseTimestamp accepts RFC 3339 strings, "2006-01-02 15:04:05" strings and
// Unix epoch milliseconds. Unparseable values yield the zero time.
func parseTimestamp(v any) time.Time {
	switch val := v.(type) {
	case json.Number:
		if ms, err := val.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

// Describe renders events for logs: "name <email>: label" joined by "; ".
func Describe(events []approval.StatusEvent) string {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		who := ev.RecipientEmail
		if ev.RecipientName != "" {
			who = fmt.Sprintf("%s <%s>", ev.RecipientName, ev.RecipientEmail)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", who, ev.Label))
	}
	return strings.Join(parts, "; ")
}
