// Package message defines the unit of flow through a route.
//
// A Message is a mapping from string keys to dynamically typed values
// (string, number, boolean, array, nested map, raw bytes). Every message
// carries at minimum the metadata keys "timestamp" (ISO-8601 UTC), "source"
// (URI of the originating endpoint), and "route" (route name). All other
// keys come from the source or are added by processors.
//
// Messages are immutable by contract: a processor must not mutate the
// message it receives. Derived messages are produced with Clone followed by
// Set, so no processor observes a prior processor's post-state.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known metadata keys present on every message.
const (
	KeyID        = "id"
	KeyTimestamp = "timestamp"
	KeySource    = "source"
	KeyRoute     = "route"
	KeyBody      = "body"
)

// Message is the unit of flow through a route.
type Message struct {
	fields map[string]any
}

// New creates a message carrying the standard metadata keys. The timestamp
// is the current time in UTC.
func New(route, source string) *Message {
	return &Message{fields: map[string]any{
		KeyID:        uuid.NewString(),
		KeyTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		KeySource:    source,
		KeyRoute:     route,
	}}
}

// FromFields creates a message from an existing field map. The map is copied;
// the caller keeps ownership of its argument. Metadata keys are preserved if
// present and left absent otherwise.
func FromFields(fields map[string]any) *Message {
	m := &Message{fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		m.fields[k] = v
	}
	return m
}

// ID returns the unique identifier of this message, or "" if absent.
func (m *Message) ID() string { return m.stringField(KeyID) }

// Route returns the owning route name.
func (m *Message) Route() string { return m.stringField(KeyRoute) }

// Source returns the URI of the originating endpoint.
func (m *Message) Source() string { return m.stringField(KeySource) }

// Timestamp returns the message timestamp, or the zero time if absent or
// malformed.
func (m *Message) Timestamp() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, m.stringField(KeyTimestamp))
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Get returns the value stored under key.
func (m *Message) Get(key string) (any, bool) {
	v, ok := m.fields[key]
	return v, ok
}

// String returns the value under key rendered as a string. Numbers and
// booleans are stringified; absent keys return "".
func (m *Message) String(key string) string {
	v, ok := m.fields[key]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Float returns the numeric value under key. The second return is false when
// the key is absent or not a number.
func (m *Message) Float(key string) (float64, bool) {
	switch v := m.fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns the boolean value under key.
func (m *Message) Bool(key string) (bool, bool) {
	b, ok := m.fields[key].(bool)
	return b, ok
}

// Body returns the "body" field rendered as a string.
func (m *Message) Body() string { return m.String(KeyBody) }

// Len returns the number of fields.
func (m *Message) Len() int { return len(m.fields) }

// Keys returns all field keys in unspecified order.
func (m *Message) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for k := range m.fields {
		keys = append(keys, k)
	}
	return keys
}

// Fields returns a shallow copy of the field map.
func (m *Message) Fields() map[string]any {
	out := make(map[string]any, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// Clone returns a message with a copied field map. Nested values are shared;
// processors treat values as read-only so sharing is safe.
func (m *Message) Clone() *Message {
	return FromFields(m.fields)
}

// Set stores a value under key and returns the message for chaining.
// Only call Set on messages this caller owns (freshly created or cloned).
func (m *Message) Set(key string, value any) *Message {
	m.fields[key] = value
	return m
}

// Delete removes a key.
func (m *Message) Delete(key string) { delete(m.fields, key) }

// MarshalJSON encodes the field map as a single JSON object.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.fields)
}

// UnmarshalJSON decodes a JSON object into the field map.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	m.fields = fields
	return nil
}

// Render returns the bytes a sink delivers: the "body" field when one is
// set, otherwise the whole message as a JSON object.
func (m *Message) Render() []byte {
	if v, ok := m.fields[KeyBody]; ok {
		return []byte(Stringify(v))
	}
	data, err := json.Marshal(m.fields)
	if err != nil {
		return []byte(fmt.Sprintf("%v", m.fields))
	}
	return data
}

// Stringify renders a dynamic value the way sinks and templates present it:
// strings verbatim, numbers without a trailing exponent where possible,
// composites as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		// JSON decoding produces float64 for every number; render integral
		// values without a decimal point.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case float32:
		return Stringify(float64(t))
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

func (m *Message) stringField(key string) string {
	s, _ := m.fields[key].(string)
	return s
}
