package envelope

import (
	"bytes"
	"encoding/json"
	"time"
)

// DefaultVersion is the envelope/payload contract version stamped on new events.
const DefaultVersion = "1.0.0"

// TimestampLayout renders millisecond UTC timestamps ("2024-05-01T10:00:00.123Z").
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is the signed unit of communication on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Version   string         `json:"version"`
	Signature string         `json:"signature"`
}

// Time parses the event timestamp. The zero time is returned when malformed.
func (e *Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Clone returns a copy whose Data map can be modified without touching e.
func (e *Event) Clone() *Event {
	c := *e
	if e.Data != nil {
		c.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Marshal encodes the event as stored on a stream.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals the payload into v (typically one of the schema structs).
func (e *Event) Decode(v any) error {
	b, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// canonical is the signed projection of an Event; field order is fixed.
type canonical struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Version   string         `json:"version"`
}

func canonicalBytes(e *Event) ([]byte, error) {
	return json.Marshal(canonical{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Data:      e.Data,
		Version:   e.Version,
	})
}

// normalizeData converts any JSON-object-shaped value into the map form used
// on the wire, decoding numbers as json.Number so that a parsed event
// re-serializes byte-for-byte like the one that was signed.
func normalizeData(data any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return decodeObject(b)
}

func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errNotObject
	}
	return m, nil
}
