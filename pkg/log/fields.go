package log

import (
	"time"
)

// Field is a single structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a field with an arbitrary value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str creates a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Dur creates a duration field rendered as a string (e.g. "1.5s").
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }

// Any is an alias of F kept for readability at call sites.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Err creates an "error" field. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags an entry with the emitting component.
func Component(name string) Field { return Field{Key: string(ComponentKey), Value: name} }

// Topic, Group and EventID are shorthands for the keys used across the bus.
func Topic(name string) Field    { return Field{Key: "topic", Value: name} }
func Group(name string) Field    { return Field{Key: "group", Value: name} }
func EventID(id string) Field    { return Field{Key: string(EventIDKey), Value: id} }
func EntryID(id string) Field    { return Field{Key: "entry_id", Value: id} }
func Consumer(name string) Field { return Field{Key: "consumer", Value: name} }
